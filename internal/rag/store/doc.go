// Package store 提供 RAG 服务的存储层。
//
// VectorBackend 保存分块向量及其元数据，CacheStore 持久化答案缓存记录。
// 两者都有内存实现和外部实现（Milvus、Redis）。
package store
