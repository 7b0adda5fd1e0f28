// Package biz 提供 RAG 服务的业务逻辑层。
//
// 组件自底向上：
//   - Chunker: 按句子切分文档并生成重叠分块
//   - VectorIndex: 保存分块向量并按距离排序检索
//   - ResultCache: 带 TTL 和容量上限的答案缓存
//   - QueryPipeline: 缓存 → 检索 → 生成 → 写缓存
//   - Engine: 组合以上组件，是请求处理器和任务执行器共享的上下文对象
package biz
