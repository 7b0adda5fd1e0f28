// Package task 实现异步任务编排：提交、状态查询、取消和 worker 执行。
//
// 任务状态机：PENDING → PROGRESS → SUCCESS | FAILURE。状态记录保存在
// StateBackend 中，所有写入通过 Update 原子完成；任务消息经 Broker 投递，
// Worker 从 Broker 取出消息并在 ants 协程池中执行。
//
// 任务逻辑只通过 Reporter 上报进度，Reporter 同时承担取消检查点，
// 编排层与检索流水线互不依赖。
package task
