// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package metrics 提供流水线运行期的 Prometheus 指标收集。

# 概述

CLI 是短生命周期进程，不暴露 /metrics 端口。Collector 使用私有 Registry，
运行结束后可通过 WriteTextfile 写出 node_exporter textfile 格式，供
textfile collector 采集。nil *Collector 上的所有 Record 方法均为空操作。

# 指标

  - http_requests_total / http_request_duration_seconds: 按 method、endpoint、status 分类
  - tasks_created_total: 按任务类型
  - task_polls_total: 每次状态查询
  - tasks_finished_total / task_duration_seconds: 按任务类型与终态
  - download_bytes_total / downloads_total: 按任务类型
  - pipeline_stage_transitions_total: 状态机迁移
*/
package metrics
