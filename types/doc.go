// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 meshypipe 各层共享的错误类型。

# 概述

流水线只有一种错误：*Error。它携带错误码、可读消息、可选的 HTTP 状态码
与底层原因，cmd 层统一以 "ERROR: " 前缀打印并以退出码 1 结束进程。

# 错误码

  - ErrInvalidInput       — 图片数量/路径、动作映射语法、参数取值错误
  - ErrMissingCredential  — 未在指定环境变量中找到 API Key
  - ErrUpstream           — 远端返回 4xx/5xx
  - ErrInvalidResponse    — 非 JSON 响应或缺少预期字段
  - ErrTaskFailed         — 任务以 FAILED / CANCELED 终止
  - ErrPollTimeout        — 轮询超时
  - ErrIO                 — 本地文件读写失败
  - ErrCanceled           — 上下文被取消（SIGINT / SIGTERM）
*/
package types
