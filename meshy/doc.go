// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package meshy 封装 Meshy OpenAPI 的任务接口：创建、查询、下载。

# 概述

三类远端任务共享同一套请求/响应约定：

  - generation — POST /openapi/v1/image-to-3d（1 张图）或
    /openapi/v1/multi-image-to-3d（2–4 张图），图片以 base64 data URI 内嵌
  - rigging    — POST /openapi/v1/rigging
  - animation  — POST /openapi/v1/animations

创建接口返回 {"result": "<id>"} 或 {"id": "<id>"}；状态查询为
GET <endpoint>/<id>。所有请求都带 Authorization: Bearer <token>。

# 核心类型

  - Client    — 共享连接池的 HTTP 任务客户端（可选限速与重试）
  - Task      — 任务快照：状态、进度、原始载荷
  - TaskRef   — 任务类型 + 端点 + ID
  - Poller    — 轮询直到终态或超时
*/
package meshy
