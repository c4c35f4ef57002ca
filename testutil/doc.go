// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 meshypipe 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext（自动注册 Cleanup）/ CancelledContext
  - 文件辅助: WriteImages / WriteFile / ReadJSONFile
  - 断言工具: AssertJSONEqual
  - 环境辅助: Env 构造可注入的 getenv

# 子包

  - testutil/mocks: 基于 httptest 的 Meshy API 模拟服务，支持脚本化任务
    状态、错误注入与调用计数

# 使用示例

	srv := mocks.NewMeshyServer(t).WithRiggingStatuses("IN_PROGRESS", "SUCCEEDED")
	client := meshy.NewClient(meshy.ClientConfig{BaseURL: srv.URL(), APIKey: mocks.APIKey})
	ctx := testutil.TestContext(t)
*/
package testutil
