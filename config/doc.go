// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package config 提供 meshypipe 的分层配置加载。

# 概述

配置优先级：默认值 → YAML 文件 → .env 文件 → 环境变量（前缀 MESHYPIPE_）→
命令行参数（由 cmd 层覆盖）。默认值与原始脚本的参数默认值一致。

# 核心类型

  - Config          — 完整配置（Meshy / Poll / HTTP / Log / Telemetry / Metrics）
  - Loader          — Builder 模式加载器
  - DefaultConfig   — 全部默认值
*/
package config
