// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 meshypipe 命令行程序入口。

# 概述

cmd/meshypipe 把参考图交给 Meshy 生成 3D 模型，轮询任务直到终态并下载
GLB；可选地继续绑骨并为每个动作生成动画。程序支持 YAML 配置文件、
.env 文件、MESHYPIPE_ 前缀环境变量与命令行参数分层覆盖，结构化日志
（zap）、Prometheus textfile 指标以及 OpenTelemetry 链路追踪。

# 退出码

  - 0: 成功，或 --dry-run / --version / --help
  - 1: 任何流水线错误，以 "ERROR: " 前缀打印到 stderr
  - 2: 命令行参数语法错误

# 主要能力

  - --dry-run：只做校验并打印计划，不发起任何 Meshy API 调用
  - SIGINT / SIGTERM 取消运行上下文，在途请求与轮询等待立即中止
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
