// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package pipeline 实现 meshypipe 的编排流程：输入校验、动作映射合并、
状态机驱动与清单写出。

# 概述

流程严格线性，一次只有一个网络调用在途：

	GENERATE → POLL_GENERATE → DOWNLOAD_BASE
	  → [RIG → POLL_RIG → DOWNLOAD_RIG]
	  → [每个动作: ANIMATE → POLL_ANIMATE → DOWNLOAD_ANIM]
	  → WRITE_MANIFEST → DONE

任何轮询阶段得到非 SUCCEEDED 终态都会立即中止整个流程，已下载的文件
保留在磁盘上，但不会写出清单。

# 核心类型

  - Options / Plan  — 命令行输入与校验后的执行计划
  - ActionMap       — 有序、键唯一的 clip → action_id 映射
  - Driver          — 状态机驱动
  - Manifest        — 任务 ID 与下载路径的记录
*/
package pipeline
