// Copyright 2025-2026 RuleFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package embedding 提供统一的嵌入提供者接口和实现。

检索引擎只依赖 Provider 接口（能力接口），不依赖任何具体模型后端，
替换模型或注入测试桩都不触及融合逻辑。

# 实现

  - HTTPProvider — OpenAI 兼容 /embeddings 端点，内置限流与超长输入截断
  - CachedProvider — 在任意 Provider 之上叠加显式缓存（LRU 或 Redis）
  - LRUCache / RedisCache — 两种缓存后端，生命周期由构造方显式管理

提供者失败统一映射为 retrieval.ErrEmbeddingUnavailable，
由引擎降级为纯稀疏检索。
*/
package embedding
