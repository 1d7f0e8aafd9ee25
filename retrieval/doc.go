// Copyright 2025-2026 RuleFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package retrieval 提供合规规则语料的混合检索核心。

给定一段临床文档文本，检索引擎从规则语料中找出最相关的合规规则：
密集语义检索（向量余弦相似度）与稀疏词法检索（BM25）并行执行，
两路结果经归一化加权融合为一个最终排名列表。

# 核心接口/类型

  - Engine — 检索引擎，统一查询入口与索引变更入口（Query / IndexRule / RemoveRule）
  - DenseIndex — 精确余弦相似度向量索引（Insert / Delete / Search）
  - SparseIndex — 增量维护的 BM25 词法索引（Insert / Delete / Search）
  - Normalizer — 查询与文档的统一预处理（小写、空白折叠、临床缩写扩展）
  - Fuse — Min-Max 归一化 + 可配置权重的结果融合
  - Embedder — 嵌入提供者的最小能力接口，具体实现见 embedding 包

# 主要能力

  - 混合检索：BM25 + 向量检索，按查询独立归一化后加权融合
  - 降级查询：嵌入提供者不可用时自动退化为纯稀疏检索，结果带 Degraded 标记
  - 同步不变量：两个索引的规则 ID 集合始终一致，变更失败自动回滚
  - 确定性排序：分数相同的候选按规则 ID 升序打破平局
*/
package retrieval
