// Copyright 2025-2026 RuleFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package corpus 提供合规规则语料的持久化存储（SQLite + GORM）。

Store 是规则存在性与原文的唯一事实来源；两个检索索引的内容
总是可以在启动时经 LoadAll 从语料表重建，索引本身不持久化。

每次变更在落库后同步传播到 Indexer（由检索引擎实现）；
传播失败时语料回滚到变更前状态，不留下半更新的规则。
*/
package corpus
