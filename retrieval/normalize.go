package retrieval

import "strings"

// Normalizer 查询/文档预处理器：小写化、空白折叠、临床缩写扩展。
//
// 扩展表在构造时固化，Normalize 是纯函数；同一输入在引擎的嵌入路径
// 与分词路径上只做一次归一化，保证两个索引看到一致的文本。
type Normalizer struct {
	expansions map[string]string
}

// NewNormalizer 创建归一化器；expansions 的键不区分大小写。
func NewNormalizer(expansions map[string]string) *Normalizer {
	table := make(map[string]string, len(expansions))
	for k, v := range expansions {
		table[strings.ToLower(k)] = strings.ToLower(v)
	}
	return &Normalizer{expansions: table}
}

// DefaultExpansions 返回治疗文档领域的常见缩写扩展表。
// 实际部署通常从配置加载机构自己的扩展表覆盖。
func DefaultExpansions() map[string]string {
	return map[string]string{
		"pt":  "physical therapy",
		"ot":  "occupational therapy",
		"slp": "speech language pathology",
		"poc": "plan of care",
		"rom": "range of motion",
		"adl": "activities of daily living",
		"hep": "home exercise program",
		"loe": "level of evidence",
		"soc": "start of care",
	}
}

// Normalize 返回归一化后的文本：小写、连续空白折叠为单个空格、
// 按词边界展开缩写。标点保留（稀疏分词器自行处理），扩展只匹配
// 去除首尾标点后的完整词条。
func (n *Normalizer) Normalize(raw string) string {
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 0 {
		return ""
	}

	out := make([]string, 0, len(fields))
	for _, field := range fields {
		core := strings.Trim(field, ".,;:!?()[]{}\"'")
		if expanded, ok := n.expansions[core]; ok && core != "" {
			// 保留词条两侧的标点，替换中间的缩写本体
			prefix := field[:strings.Index(field, core)]
			suffix := field[strings.Index(field, core)+len(core):]
			out = append(out, prefix+expanded+suffix)
			continue
		}
		out = append(out, field)
	}

	return strings.Join(out, " ")
}
