package embedding

import "context"

// Request 表示生成嵌入的请求.
type Request struct {
	Input     []string  `json:"input"`                // Text inputs to embed
	Model     string    `json:"model,omitempty"`      // Model override
	InputType InputType `json:"input_type,omitempty"` // query or document
}

// InputType 指定嵌入优化的输入类型.
type InputType string

const (
	InputTypeQuery    InputType = "query"    // For search queries
	InputTypeDocument InputType = "document" // For documents to be indexed
)

// Response 表示嵌入请求的响应.
type Response struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Embeddings []Data `json:"embeddings"`
	Usage      Usage  `json:"usage"`
}

// Data 表示单个嵌入结果.
type Data struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

// Usage 表示嵌入请求的 Token 用量.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Provider 定义统一的嵌入提供者接口.
// 对固定模型版本，同一文本的嵌入是确定的（浮点求和顺序级别的
// 差异除外），调用方不应依赖字节级可复现性。
type Provider interface {
	// Embed 为给定输入生成嵌入.
	Embed(ctx context.Context, req *Request) (*Response, error)

	// EmbedQuery 是嵌入单个查询的便捷方法.
	EmbedQuery(ctx context.Context, query string) ([]float64, error)

	// EmbedDocuments 是嵌入多个文档的便捷方法，支持批量.
	EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error)

	// Name 返回提供者名称.
	Name() string

	// Model 返回未在请求中显式指定时生效的模型名.
	Model() string

	// Dimensions 返回默认嵌入维度.
	Dimensions() int

	// MaxBatchSize 返回支持的最大批量大小.
	MaxBatchSize() int
}
