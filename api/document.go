// Package api 定义 HTTP 接口存入存储的值类型
package api

// Document 是通过 HTTP 接口写入的值
// 请求体原样保存在 Body 中，GET 时按 ContentType 返回
type Document struct {
	ContentType string `codec:"ct" msgpack:"ct" json:"content_type"`
	Body        []byte `codec:"body" msgpack:"body" json:"body"`
	UpdatedAt   int64  `codec:"ts" msgpack:"ts" json:"updated_at"` // Unix 纳秒
}
