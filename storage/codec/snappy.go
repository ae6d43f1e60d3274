package codec

import (
	"github.com/forever-free1/SlotKV/storage"
	"github.com/golang/snappy"
)

// Snappy 在任意编解码器外层套一层 snappy 压缩
// 对文本较多的值可以明显减小槽位大小
type Snappy[T any] struct {
	inner Codec[T]
}

// NewSnappy 创建压缩包装器
// 参数：
//   - inner: 实际负责序列化的编解码器
func NewSnappy[T any](inner Codec[T]) *Snappy[T] {
	return &Snappy[T]{inner: inner}
}

// Encode 先序列化再压缩
func (c *Snappy[T]) Encode(value T) ([]byte, int, error) {
	raw, _, err := c.inner.Encode(value)
	if err != nil {
		return nil, 0, err
	}
	out := snappy.Encode(nil, raw)
	return out, len(out), nil
}

// Decode 先解压再反序列化
func (c *Snappy[T]) Decode(data []byte) (T, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		var zero T
		return zero, storage.NewCodecError("decode", zero, err)
	}
	return c.inner.Decode(raw)
}

// Name 返回编解码器名称
func (c *Snappy[T]) Name() string { return "snappy+" + Name(c.inner) }

var _ Codec[any] = (*Snappy[any])(nil)
