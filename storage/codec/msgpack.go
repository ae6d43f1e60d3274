package codec

import (
	"github.com/forever-free1/SlotKV/storage"
	"github.com/hashicorp/go-msgpack/v2/codec"
)

// Msgpack 是基于 hashicorp/go-msgpack 的编解码器，也是默认实现
// 结构体字段使用 `codec:"name"` 标签
type Msgpack[T any] struct {
	handle *codec.MsgpackHandle
}

// NewMsgpack 创建一个新的 Msgpack 编解码器
func NewMsgpack[T any]() *Msgpack[T] {
	h := &codec.MsgpackHandle{}
	// []byte 使用 bin 类型编码，字符串解码为 string
	h.WriteExt = true
	h.RawToString = true
	return &Msgpack[T]{handle: h}
}

// Encode 将值编码为 msgpack 字节
func (c *Msgpack[T]) Encode(value T) ([]byte, int, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, c.handle)
	if err := enc.Encode(value); err != nil {
		return nil, 0, storage.NewCodecError("encode", value, err)
	}
	return buf, len(buf), nil
}

// Decode 从 msgpack 字节解码出值
func (c *Msgpack[T]) Decode(data []byte) (T, error) {
	var value T
	dec := codec.NewDecoderBytes(data, c.handle)
	if err := dec.Decode(&value); err != nil {
		var zero T
		return zero, storage.NewCodecError("decode", value, err)
	}
	return value, nil
}

// Name 返回编解码器名称
func (c *Msgpack[T]) Name() string { return "msgpack" }

var _ Codec[any] = (*Msgpack[any])(nil)
