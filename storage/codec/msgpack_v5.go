package codec

import (
	"bytes"

	"github.com/forever-free1/SlotKV/storage"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackV5 是基于 vmihailenco/msgpack 的编解码器
// 编码器和解码器从库自带的对象池中获取，结构体字段使用 `msgpack:"name"` 标签
type MsgpackV5[T any] struct{}

// NewMsgpackV5 创建一个新的 MsgpackV5 编解码器
func NewMsgpackV5[T any]() *MsgpackV5[T] {
	return &MsgpackV5[T]{}
}

// Encode 将值编码为 msgpack 字节
// map 的键按顺序编码，保证相同的值得到相同的字节
func (c *MsgpackV5[T]) Encode(value T) ([]byte, int, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(value)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, 0, storage.NewCodecError("encode", value, err)
	}
	return buf.Bytes(), buf.Len(), nil
}

// Decode 从 msgpack 字节解码出值
func (c *MsgpackV5[T]) Decode(data []byte) (T, error) {
	var value T
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(data))
	err := dec.Decode(&value)
	msgpack.PutDecoder(dec)
	if err != nil {
		var zero T
		return zero, storage.NewCodecError("decode", value, err)
	}
	return value, nil
}

// Name 返回编解码器名称
func (c *MsgpackV5[T]) Name() string { return "msgpack5" }

var _ Codec[any] = (*MsgpackV5[any])(nil)
