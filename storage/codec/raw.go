package codec

import "bytes"

// Raw 是字节切片的恒等编解码器
// 编码结果就是值本身的副本，编码长度等于值的字节数
type Raw struct{}

// Encode 返回 value 的副本
// 返回：
//   - []byte: value 的副本
//   - int: len(value)
//   - error: 总是 nil
func (Raw) Encode(value []byte) ([]byte, int, error) {
	return bytes.Clone(value), len(value), nil
}

// Decode 返回 data 的副本，调用方可以自由修改结果
// 返回：
//   - []byte: data 的副本
//   - error: 总是 nil
func (Raw) Decode(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}

// Name 返回编解码器的名称
func (Raw) Name() string { return "raw" }

var _ Codec[[]byte] = Raw{}
