// Package codec 定义值编解码器，负责应用层的值与字节序列之间的转换
package codec

// Codec 是值编解码器的抽象接口
//
// Encode 直接返回编码后的字节数，不在实例上保存"上一次编码的大小"，
// 因此同一个 Codec 可以被多个调用方复用
type Codec[T any] interface {
	// Encode 将值编码为字节切片
	// 返回：
	//   - []byte: 编码结果
	//   - int: 编码后的字节数
	//   - error: 编码失败时返回 *storage.CodecError
	Encode(value T) ([]byte, int, error)

	// Decode 将字节切片解码为值
	// 返回：
	//   - T: 解码结果
	//   - error: 解码失败时返回 *storage.CodecError
	Decode(data []byte) (T, error)
}

// Name 返回编解码器的名称（用于日志）
func Name[T any](c Codec[T]) string {
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}
