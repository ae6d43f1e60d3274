package slotstore

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/forever-free1/SlotKV/storage"
	"github.com/forever-free1/SlotKV/storage/codec"
)

// DataFile 表示存放记录槽位的数据文件
// 支持按偏移量读写和扩展文件，值的编解码委托给 Codec
//
// DataFile 独占底层文件句柄，不做任何加锁，调用方负责串行访问
type DataFile[T any] struct {
	path  string         // 文件路径
	codec codec.Codec[T] // 值编解码器
	file  *os.File       // 底层文件句柄，未打开时为 nil
	size  int64          // 当前文件长度
}

// NewDataFile 创建一个未打开的数据文件
// 参数：
//   - path: 文件路径
//   - c: 值编解码器
func NewDataFile[T any](path string, c codec.Codec[T]) *DataFile[T] {
	return &DataFile[T]{path: path, codec: c}
}

// Open 打开或创建数据文件，并加排他锁
// 重复调用是安全的
func (df *DataFile[T]) Open() error {
	if df.file != nil {
		return nil
	}

	// 读写模式打开，不存在则创建；不使用 O_APPEND，写入位置由调用方指定
	file, err := os.OpenFile(df.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("打开数据文件失败: %w", err)
	}

	if err := lockFile(file); err != nil {
		file.Close()
		return fmt.Errorf("锁定数据文件 %s 失败: %w", df.path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		unlockFile(file)
		file.Close()
		return fmt.Errorf("获取文件状态失败: %w", err)
	}

	df.file = file
	df.size = stat.Size()
	return nil
}

// Close 同步并关闭数据文件
func (df *DataFile[T]) Close() error {
	if df.file == nil {
		return nil
	}

	syncErr := df.file.Sync()
	unlockFile(df.file)
	closeErr := df.file.Close()
	df.file = nil

	if syncErr != nil {
		return fmt.Errorf("关闭前同步数据失败: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("关闭文件失败: %w", closeErr)
	}
	return nil
}

// IsOpen 检查文件是否已打开
func (df *DataFile[T]) IsOpen() bool {
	return df.file != nil
}

// Path 返回文件路径
func (df *DataFile[T]) Path() string {
	return df.path
}

// Length 返回当前文件长度（字节）
func (df *DataFile[T]) Length() (int64, error) {
	if df.file == nil {
		return 0, ErrNotOpen
	}
	return df.size, nil
}

// Grow 确保文件长度至少为 size 字节，已经足够大时不做任何事
// 新增部分的内容由操作系统决定
func (df *DataFile[T]) Grow(size int64) error {
	if df.file == nil {
		return ErrNotOpen
	}
	if size <= df.size {
		return nil
	}
	if err := df.file.Truncate(size); err != nil {
		return &IOError{Op: "grow", Path: df.path, Offset: df.size, Size: size - df.size, Err: err}
	}
	df.size = size
	return nil
}

// Encode 使用编解码器编码值
// 返回：
//   - []byte: 编码结果
//   - error: 编码失败或结果超过 4GB 时返回 *storage.CodecError
func (df *DataFile[T]) Encode(value T) ([]byte, error) {
	data, size, err := df.codec.Encode(value)
	if err != nil {
		return nil, err
	}
	if uint64(size) > math.MaxUint32 {
		return nil, storage.NewCodecError("encode", value, fmt.Errorf("encoded size %d exceeds 4GB", size))
	}
	return data, nil
}

// WriteValue 编码 value 并写入 offset 处
// 返回：
//   - int: 写入的字节数
//   - error: 编码错误或 *IOError
func (df *DataFile[T]) WriteValue(value T, offset int64) (int, error) {
	if df.file == nil {
		return 0, ErrNotOpen
	}
	data, err := df.Encode(value)
	if err != nil {
		return 0, err
	}
	return df.WriteBytes(data, offset)
}

// WriteBytes 把已编码的字节写入 offset 处
func (df *DataFile[T]) WriteBytes(data []byte, offset int64) (int, error) {
	if df.file == nil {
		return 0, ErrNotOpen
	}
	if offset < 0 {
		return 0, &IOError{Op: "write", Path: df.path, Offset: offset, Size: int64(len(data)), Err: os.ErrInvalid}
	}

	n, err := df.file.WriteAt(data, offset)
	// 部分写入同样会改变文件长度
	if end := offset + int64(n); end > df.size {
		df.size = end
	}
	if err != nil {
		return n, &IOError{Op: "write", Path: df.path, Offset: offset, Size: int64(len(data)), Err: err}
	}
	return n, nil
}

// ReadValue 从 offset 处读取恰好 size 字节并解码
func (df *DataFile[T]) ReadValue(offset int64, size uint32) (T, error) {
	data, err := df.ReadBytes(offset, size)
	if err != nil {
		var zero T
		return zero, err
	}
	return df.codec.Decode(data)
}

// ReadBytes 从 offset 处读取恰好 size 字节
// 读到文件末尾仍不足 size 字节时返回 io.ErrUnexpectedEOF
func (df *DataFile[T]) ReadBytes(offset int64, size uint32) ([]byte, error) {
	if df.file == nil {
		return nil, ErrNotOpen
	}

	data := make([]byte, size)
	n, err := df.file.ReadAt(data, offset)
	if n == len(data) {
		// ReadAt 在恰好读到末尾时可能同时返回 io.EOF
		return data, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, &IOError{Op: "read", Path: df.path, Offset: offset, Size: int64(size), Err: err}
}

// Truncate 把文件截断到 size 字节
// 仅用于写入失败后丢弃末尾的残缺数据
func (df *DataFile[T]) Truncate(size int64) error {
	if df.file == nil {
		return ErrNotOpen
	}
	if err := df.file.Truncate(size); err != nil {
		return &IOError{Op: "truncate", Path: df.path, Offset: size, Err: err}
	}
	df.size = size
	return nil
}

// Sync 将缓冲区中的数据同步到磁盘
func (df *DataFile[T]) Sync() error {
	if df.file == nil {
		return ErrNotOpen
	}
	if err := df.file.Sync(); err != nil {
		return fmt.Errorf("同步数据到磁盘失败: %w", err)
	}
	return nil
}
