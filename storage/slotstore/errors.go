package slotstore

import (
	"errors"
	"fmt"
)

// ErrNotOpen 表示数据文件未打开或已关闭
var ErrNotOpen = errors.New("data file is not open")

// ErrLocked 表示数据文件已被其他进程占用
var ErrLocked = errors.New("data file is locked by another process")

// IOError 记录一次失败的文件定位或读写
// 携带偏移量和请求的字节数，便于定位损坏的槽位
type IOError struct {
	Op     string // "read"、"write"、"grow" 等
	Path   string
	Offset int64
	Size   int64
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s (offset=%d, size=%d): %v", e.Op, e.Path, e.Offset, e.Size, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
