package storage

import (
	"errors"
	"fmt"
)

// ErrKeyNotFound 表示键不存在的错误
var ErrKeyNotFound = errors.New("key not found")

// ErrInvalidKey 表示键为空或超过 MaxKeySize
var ErrInvalidKey = errors.New("invalid key")

// ErrDuplicateKey 表示插入的键已存在
var ErrDuplicateKey = errors.New("duplicate key")

// ErrPredecessorNotFound 表示删除合并时找不到前驱槽位
// 出现该错误说明索引与数据区不一致
var ErrPredecessorNotFound = errors.New("predecessor slot not found")

// ErrUnrecognizedFormat 表示索引文件的魔数不匹配
var ErrUnrecognizedFormat = errors.New("unrecognized index file format")

// ErrIndexCorrupt 表示索引文件内容损坏
var ErrIndexCorrupt = errors.New("index file corrupt")

// ErrCodec 表示值编解码失败，CodecError 满足 errors.Is(err, ErrCodec)
var ErrCodec = errors.New("codec error")

// CodecError 记录一次失败的编解码
type CodecError struct {
	Op   string // "encode" 或 "decode"
	Type string // 目标类型名
	Err  error
}

// NewCodecError 创建编解码错误
func NewCodecError(op string, v any, err error) *CodecError {
	return &CodecError{Op: op, Type: fmt.Sprintf("%T", v), Err: err}
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Type, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Is 使 errors.Is(err, ErrCodec) 对所有 CodecError 成立
func (e *CodecError) Is(target error) bool {
	return target == ErrCodec
}
