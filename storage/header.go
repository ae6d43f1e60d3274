package storage

import (
	"bytes"
	"fmt"
)

// MaxKeySize 是键的最大长度
const MaxKeySize = 64 * 1024

// RecordHeader 描述一条记录在数据文件中的位置
// 所有偏移量都是文件内的绝对偏移量
//
// 槽位 [SlotStart, SlotEnd) 可能大于实际负载：原地更新变小或
// 删除合并后产生的空闲部分称为 slack，保留给该键之后的原地更新使用
type RecordHeader struct {
	Key         []byte // 应用层的键
	PayloadSize uint32 // 当前编码值的精确字节数
	SlotStart   int64  // 槽位起始偏移量
	SlotEnd     int64  // 槽位结束偏移量（不含）
}

// NewRecordHeader 创建一个槽位与负载大小完全一致的记录头
// 参数：
//   - key: 键（会被复制）
//   - offset: 槽位起始偏移量
//   - size: 负载字节数
//
// 返回：
//   - *RecordHeader: 新的记录头
func NewRecordHeader(key []byte, offset int64, size uint32) *RecordHeader {
	return &RecordHeader{
		Key:         bytes.Clone(key),
		PayloadSize: size,
		SlotStart:   offset,
		SlotEnd:     offset + int64(size),
	}
}

// Capacity 返回槽位容量
func (h *RecordHeader) Capacity() int64 {
	return h.SlotEnd - h.SlotStart
}

// Empty 判断槽位容量是否为 0
// 空槽位不占用数据文件中的任何字节，不参与槽位的首尾相接，
// 它的 SlotStart 可能与下一个槽位相同，也可能落在 data region base 之前
func (h *RecordHeader) Empty() bool {
	return h.SlotEnd == h.SlotStart
}

// Slack 返回槽位中未使用的字节数
func (h *RecordHeader) Slack() int64 {
	return h.Capacity() - int64(h.PayloadSize)
}

// Fits 判断 size 字节的负载能否放入当前槽位
func (h *RecordHeader) Fits(size int) bool {
	return int64(size) <= h.Capacity()
}

// Covers 判断偏移量是否落在槽位 [SlotStart, SlotEnd) 内
func (h *RecordHeader) Covers(offset int64) bool {
	return offset >= h.SlotStart && offset < h.SlotEnd
}

// Valid 检查记录头自身的不变量
func (h *RecordHeader) Valid() bool {
	return h.SlotStart >= 0 && h.SlotEnd >= h.SlotStart && int64(h.PayloadSize) <= h.Capacity()
}

// Clone 返回记录头的深拷贝，用于向索引外部暴露
func (h *RecordHeader) Clone() *RecordHeader {
	if h == nil {
		return nil
	}
	c := *h
	c.Key = bytes.Clone(h.Key)
	return &c
}

// Equals 比较两个记录头是否相等
func (h *RecordHeader) Equals(other *RecordHeader) bool {
	if h == other {
		return true
	}
	if h == nil || other == nil {
		return false
	}
	return bytes.Equal(h.Key, other.Key) &&
		h.PayloadSize == other.PayloadSize &&
		h.SlotStart == other.SlotStart &&
		h.SlotEnd == other.SlotEnd
}

func (h *RecordHeader) String() string {
	return fmt.Sprintf("Key[%q] Size[%d] Start[%d] End[%d] Slot[%d]",
		h.Key, h.PayloadSize, h.SlotStart, h.SlotEnd, h.Capacity())
}
