package index

import (
	"github.com/forever-free1/SlotKV/storage"
)

// MapIndex 是基于 Go 内置 map 的内存索引实现
type MapIndex struct {
	data map[string]*storage.RecordHeader
}

// NewMapIndex 创建一个新的 Map 索引实例
func NewMapIndex() *MapIndex {
	return &MapIndex{
		data: make(map[string]*storage.RecordHeader),
	}
}

// Put 写入键与记录头的映射
func (idx *MapIndex) Put(key []byte, header *storage.RecordHeader) {
	idx.data[string(key)] = header
}

// Get 根据键获取记录头，不存在返回 nil
func (idx *MapIndex) Get(key []byte) *storage.RecordHeader {
	return idx.data[string(key)]
}

// Delete 从 Map 索引中删除键
func (idx *MapIndex) Delete(key []byte) bool {
	if _, exists := idx.data[string(key)]; !exists {
		return false
	}
	delete(idx.data, string(key))
	return true
}

// ForEach 遍历所有记录头（map 的遍历顺序是随机的）
func (idx *MapIndex) ForEach(fn func(header *storage.RecordHeader) bool) {
	for _, h := range idx.data {
		if !fn(h) {
			return
		}
	}
}

// Size 返回 Map 索引中的键数量
func (idx *MapIndex) Size() int {
	return len(idx.data)
}

// Close 清空 map，释放内存
func (idx *MapIndex) Close() {
	idx.data = make(map[string]*storage.RecordHeader)
}

// 确保 MapIndex 实现了 Index 接口
var _ Index = (*MapIndex)(nil)
