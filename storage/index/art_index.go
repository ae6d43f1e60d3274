package index

import (
	"github.com/forever-free1/SlotKV/storage"
	art "github.com/plar/go-adaptive-radix-tree"
)

// ARTIndex 是基于自适应基数树（Adaptive Radix Tree）的内存索引实现
// 遍历时按键的字节序输出
type ARTIndex struct {
	tree art.Tree
}

// NewARTIndex 创建一个新的 ART 索引实例
func NewARTIndex() *ARTIndex {
	return &ARTIndex{
		tree: art.New(),
	}
}

// Put 写入键与记录头的映射
func (idx *ARTIndex) Put(key []byte, header *storage.RecordHeader) {
	idx.tree.Insert(art.Key(key), header)
}

// Get 根据键从 ART 索引获取记录头，不存在返回 nil
func (idx *ARTIndex) Get(key []byte) *storage.RecordHeader {
	value, found := idx.tree.Search(art.Key(key))
	if !found {
		return nil
	}
	return value.(*storage.RecordHeader)
}

// Delete 从 ART 索引中删除键
func (idx *ARTIndex) Delete(key []byte) bool {
	_, deleted := idx.tree.Delete(art.Key(key))
	return deleted
}

// ForEach 按键的字节序遍历所有记录头
func (idx *ARTIndex) ForEach(fn func(header *storage.RecordHeader) bool) {
	idx.tree.ForEach(func(node art.Node) bool {
		return fn(node.Value().(*storage.RecordHeader))
	}, art.TraverseLeaf)
}

// Size 返回 ART 索引中的键数量
func (idx *ARTIndex) Size() int {
	return idx.tree.Size()
}

// Close 丢弃整棵树，交给 GC 回收
func (idx *ARTIndex) Close() {
	idx.tree = art.New()
}

// 确保 ARTIndex 实现了 Index 接口
var _ Index = (*ARTIndex)(nil)
