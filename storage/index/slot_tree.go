package index

import (
	"github.com/emirpasic/gods/trees/redblacktree"
	"github.com/emirpasic/gods/utils"
	"github.com/forever-free1/SlotKV/storage"
)

// SlotTree 按 SlotStart 排序维护所有存活的槽位
// 删除合并时用 Floor 查找前驱槽位，复杂度 O(log n)
//
// 树中存放的记录头与 Index 中的是同一个指针，SlotEnd 的修改对两边同时可见；
// SlotStart 在记录头的生命周期内不会改变。
// 空槽位不覆盖任何偏移量，也不会成为前驱，因此不放入树中；
// 非空槽位互不重叠，SlotStart 可以唯一标识一个槽位
type SlotTree struct {
	tree *redblacktree.Tree
}

// NewSlotTree 创建空的槽位树
func NewSlotTree() *SlotTree {
	return &SlotTree{tree: redblacktree.NewWith(utils.Int64Comparator)}
}

// Put 加入一个槽位，空槽位被忽略
//
// 返回：
//   - bool: 槽位是否被放入树中
func (st *SlotTree) Put(header *storage.RecordHeader) bool {
	if header.Empty() {
		return false
	}
	st.tree.Put(header.SlotStart, header)
	return true
}

// Remove 删除槽位 header
// 只有树中起始于 header.SlotStart 的正是 header 本身时才删除，
// 空槽位与相邻槽位的 SlotStart 相同，删除它不会影响相邻槽位
func (st *SlotTree) Remove(header *storage.RecordHeader) {
	node, found := st.tree.Get(header.SlotStart)
	if found && node.(*storage.RecordHeader) == header {
		st.tree.Remove(header.SlotStart)
	}
}

// Floor 返回 SlotStart 不大于 offset 的最后一个槽位，不存在返回 nil
func (st *SlotTree) Floor(offset int64) *storage.RecordHeader {
	node, found := st.tree.Floor(offset)
	if !found {
		return nil
	}
	return node.Value.(*storage.RecordHeader)
}

// Covering 返回包含 offset 的槽位，不存在返回 nil
func (st *SlotTree) Covering(offset int64) *storage.RecordHeader {
	h := st.Floor(offset)
	if h == nil || !h.Covers(offset) {
		return nil
	}
	return h
}

// First 返回起始偏移量最小的槽位
func (st *SlotTree) First() *storage.RecordHeader {
	node := st.tree.Left()
	if node == nil {
		return nil
	}
	return node.Value.(*storage.RecordHeader)
}

// Ascend 按 SlotStart 升序遍历
func (st *SlotTree) Ascend(fn func(header *storage.RecordHeader) bool) {
	it := st.tree.Iterator()
	for it.Next() {
		if !fn(it.Value().(*storage.RecordHeader)) {
			return
		}
	}
}

// Size 返回槽位数量
func (st *SlotTree) Size() int {
	return st.tree.Size()
}

// Clear 清空槽位树
func (st *SlotTree) Clear() {
	st.tree.Clear()
}
