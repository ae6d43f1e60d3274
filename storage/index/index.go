package index

import "github.com/forever-free1/SlotKV/storage"

// Index 是内存索引的抽象接口
// 负责存储键到记录头（RecordHeader）的映射，每个存活的键对应一个记录头
type Index interface {
	// Put 写入键与记录头的映射，已存在时覆盖
	// 参数：
	//   - key: 键
	//   - header: 记录头指针，由索引持有
	Put(key []byte, header *storage.RecordHeader)

	// Get 根据键获取记录头
	// 返回：
	//   - *storage.RecordHeader: 记录头指针，不存在返回 nil
	Get(key []byte) *storage.RecordHeader

	// Delete 根据键删除索引
	// 返回：
	//   - bool: 是否删除成功
	Delete(key []byte) bool

	// ForEach 遍历所有记录头，回调返回 false 时停止
	// 遍历顺序由具体实现决定，不保证稳定
	ForEach(fn func(header *storage.RecordHeader) bool)

	// Size 返回索引中的键数量
	Size() int

	// Close 关闭索引，释放资源
	Close()
}

// Type 定义索引类型
type Type int

const (
	// TypeMap 使用内置 Map 作为索引
	TypeMap Type = iota
	// TypeART 使用自适应基数树作为索引
	TypeART
)

func (t Type) String() string {
	switch t {
	case TypeMap:
		return "map"
	case TypeART:
		return "art"
	default:
		return "unknown"
	}
}

// New 按类型创建索引实例
func New(t Type) Index {
	switch t {
	case TypeART:
		return NewARTIndex()
	default:
		return NewMapIndex()
	}
}
