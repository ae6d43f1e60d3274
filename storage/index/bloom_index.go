package index

import (
	"github.com/bits-and-blooms/bloom/v3"
	"github.com/forever-free1/SlotKV/storage"
)

// BloomFilter 包装布隆过滤器，用于在查询索引前快速排除不存在的键
//
// 布隆过滤器不支持删除：被删除的键仍可能返回"可能存在"，
// 因此 MayContain 为 true 时调用方必须再查一次索引
type BloomFilter struct {
	filter *bloom.BloomFilter
	n      uint
	fp     float64
}

// NewBloomFilter 创建一个新的布隆过滤器
// 参数：
//   - n: 预期存储的元素数量
//   - fp: 期望的误判率
func NewBloomFilter(n uint, fp float64) *BloomFilter {
	// 使用 NewWithEstimates 自动计算最优的 m 和 k
	return &BloomFilter{
		filter: bloom.NewWithEstimates(n, fp),
		n:      n,
		fp:     fp,
	}
}

// Add 添加一个键
func (bf *BloomFilter) Add(key []byte) {
	bf.filter.Add(key)
}

// MayContain 测试键是否可能存在
// 返回：
//   - bool: true 表示可能存在，false 表示一定不存在
func (bf *BloomFilter) MayContain(key []byte) bool {
	return bf.filter.Test(key)
}

// Rebuild 清空过滤器并加入索引中的所有键
// 加载索引文件或压缩之后调用，同时丢掉已删除键留下的位
func (bf *BloomFilter) Rebuild(idx Index) {
	n := bf.n
	if size := uint(idx.Size()); size > n {
		n = size * 2
	}
	bf.filter = bloom.NewWithEstimates(n, bf.fp)
	idx.ForEach(func(h *storage.RecordHeader) bool {
		bf.filter.Add(h.Key)
		return true
	})
}

// K 返回布隆过滤器使用的哈希函数数量
func (bf *BloomFilter) K() uint {
	return bf.filter.K()
}

// Cap 返回布隆过滤器的位数
func (bf *BloomFilter) Cap() uint {
	return bf.filter.Cap()
}
