package slotstore

import (
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/forever-free1/SlotKV/storage/index"
)

// DefaultReservedSize 是数据文件开头保留区的默认大小
// 第一个记录写在这个偏移量上
const DefaultReservedSize = 1024

// IndexFileExt 是索引文件的扩展名
const IndexFileExt = ".idx"

// Options 定义 Store 的配置选项
type Options struct {
	// IndexPath 索引文件路径，为空时由数据文件路径推导（扩展名换成 .idx）
	IndexPath string

	// IndexType 键索引类型，默认使用 ART
	IndexType index.Type

	// BloomFilterN 布隆过滤器的预期键数量
	BloomFilterN uint

	// BloomFilterFP 布隆过滤器的期望误判率
	BloomFilterFP float64

	// ReservedSize 数据文件开头保留区的大小，也是空库的 data region base
	ReservedSize int64

	// OrderedSlots 为 true 时用红黑树维护槽位顺序，查找前驱为 O(log n)；
	// 为 false 时线性扫描所有记录头
	OrderedSlots bool

	// LoadIndexOnOpen 打开时如果存在索引文件则加载
	LoadIndexOnOpen bool

	// SaveIndexOnClose 关闭时写出索引文件
	SaveIndexOnClose bool

	// Logger 日志输出，为空时使用 slog.Default()
	Logger *slog.Logger

	// Metrics Prometheus 指标，为空时不统计
	Metrics *Metrics
}

// Option 定义 Options 的配置函数
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		IndexType:        index.TypeART,
		BloomFilterN:     100000,
		BloomFilterFP:    0.01,
		ReservedSize:     DefaultReservedSize,
		OrderedSlots:     true,
		LoadIndexOnOpen:  true,
		SaveIndexOnClose: true,
	}
}

// WithIndexPath 设置索引文件路径
func WithIndexPath(path string) Option {
	return func(o *Options) {
		o.IndexPath = path
	}
}

// WithIndexType 设置键索引类型
func WithIndexType(t index.Type) Option {
	return func(o *Options) {
		o.IndexType = t
	}
}

// WithBloomFilter 设置布隆过滤器的预期键数量和误判率
func WithBloomFilter(n uint, fp float64) Option {
	return func(o *Options) {
		o.BloomFilterN = n
		o.BloomFilterFP = fp
	}
}

// WithReservedSize 设置数据文件保留区大小
func WithReservedSize(size int64) Option {
	return func(o *Options) {
		o.ReservedSize = size
	}
}

// WithOrderedSlots 选择前驱查找方式
func WithOrderedSlots(ordered bool) Option {
	return func(o *Options) {
		o.OrderedSlots = ordered
	}
}

// WithLoadIndexOnOpen 设置打开时是否加载索引文件
func WithLoadIndexOnOpen(load bool) Option {
	return func(o *Options) {
		o.LoadIndexOnOpen = load
	}
}

// WithSaveIndexOnClose 设置关闭时是否保存索引文件
func WithSaveIndexOnClose(save bool) Option {
	return func(o *Options) {
		o.SaveIndexOnClose = save
	}
}

// WithLogger 设置日志输出
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics 设置 Prometheus 指标
func WithMetrics(m *Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// DefaultIndexPath 由数据文件路径推导索引文件路径
// 例如 people.slk -> people.idx
func DefaultIndexPath(dataPath string) string {
	p := strings.TrimSuffix(dataPath, filepath.Ext(dataPath)) + IndexFileExt
	if p == dataPath {
		p = dataPath + IndexFileExt
	}
	return p
}
