// Package slotstore 实现基于单个数据文件和内存索引的对象存储
//
// 数据文件布局：
//
//	| 保留区 (ReservedSize) | slot | slot | ... | slot |
//	                        ^ data region base
//
// 每个键对应一个槽位 [SlotStart, SlotEnd)，新记录总是追加到文件末尾。
// 更新放得下就原地覆盖，放不下就迁移到文件末尾；删除时槽位并入前一个
// 槽位，若被删除的是数据区最前面的槽位则把 data region base 后移。
// 索引在关闭时整体写入旁路索引文件（.idx），打开时一次性读回。
package slotstore

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/forever-free1/SlotKV/storage"
	"github.com/forever-free1/SlotKV/storage/codec"
	"github.com/forever-free1/SlotKV/storage/index"
)

// Store 是带索引的对象存储
// 不是并发安全的：同一时间只允许一个调用方访问
type Store[T any] struct {
	file    *DataFile[T]        // 数据文件
	codec   codec.Codec[T]      // 值编解码器
	index   index.Index         // 键 -> 记录头
	slots   *index.SlotTree     // 按 SlotStart 排序的槽位，OrderedSlots 关闭时为 nil
	bloom   *index.BloomFilter  // 快速排除不存在的键
	base    int64               // data region base
	count   int                 // 存活记录数
	options *Options            // 配置选项
	logger  *slog.Logger        // 日志
	metrics *Metrics            // 指标
	closed  bool
}

// Open 打开或创建一个存储
// 参数：
//   - path: 数据文件路径
//   - c: 值编解码器
//   - opts: 配置选项
//
// 返回：
//   - *Store[T]: 存储实例
//   - error: 打开错误
func Open[T any](path string, c codec.Codec[T], opts ...Option) (*Store[T], error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.IndexPath == "" {
		options.IndexPath = DefaultIndexPath(path)
	}
	if options.ReservedSize < 0 {
		return nil, fmt.Errorf("保留区大小不能为负数: %d", options.ReservedSize)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	s := &Store[T]{
		file:    NewDataFile(path, c),
		codec:   c,
		index:   index.New(options.IndexType),
		bloom:   index.NewBloomFilter(options.BloomFilterN, options.BloomFilterFP),
		base:    options.ReservedSize,
		options: options,
		logger:  logger.With("store", filepath.Base(path)),
		metrics: options.Metrics,
	}
	if options.OrderedSlots {
		s.slots = index.NewSlotTree()
	}

	if err := s.file.Open(); err != nil {
		return nil, err
	}
	if err := s.bootstrap(); err != nil {
		s.file.Close()
		return nil, fmt.Errorf("启动引导失败: %w", err)
	}

	s.metrics.state(s.count, s.base)
	s.logger.Debug("存储已打开",
		"codec", codec.Name(c),
		"index", options.IndexType.String(),
		"records", s.count,
		"base", s.base)
	return s, nil
}

// bootstrap 准备保留区并加载索引文件
func (s *Store[T]) bootstrap() error {
	if err := s.file.Grow(s.options.ReservedSize); err != nil {
		return fmt.Errorf("初始化保留区失败: %w", err)
	}

	if s.options.LoadIndexOnOpen {
		err := s.LoadIndex()
		if err == nil {
			return nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	// 没有索引时，保留区之后的旧数据无法定位，当作死区跳过，
	// 让新的数据区从文件末尾开始，保持槽位首尾相接
	length, err := s.file.Length()
	if err != nil {
		return err
	}
	if length > s.base {
		s.logger.Warn("数据文件中有无法定位的数据，从文件末尾开始新的数据区",
			"index", s.options.IndexPath,
			"dead_bytes", length-s.base)
		s.base = length
	}
	return nil
}

// Insert 写入一个新键
// 值总是追加到文件末尾，槽位大小与编码后的值完全一致
func (s *Store[T]) Insert(key []byte, value T) (err error) {
	defer func() { s.metrics.observe("insert", err) }()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if s.lookup(key) != nil {
		return fmt.Errorf("%w: %q", storage.ErrDuplicateKey, key)
	}

	offset, err := s.file.Length()
	if err != nil {
		return err
	}
	n, err := s.file.WriteValue(value, offset)
	if err != nil {
		s.discardTail(offset)
		return fmt.Errorf("插入 %q 失败: %w", key, err)
	}

	s.link(storage.NewRecordHeader(key, offset, uint32(n)))
	s.metrics.written(n)
	return nil
}

// Retrieve 根据键读取值
// 只读取 PayloadSize 字节，槽位中的 slack 不会被读取
func (s *Store[T]) Retrieve(key []byte) (value T, err error) {
	defer func() { s.metrics.observe("retrieve", err) }()

	if err := s.checkOpen(); err != nil {
		return value, err
	}
	h := s.lookup(key)
	if h == nil {
		return value, fmt.Errorf("%w: %q", storage.ErrKeyNotFound, key)
	}

	value, err = s.file.ReadValue(h.SlotStart, h.PayloadSize)
	if err != nil {
		return value, fmt.Errorf("读取 %q 失败: %w", key, err)
	}
	return value, nil
}

// Update 更新已存在的键
//
// 新值不超过槽位容量时原地写入，SlotEnd 不变，多出的空间作为 slack 保留；
// 超过容量时等价于 Delete 后 Insert：旧槽位按删除规则释放，新值追加到文件末尾
func (s *Store[T]) Update(key []byte, value T) (err error) {
	defer func() { s.metrics.observe("update", err) }()

	if err := s.checkOpen(); err != nil {
		return err
	}
	h := s.lookup(key)
	if h == nil {
		return fmt.Errorf("%w: %q", storage.ErrKeyNotFound, key)
	}

	data, err := s.file.Encode(value)
	if err != nil {
		return fmt.Errorf("更新 %q 失败: %w", key, err)
	}

	if h.Fits(len(data)) {
		n, err := s.file.WriteBytes(data, h.SlotStart)
		if err != nil {
			return fmt.Errorf("原地更新 %q 失败: %w", key, err)
		}
		h.PayloadSize = uint32(n)
		s.metrics.written(n)
		return nil
	}

	return s.relocate(h, data)
}

// relocate 把放不下的新值迁移到文件末尾
// 先完成所有可能失败的步骤（查找前驱、写入），再修改索引
func (s *Store[T]) relocate(h *storage.RecordHeader, data []byte) error {
	plan, err := s.planRelease(h)
	if err != nil {
		return err
	}

	offset, err := s.file.Length()
	if err != nil {
		return err
	}
	n, err := s.file.WriteBytes(data, offset)
	if err != nil {
		s.discardTail(offset)
		return fmt.Errorf("迁移 %q 失败: %w", h.Key, err)
	}

	s.applyRelease(plan)
	s.unlink(h)
	s.link(storage.NewRecordHeader(h.Key, offset, uint32(n)))

	s.metrics.written(n)
	s.metrics.relocated()
	s.logger.Debug("记录已迁移到文件末尾",
		"key", string(h.Key),
		"from", h.SlotStart,
		"to", offset,
		"size", n)
	return nil
}

// Delete 删除键
//
// 被删除的槽位如果位于数据区最前面，data region base 后移到它的 SlotEnd；
// 否则并入紧挨着它的前一个槽位，前驱的容量随之增加
func (s *Store[T]) Delete(key []byte) (err error) {
	defer func() { s.metrics.observe("delete", err) }()

	if err := s.checkOpen(); err != nil {
		return err
	}
	h := s.lookup(key)
	if h == nil {
		return fmt.Errorf("%w: %q", storage.ErrKeyNotFound, key)
	}

	plan, err := s.planRelease(h)
	if err != nil {
		return err
	}
	s.applyRelease(plan)
	s.unlink(h)
	return nil
}

// RecordCount 返回存活记录数
func (s *Store[T]) RecordCount() int {
	return s.count
}

// DataRegionBase 返回数据区起始偏移量
func (s *Store[T]) DataRegionBase() int64 {
	return s.base
}

// Header 返回键对应记录头的副本
func (s *Store[T]) Header(key []byte) (*storage.RecordHeader, error) {
	h := s.lookup(key)
	if h == nil {
		return nil, fmt.Errorf("%w: %q", storage.ErrKeyNotFound, key)
	}
	return h.Clone(), nil
}

// IndexEntries 返回所有记录头的副本，按 SlotStart 升序排列
func (s *Store[T]) IndexEntries() []*storage.RecordHeader {
	entries := make([]*storage.RecordHeader, 0, s.count)
	for _, h := range s.sortedHeaders() {
		entries = append(entries, h.Clone())
	}
	return entries
}

// IndexPath 返回索引文件路径
func (s *Store[T]) IndexPath() string {
	return s.options.IndexPath
}

// Path 返回数据文件路径
func (s *Store[T]) Path() string {
	return s.file.Path()
}

// Close 关闭存储
// SaveIndexOnClose 开启时先写出索引文件
func (s *Store[T]) Close() error {
	if s.closed {
		return nil
	}

	var saveErr error
	if s.options.SaveIndexOnClose {
		saveErr = s.SaveIndex()
	}
	closeErr := s.file.Close()
	s.index.Close()
	if s.slots != nil {
		s.slots.Clear()
	}
	s.closed = true

	if closeErr != nil {
		closeErr = fmt.Errorf("关闭数据文件失败: %w", closeErr)
	}
	return errors.Join(saveErr, closeErr)
}

// Remove 关闭存储并删除数据文件和索引文件
func (s *Store[T]) Remove() error {
	s.options.SaveIndexOnClose = false
	if err := s.Close(); err != nil {
		return err
	}
	for _, p := range []string{s.file.Path(), s.options.IndexPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("删除文件失败: %w", err)
		}
	}
	return nil
}

// ==================== 内部方法 ====================

func (s *Store[T]) checkOpen() error {
	if s.closed || !s.file.IsOpen() {
		return ErrNotOpen
	}
	return nil
}

func validateKey(key []byte) error {
	if len(key) == 0 || len(key) > storage.MaxKeySize {
		return fmt.Errorf("%w: 长度 %d", storage.ErrInvalidKey, len(key))
	}
	return nil
}

// lookup 先查布隆过滤器，可能存在时再查索引
func (s *Store[T]) lookup(key []byte) *storage.RecordHeader {
	if !s.bloom.MayContain(key) {
		return nil
	}
	return s.index.Get(key)
}

// link 把新的记录头加入索引
func (s *Store[T]) link(h *storage.RecordHeader) {
	s.index.Put(h.Key, h)
	if s.slots != nil {
		s.slots.Put(h)
	}
	s.bloom.Add(h.Key)
	s.count++
	s.metrics.state(s.count, s.base)
}

// unlink 把记录头从索引中移除
func (s *Store[T]) unlink(h *storage.RecordHeader) {
	s.index.Delete(h.Key)
	if s.slots != nil {
		s.slots.Remove(h)
	}
	s.count--
	s.metrics.state(s.count, s.base)
}

// discardTail 写入失败后尽量截掉末尾的残缺数据
func (s *Store[T]) discardTail(offset int64) {
	length, err := s.file.Length()
	if err != nil || length <= offset {
		return
	}
	if err := s.file.Truncate(offset); err != nil {
		s.logger.Error("丢弃残缺写入失败", "offset", offset, "length", length, "err", err)
		s.absorbTail()
	}
}

// absorbTail 把最后一个槽位之后无法访问的数据并入该槽位，
// 没有存活记录时把 data region base 移到文件末尾，
// 保证下一次追加写入的槽位与前面的槽位首尾相接
func (s *Store[T]) absorbTail() {
	length, err := s.file.Length()
	if err != nil {
		return
	}
	last := s.lastHeader()
	tail := s.base
	if last != nil {
		tail = last.SlotEnd
	}
	if tail >= length {
		return
	}

	s.logger.Warn("数据文件末尾有无法访问的数据", "offset", tail, "dead_bytes", length-tail)
	if last != nil {
		last.SlotEnd = length
	} else {
		s.base = length
		s.metrics.state(s.count, s.base)
	}
}

// lastHeader 返回 SlotStart 最大的非空记录头
func (s *Store[T]) lastHeader() *storage.RecordHeader {
	if s.slots != nil {
		return s.slots.Floor(math.MaxInt64)
	}
	var last *storage.RecordHeader
	s.index.ForEach(func(h *storage.RecordHeader) bool {
		if !h.Empty() && (last == nil || slotLess(last, h)) {
			last = h
		}
		return true
	})
	return last
}

// sortedHeaders 返回按槽位顺序排列的所有记录头（索引内部指针）
// 槽位树不含空槽位，这里总是从索引收集
func (s *Store[T]) sortedHeaders() []*storage.RecordHeader {
	headers := make([]*storage.RecordHeader, 0, s.count)
	s.index.ForEach(func(h *storage.RecordHeader) bool {
		headers = append(headers, h)
		return true
	})
	sort.Slice(headers, func(i, j int) bool {
		return slotLess(headers[i], headers[j])
	})
	return headers
}

// slotLess 按 (SlotStart, SlotEnd, Key) 排序
// 空槽位排在起始偏移量相同的非空槽位之前
func slotLess(a, b *storage.RecordHeader) bool {
	if a.SlotStart != b.SlotStart {
		return a.SlotStart < b.SlotStart
	}
	if a.SlotEnd != b.SlotEnd {
		return a.SlotEnd < b.SlotEnd
	}
	return bytes.Compare(a.Key, b.Key) < 0
}

var _ storage.Engine[any] = (*Store[any])(nil)
