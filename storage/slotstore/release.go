package slotstore

import (
	"fmt"

	"github.com/forever-free1/SlotKV/storage"
)

// release 描述释放一个槽位需要做的修改
// 计划与执行分开，迁移时可以在写入成功之后再修改索引
type release struct {
	header *storage.RecordHeader // 被释放的槽位
	pred   *storage.RecordHeader // 吸收该槽位的前驱，front 或 empty 为 true 时为 nil
	front  bool                  // 槽位位于数据区最前面
	empty  bool                  // 空槽位没有可归还的字节
}

// planRelease 决定槽位 h 被释放后的归属
//
// 返回：
//   - release: 释放计划
//   - error: 找不到前驱时返回 ErrPredecessorNotFound
func (s *Store[T]) planRelease(h *storage.RecordHeader) (release, error) {
	if h.Empty() {
		return release{header: h, empty: true}, nil
	}
	if h.SlotStart == s.base {
		return release{header: h, front: true}, nil
	}

	pred := s.locateHeaderCovering(h.SlotStart - 1)
	if pred == nil || pred == h {
		return release{}, fmt.Errorf("%w: 槽位 [%d,%d) 键 %q",
			storage.ErrPredecessorNotFound, h.SlotStart, h.SlotEnd, h.Key)
	}
	return release{header: h, pred: pred}, nil
}

// applyRelease 执行释放计划，调用方随后负责把 h 从索引中移除
func (s *Store[T]) applyRelease(r release) {
	h := r.header
	switch {
	case r.empty:
		s.logger.Debug("释放空槽位", "key", string(h.Key), "offset", h.SlotStart)
	case r.front:
		s.base = h.SlotEnd
		s.logger.Debug("回收数据区前端", "key", string(h.Key), "base", s.base)
	default:
		r.pred.SlotEnd = h.SlotEnd
		s.logger.Debug("槽位并入前驱",
			"key", string(h.Key),
			"pred", string(r.pred.Key),
			"pred_end", r.pred.SlotEnd,
			"slack", r.pred.Slack())
	}
	s.metrics.released(h.Capacity())
}

// locateHeaderCovering 查找包含 offset 的存活槽位
// OrderedSlots 开启时查红黑树，否则线性扫描所有记录头
func (s *Store[T]) locateHeaderCovering(offset int64) *storage.RecordHeader {
	if s.slots != nil {
		return s.slots.Covering(offset)
	}

	var found *storage.RecordHeader
	s.index.ForEach(func(h *storage.RecordHeader) bool {
		if h.Covers(offset) {
			found = h
			return false
		}
		return true
	})
	return found
}

// Stats 是存储的统计信息
type Stats struct {
	Records        int   `json:"records"`
	DataRegionBase int64 `json:"data_region_base"`
	FileSize       int64 `json:"file_size"`
	LiveSpan       int64 `json:"live_span"`     // FileSize - DataRegionBase
	PayloadBytes   int64 `json:"payload_bytes"` // 所有负载字节之和
	SlackBytes     int64 `json:"slack_bytes"`   // 所有槽位中未使用的字节之和
	IndexSize      int64 `json:"index_size"`    // 编码后的索引文件大小
}

// Stats 返回当前统计信息
func (s *Store[T]) Stats() (Stats, error) {
	if err := s.checkOpen(); err != nil {
		return Stats{}, err
	}
	size, err := s.file.Length()
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		Records:        s.count,
		DataRegionBase: s.base,
		FileSize:       size,
		LiveSpan:       size - s.base,
		IndexSize:      sidecarHeaderSize + sidecarTrailerSize,
	}
	s.index.ForEach(func(h *storage.RecordHeader) bool {
		st.PayloadBytes += int64(h.PayloadSize)
		st.SlackBytes += h.Slack()
		st.IndexSize += sidecarEntrySize(h)
		return true
	})
	return st, nil
}
