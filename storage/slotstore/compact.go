package slotstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/forever-free1/SlotKV/storage"
)

// CompactFileSuffix 是压缩过程中临时数据文件的后缀
const CompactFileSuffix = ".compact"

// Compact 把所有存活记录紧凑地重写到新的数据文件
//
// 新文件中记录从保留区末尾开始首尾相接，每个槽位都没有 slack，
// data region base 回到 ReservedSize。新数据文件和对应的索引文件都写完并同步后
// 才依次替换原文件，替换之前的任何失败都不会改变原数据文件、原索引文件和内存中的索引
func (s *Store[T]) Compact() error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	oldSize, err := s.file.Length()
	if err != nil {
		return err
	}

	path := s.file.Path()
	tmpPath := path + CompactFileSuffix
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("清理旧的压缩文件失败: %w", err)
	}

	tmp := NewDataFile(tmpPath, s.codec)
	abort := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}
	headers, err := s.rewriteInto(tmp)
	if err != nil {
		abort()
		return fmt.Errorf("压缩数据文件失败: %w", err)
	}

	indexTmp := s.options.IndexPath + CompactFileSuffix
	if _, err := writeSidecarFile(indexTmp, s.options.ReservedSize, headers); err != nil {
		abort()
		return fmt.Errorf("写入压缩后的索引失败: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		abort()
		os.Remove(indexTmp)
		return fmt.Errorf("替换数据文件失败: %w", err)
	}

	// 重命名之后新文件接管原路径，旧句柄只剩下关闭
	tmp.path = path
	if err := s.file.Close(); err != nil {
		s.logger.Warn("关闭旧数据文件失败", "err", err)
	}
	s.file = tmp
	s.install(s.options.ReservedSize, headers)

	// 数据文件已经替换，索引文件替换失败时由下一次 SaveIndex 补写
	if err := os.Rename(indexTmp, s.options.IndexPath); err != nil {
		os.Remove(indexTmp)
		return fmt.Errorf("替换索引文件失败: %w", err)
	}

	newSize, _ := s.file.Length()
	s.logger.Info("数据文件已压缩",
		"records", s.count,
		"old_size", oldSize,
		"new_size", newSize,
		"reclaimed", oldSize-newSize)
	return nil
}

// rewriteInto 按 SlotStart 顺序把存活记录的负载复制到 dst
// 返回指向 dst 中新位置的记录头
func (s *Store[T]) rewriteInto(dst *DataFile[T]) ([]*storage.RecordHeader, error) {
	if err := dst.Open(); err != nil {
		return nil, err
	}
	if err := dst.Grow(s.options.ReservedSize); err != nil {
		return nil, err
	}

	offset := s.options.ReservedSize
	src := s.sortedHeaders()
	headers := make([]*storage.RecordHeader, 0, len(src))
	for _, h := range src {
		data, err := s.file.ReadBytes(h.SlotStart, h.PayloadSize)
		if err != nil {
			return nil, err
		}
		n, err := dst.WriteBytes(data, offset)
		if err != nil {
			return nil, err
		}
		headers = append(headers, storage.NewRecordHeader(h.Key, offset, uint32(n)))
		offset += int64(n)
	}

	if err := dst.Sync(); err != nil {
		return nil, err
	}
	return headers, nil
}
