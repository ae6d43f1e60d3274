package slotstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"

	"github.com/forever-free1/SlotKV/storage"
	"github.com/forever-free1/SlotKV/storage/index"
)

// 索引文件格式（小端序）：
//
//	| magic "SLKV" | version u16 | count u32 | base i64 |
//	| entry * count |
//	| crc32 u32 |
//
//	entry: | keyLen u32 | key | payload u32 | start i64 | end i64 |
//
// crc32 (IEEE) 覆盖 magic 之后、校验和之前的所有字节
const (
	sidecarMagic   = "SLKV"
	sidecarVersion = 1

	sidecarHeaderSize  = 4 + 2 + 4 + 8
	sidecarTrailerSize = 4
	entryFixedSize     = 4 + 4 + 8 + 8
)

// sidecarEntrySize 返回一个记录头编码后的字节数
func sidecarEntrySize(h *storage.RecordHeader) int64 {
	return int64(entryFixedSize + len(h.Key))
}

// SaveIndex 把 data region base 和所有记录头写入索引文件
// 先写临时文件再重命名，写入中途失败不会破坏已有的索引文件
func (s *Store[T]) SaveIndex() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	// 索引指向的数据必须先落盘
	if err := s.file.Sync(); err != nil {
		return err
	}

	path := s.options.IndexPath
	tmp := path + ".tmp"
	n, err := writeSidecarFile(tmp, s.base, s.sortedHeaders())
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("替换索引文件失败: %w", err)
	}

	s.logger.Info("索引已保存", "path", path, "records", s.count, "base", s.base, "bytes", n)
	return nil
}

// writeSidecarFile 把索引写入 path 并同步到磁盘，失败时删除 path
//
// 返回：
//   - int64: 写入的字节数
//   - error: 创建失败或 *IOError
func writeSidecarFile(path string, base int64, headers []*storage.RecordHeader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("创建索引临时文件失败: %w", err)
	}

	w := bufio.NewWriter(f)
	n, err := writeSidecar(w, base, headers)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return n, &IOError{Op: "save index", Path: path, Size: n, Err: err}
	}
	return n, nil
}

// LoadIndex 从索引文件读取并替换内存中的索引
//
// 加载是全有或全无的：魔数不匹配返回 ErrUnrecognizedFormat，
// 内容校验失败返回 ErrIndexCorrupt，两种情况下内存中的索引都保持不变。
// 索引文件不存在时返回的错误满足 errors.Is(err, os.ErrNotExist)
func (s *Store[T]) LoadIndex() error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	path := s.options.IndexPath
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取索引文件失败: %w", err)
	}

	base, headers, err := readSidecar(data)
	if err != nil {
		return fmt.Errorf("加载索引 %s 失败: %w", path, err)
	}

	length, err := s.file.Length()
	if err != nil {
		return err
	}
	if err := validateHeaders(base, headers, length); err != nil {
		return fmt.Errorf("加载索引 %s 失败: %w", path, err)
	}

	s.install(base, headers)
	s.absorbTail()
	s.logger.Info("索引已加载", "path", path, "records", s.count, "base", s.base)
	return nil
}

// install 用一组记录头整体替换内存中的索引
func (s *Store[T]) install(base int64, headers []*storage.RecordHeader) {
	idx := index.New(s.options.IndexType)
	var slots *index.SlotTree
	if s.options.OrderedSlots {
		slots = index.NewSlotTree()
	}
	for _, h := range headers {
		idx.Put(h.Key, h)
		if slots != nil {
			slots.Put(h)
		}
	}

	s.index.Close()
	s.index = idx
	s.slots = slots
	s.base = base
	s.count = len(headers)
	s.bloom.Rebuild(idx)
	s.metrics.state(s.count, s.base)
}

// writeSidecar 编码索引，返回写入的字节数
func writeSidecar(w io.Writer, base int64, headers []*storage.RecordHeader) (int64, error) {
	cw := &countingWriter{w: w}
	if _, err := io.WriteString(cw, sidecarMagic); err != nil {
		return cw.n, err
	}

	crc := crc32.NewIEEE()
	body := io.MultiWriter(cw, crc)

	var buf [entryFixedSize]byte
	binary.LittleEndian.PutUint16(buf[0:], sidecarVersion)
	binary.LittleEndian.PutUint32(buf[2:], uint32(len(headers)))
	binary.LittleEndian.PutUint64(buf[6:], uint64(base))
	if _, err := body.Write(buf[:14]); err != nil {
		return cw.n, err
	}

	for _, h := range headers {
		binary.LittleEndian.PutUint32(buf[0:], uint32(len(h.Key)))
		if _, err := body.Write(buf[:4]); err != nil {
			return cw.n, err
		}
		if _, err := body.Write(h.Key); err != nil {
			return cw.n, err
		}
		binary.LittleEndian.PutUint32(buf[0:], h.PayloadSize)
		binary.LittleEndian.PutUint64(buf[4:], uint64(h.SlotStart))
		binary.LittleEndian.PutUint64(buf[12:], uint64(h.SlotEnd))
		if _, err := body.Write(buf[:20]); err != nil {
			return cw.n, err
		}
	}

	binary.LittleEndian.PutUint32(buf[0:], crc.Sum32())
	_, err := cw.Write(buf[:4])
	return cw.n, err
}

// readSidecar 解码索引文件内容，只检查格式和校验和
func readSidecar(data []byte) (int64, []*storage.RecordHeader, error) {
	if len(data) < len(sidecarMagic) || !bytes.Equal(data[:len(sidecarMagic)], []byte(sidecarMagic)) {
		return 0, nil, storage.ErrUnrecognizedFormat
	}
	if len(data) < sidecarHeaderSize+sidecarTrailerSize {
		return 0, nil, fmt.Errorf("%w: 文件过短 (%d 字节)", storage.ErrIndexCorrupt, len(data))
	}

	body := data[len(sidecarMagic) : len(data)-sidecarTrailerSize]
	want := binary.LittleEndian.Uint32(data[len(data)-sidecarTrailerSize:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return 0, nil, fmt.Errorf("%w: 校验和不匹配 (got %08x, want %08x)", storage.ErrIndexCorrupt, got, want)
	}

	version := binary.LittleEndian.Uint16(body[0:])
	if version != sidecarVersion {
		return 0, nil, fmt.Errorf("%w: 不支持的版本 %d", storage.ErrUnrecognizedFormat, version)
	}
	count := binary.LittleEndian.Uint32(body[2:])
	base := int64(binary.LittleEndian.Uint64(body[6:]))
	rest := body[14:]

	// 每个条目至少 entryFixedSize 字节，先检查 count 再分配
	if uint64(count)*entryFixedSize > uint64(len(rest)) {
		return 0, nil, fmt.Errorf("%w: 条目数 %d 超出文件长度", storage.ErrIndexCorrupt, count)
	}

	headers := make([]*storage.RecordHeader, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return 0, nil, fmt.Errorf("%w: 第 %d 个条目被截断", storage.ErrIndexCorrupt, i)
		}
		keyLen := binary.LittleEndian.Uint32(rest)
		rest = rest[4:]
		if keyLen == 0 || keyLen > storage.MaxKeySize || uint64(keyLen)+20 > uint64(len(rest)) {
			return 0, nil, fmt.Errorf("%w: 第 %d 个条目键长度 %d 无效", storage.ErrIndexCorrupt, i, keyLen)
		}
		key := bytes.Clone(rest[:keyLen])
		rest = rest[keyLen:]

		headers = append(headers, &storage.RecordHeader{
			Key:         key,
			PayloadSize: binary.LittleEndian.Uint32(rest[0:]),
			SlotStart:   int64(binary.LittleEndian.Uint64(rest[4:])),
			SlotEnd:     int64(binary.LittleEndian.Uint64(rest[12:])),
		})
		rest = rest[20:]
	}
	if len(rest) != 0 {
		return 0, nil, fmt.Errorf("%w: 条目之后多出 %d 字节", storage.ErrIndexCorrupt, len(rest))
	}
	return base, headers, nil
}

// validateHeaders 检查记录头之间以及与数据文件的一致性
// 通过后 headers 按 (SlotStart, SlotEnd, Key) 升序排列
//
// 非空槽位必须从 base 开始首尾相接，否则之后的删除合并会找不到前驱；
// 空槽位不占用空间，只要求位于文件之内
func validateHeaders(base int64, headers []*storage.RecordHeader, fileSize int64) error {
	if base < 0 || base > fileSize {
		return fmt.Errorf("%w: data region base %d 超出文件长度 %d", storage.ErrIndexCorrupt, base, fileSize)
	}

	sort.Slice(headers, func(i, j int) bool {
		return slotLess(headers[i], headers[j])
	})

	seen := make(map[string]struct{}, len(headers))
	next := base
	for _, h := range headers {
		if !h.Valid() {
			return fmt.Errorf("%w: 记录头无效 %s", storage.ErrIndexCorrupt, h)
		}
		if _, dup := seen[string(h.Key)]; dup {
			return fmt.Errorf("%w: 重复的键 %q", storage.ErrIndexCorrupt, h.Key)
		}
		seen[string(h.Key)] = struct{}{}

		if h.Empty() {
			if h.SlotStart > fileSize {
				return fmt.Errorf("%w: 空槽位超出文件长度 %d: %s", storage.ErrIndexCorrupt, fileSize, h)
			}
			continue
		}

		switch {
		case h.SlotStart < next:
			return fmt.Errorf("%w: 槽位重叠或位于 base 之前 %s", storage.ErrIndexCorrupt, h)
		case h.SlotStart > next:
			return fmt.Errorf("%w: 槽位 [%d,%d) 之间有空洞", storage.ErrIndexCorrupt, next, h.SlotStart)
		}
		if h.SlotEnd > fileSize {
			return fmt.Errorf("%w: 槽位超出文件长度 %d: %s", storage.ErrIndexCorrupt, fileSize, h)
		}
		next = h.SlotEnd
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
