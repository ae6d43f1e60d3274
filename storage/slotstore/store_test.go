package slotstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forever-free1/SlotKV/storage"
	"github.com/forever-free1/SlotKV/storage/codec"
	"github.com/forever-free1/SlotKV/storage/index"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "slotstore_test")
	if err != nil {
		t.Fatalf("创建临时目录失败: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openRaw 打开一个值为原始字节的存储，值的编码长度等于其字节数
func openRaw(t *testing.T, path string, opts ...Option) *Store[[]byte] {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	s, err := Open[[]byte](path, codec.Raw{}, opts...)
	if err != nil {
		t.Fatalf("打开存储失败: %v", err)
	}
	return s
}

func mustInsert(t *testing.T, s *Store[[]byte], key, value string) {
	t.Helper()
	if err := s.Insert([]byte(key), []byte(value)); err != nil {
		t.Fatalf("Insert(%s) 失败: %v", key, err)
	}
}

func mustHeader(t *testing.T, s *Store[[]byte], key string) *storage.RecordHeader {
	t.Helper()
	h, err := s.Header([]byte(key))
	if err != nil {
		t.Fatalf("Header(%s) 失败: %v", key, err)
	}
	return h
}

func expectValue(t *testing.T, s *Store[[]byte], key, want string) {
	t.Helper()
	got, err := s.Retrieve([]byte(key))
	if err != nil {
		t.Fatalf("Retrieve(%s) 失败: %v", key, err)
	}
	if string(got) != want {
		t.Errorf("Retrieve(%s) 值不匹配: got %q, want %q", key, got, want)
	}
}

// checkTiling 检查非空槽位从 base 开始首尾相接，且没有超出文件末尾
func checkTiling(t *testing.T, s *Store[[]byte]) {
	t.Helper()
	entries := s.IndexEntries()
	if len(entries) != s.RecordCount() {
		t.Fatalf("记录数不一致: entries=%d count=%d", len(entries), s.RecordCount())
	}
	length, err := s.file.Length()
	if err != nil {
		t.Fatalf("Length 失败: %v", err)
	}
	next := s.DataRegionBase()
	for _, h := range entries {
		if h.Empty() {
			if h.PayloadSize != 0 || h.SlotStart > length {
				t.Fatalf("空槽位状态错误: %s", h)
			}
			continue
		}
		if h.SlotStart != next {
			t.Fatalf("槽位没有首尾相接: 期望起始 %d, 得到 %s", next, h)
		}
		if int64(h.PayloadSize) > h.Capacity() {
			t.Fatalf("负载超出槽位容量: %s", h)
		}
		next = h.SlotEnd
	}
	if next > length {
		t.Fatalf("槽位超出文件末尾: end=%d length=%d", next, length)
	}
}

func TestStore_InsertAndRetrieve(t *testing.T) {
	s := openRaw(t, filepath.Join(testDir(t), "data.db"))
	defer s.Close()

	if s.DataRegionBase() != DefaultReservedSize {
		t.Fatalf("空库的 base 错误: %d", s.DataRegionBase())
	}

	mustInsert(t, s, "a", "0123456789")
	mustInsert(t, s, "b", "hello")

	a := mustHeader(t, s, "a")
	if a.SlotStart != DefaultReservedSize || a.SlotEnd != DefaultReservedSize+10 || a.PayloadSize != 10 {
		t.Errorf("a 的记录头错误: %s", a)
	}
	b := mustHeader(t, s, "b")
	if b.SlotStart != a.SlotEnd || b.Capacity() != 5 {
		t.Errorf("b 应紧跟在 a 之后: %s", b)
	}

	expectValue(t, s, "a", "0123456789")
	expectValue(t, s, "b", "hello")
	if s.RecordCount() != 2 {
		t.Errorf("RecordCount 错误: %d", s.RecordCount())
	}
	checkTiling(t, s)
}

func TestStore_DuplicateKey(t *testing.T) {
	s := openRaw(t, filepath.Join(testDir(t), "data.db"))
	defer s.Close()

	mustInsert(t, s, "k", "first")
	before := s.IndexEntries()
	length, _ := s.file.Length()

	err := s.Insert([]byte("k"), []byte("second value"))
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("期望 ErrDuplicateKey, 得到: %v", err)
	}

	after := s.IndexEntries()
	if len(after) != len(before) || !after[0].Equals(before[0]) {
		t.Errorf("重复插入不应改变索引: %v -> %v", before, after)
	}
	if l, _ := s.file.Length(); l != length {
		t.Errorf("重复插入不应写入数据: %d -> %d", length, l)
	}
	expectValue(t, s, "k", "first")
}

func TestStore_KeyNotFound(t *testing.T) {
	s := openRaw(t, filepath.Join(testDir(t), "data.db"))
	defer s.Close()

	if _, err := s.Retrieve([]byte("missing")); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("Retrieve 期望 ErrKeyNotFound, 得到: %v", err)
	}
	if err := s.Update([]byte("missing"), []byte("v")); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("Update 期望 ErrKeyNotFound, 得到: %v", err)
	}
	if err := s.Delete([]byte("missing")); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("Delete 期望 ErrKeyNotFound, 得到: %v", err)
	}
	if _, err := s.Header([]byte("missing")); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("Header 期望 ErrKeyNotFound, 得到: %v", err)
	}
}

func TestStore_InvalidKey(t *testing.T) {
	s := openRaw(t, filepath.Join(testDir(t), "data.db"))
	defer s.Close()

	if err := s.Insert(nil, []byte("v")); !errors.Is(err, storage.ErrInvalidKey) {
		t.Errorf("空键期望 ErrInvalidKey, 得到: %v", err)
	}
	long := bytes.Repeat([]byte("k"), storage.MaxKeySize+1)
	if err := s.Insert(long, []byte("v")); !errors.Is(err, storage.ErrInvalidKey) {
		t.Errorf("超长键期望 ErrInvalidKey, 得到: %v", err)
	}
	if s.RecordCount() != 0 {
		t.Errorf("无效键不应写入: %d", s.RecordCount())
	}
}

func TestStore_UpdateInPlace(t *testing.T) {
	s := openRaw(t, filepath.Join(testDir(t), "data.db"))
	defer s.Close()

	mustInsert(t, s, "a", "0123456789")
	mustInsert(t, s, "b", "bbbbb")
	orig := mustHeader(t, s, "a")

	// 变小：原地写入，SlotEnd 不变，多出的部分成为 slack
	if err := s.Update([]byte("a"), []byte("xyz")); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}
	h := mustHeader(t, s, "a")
	if h.SlotStart != orig.SlotStart || h.SlotEnd != orig.SlotEnd {
		t.Errorf("原地更新不应移动槽位: %s -> %s", orig, h)
	}
	if h.PayloadSize != 3 || h.Slack() != 7 {
		t.Errorf("原地更新后负载或 slack 错误: %s", h)
	}
	expectValue(t, s, "a", "xyz")

	// 再变大但不超过容量，仍然原地写入
	if err := s.Update([]byte("a"), []byte("ABCDEFGHIJ")); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}
	h = mustHeader(t, s, "a")
	if h.SlotStart != orig.SlotStart || h.Slack() != 0 {
		t.Errorf("填满容量的更新应原地写入: %s", h)
	}
	expectValue(t, s, "a", "ABCDEFGHIJ")
	expectValue(t, s, "b", "bbbbb")
	checkTiling(t, s)
}

func TestStore_UpdateRelocates(t *testing.T) {
	s := openRaw(t, filepath.Join(testDir(t), "data.db"))
	defer s.Close()

	mustInsert(t, s, "a", strings.Repeat("a", 10)) // [1024,1034)
	mustInsert(t, s, "b", strings.Repeat("b", 20)) // [1034,1054)
	mustInsert(t, s, "c", strings.Repeat("c", 5))  // [1054,1059)

	// b 放不下，迁移到文件末尾，旧槽位并入 a
	if err := s.Update([]byte("b"), []byte(strings.Repeat("B", 25))); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}
	a := mustHeader(t, s, "a")
	b := mustHeader(t, s, "b")
	if a.SlotEnd != 1054 || a.PayloadSize != 10 || a.Slack() != 20 {
		t.Errorf("b 的旧槽位应并入 a: %s", a)
	}
	if b.SlotStart != 1059 || b.SlotEnd != 1084 {
		t.Errorf("b 应追加到文件末尾: %s", b)
	}
	if s.RecordCount() != 3 {
		t.Errorf("迁移不应改变记录数: %d", s.RecordCount())
	}
	expectValue(t, s, "b", strings.Repeat("B", 25))
	checkTiling(t, s)

	// a 位于数据区最前面，迁移后 base 后移
	if err := s.Update([]byte("a"), []byte(strings.Repeat("A", 40))); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}
	if s.DataRegionBase() != 1054 {
		t.Errorf("a 迁移后 base 应为 1054, 得到 %d", s.DataRegionBase())
	}
	a = mustHeader(t, s, "a")
	if a.SlotStart != 1084 {
		t.Errorf("a 应追加到文件末尾: %s", a)
	}
	expectValue(t, s, "a", strings.Repeat("A", 40))
	expectValue(t, s, "c", "ccccc")
	checkTiling(t, s)
}

func TestStore_DeleteCoalesces(t *testing.T) {
	s := openRaw(t, filepath.Join(testDir(t), "data.db"))
	defer s.Close()

	mustInsert(t, s, "a", strings.Repeat("a", 10))
	mustInsert(t, s, "b", strings.Repeat("b", 20))
	mustInsert(t, s, "c", strings.Repeat("c", 5))
	c := mustHeader(t, s, "c")

	if err := s.Delete([]byte("b")); err != nil {
		t.Fatalf("Delete 失败: %v", err)
	}
	if _, err := s.Retrieve([]byte("b")); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("删除后应返回 ErrKeyNotFound, 得到: %v", err)
	}

	a := mustHeader(t, s, "a")
	if a.SlotEnd != c.SlotStart || a.PayloadSize != 10 {
		t.Errorf("a 应吸收 b 的槽位: %s", a)
	}
	if got := mustHeader(t, s, "c"); !got.Equals(c) {
		t.Errorf("删除 b 不应影响 c: %s -> %s", c, got)
	}
	checkTiling(t, s)

	// 合并得到的 slack 可以被 a 的原地更新使用
	length, _ := s.file.Length()
	if err := s.Update([]byte("a"), []byte(strings.Repeat("A", 30))); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}
	if h := mustHeader(t, s, "a"); h.SlotStart != a.SlotStart || h.Slack() != 0 {
		t.Errorf("a 应原地更新: %s", h)
	}
	if l, _ := s.file.Length(); l != length {
		t.Errorf("原地更新不应增长文件: %d -> %d", length, l)
	}
	expectValue(t, s, "a", strings.Repeat("A", 30))
	expectValue(t, s, "c", "ccccc")
}

func TestStore_DeleteFront(t *testing.T) {
	s := openRaw(t, filepath.Join(testDir(t), "data.db"))
	defer s.Close()

	mustInsert(t, s, "a", strings.Repeat("a", 10))
	mustInsert(t, s, "b", strings.Repeat("b", 20))
	b := mustHeader(t, s, "b")

	if err := s.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete 失败: %v", err)
	}
	if s.DataRegionBase() != b.SlotStart {
		t.Errorf("base 应前移到 %d, 得到 %d", b.SlotStart, s.DataRegionBase())
	}
	if got := mustHeader(t, s, "b"); !got.Equals(b) {
		t.Errorf("回收前端不应改变其他记录头: %s -> %s", b, got)
	}
	checkTiling(t, s)

	if err := s.Delete([]byte("b")); err != nil {
		t.Fatalf("Delete 失败: %v", err)
	}
	if s.RecordCount() != 0 || s.DataRegionBase() != b.SlotEnd {
		t.Errorf("删除全部记录后状态错误: count=%d base=%d", s.RecordCount(), s.DataRegionBase())
	}

	// 新记录仍然追加到文件末尾
	mustInsert(t, s, "c", "ccc")
	if h := mustHeader(t, s, "c"); h.SlotStart != b.SlotEnd {
		t.Errorf("新记录应位于文件末尾: %s", h)
	}
	checkTiling(t, s)
}

func TestStore_PredecessorNotFound(t *testing.T) {
	s := openRaw(t, filepath.Join(testDir(t), "data.db"))
	defer s.Close()

	mustInsert(t, s, "a", "aaaa")
	mustInsert(t, s, "b", "bbbb")

	// 人为破坏一致性：让 a 不再覆盖 b 之前的字节
	s.index.Get([]byte("a")).SlotEnd--

	err := s.Delete([]byte("b"))
	if !errors.Is(err, storage.ErrPredecessorNotFound) {
		t.Fatalf("期望 ErrPredecessorNotFound, 得到: %v", err)
	}
	if s.RecordCount() != 2 {
		t.Errorf("失败的删除不应改变记录数: %d", s.RecordCount())
	}
	expectValue(t, s, "b", "bbbb")
}

func TestStore_EmptyValues(t *testing.T) {
	for _, ordered := range []bool{true, false} {
		t.Run(fmt.Sprintf("ordered=%v", ordered), func(t *testing.T) {
			path := filepath.Join(testDir(t), "empty.db")
			s := openRaw(t, path, WithOrderedSlots(ordered))

			mustInsert(t, s, "p", "pp")  // [1024,1026)
			mustInsert(t, s, "a", "")    // [1026,1026)
			mustInsert(t, s, "b", "xyz") // [1026,1029)
			mustInsert(t, s, "c", "q")   // [1029,1030)
			checkTiling(t, s)

			a := mustHeader(t, s, "a")
			if !a.Empty() || a.SlotStart != 1026 || a.PayloadSize != 0 {
				t.Errorf("空值应得到空槽位: %s", a)
			}
			expectValue(t, s, "a", "")

			// 删除空槽位不影响起始偏移量相同的 b
			if err := s.Delete([]byte("a")); err != nil {
				t.Fatalf("Delete(a) 失败: %v", err)
			}
			if err := s.Delete([]byte("c")); err != nil {
				t.Fatalf("Delete(c) 失败: %v", err)
			}
			if h := mustHeader(t, s, "b"); h.SlotEnd != 1030 || h.Slack() != 1 {
				t.Errorf("c 的槽位应并入 b: %s", h)
			}
			checkTiling(t, s)

			mustInsert(t, s, "e", "") // [1030,1030)
			mustInsert(t, s, "f", "ffff")
			if err := s.SaveIndex(); err != nil {
				t.Fatalf("SaveIndex 失败: %v", err)
			}
			if err := s.LoadIndex(); err != nil {
				t.Fatalf("LoadIndex 失败: %v", err)
			}
			if s.RecordCount() != 4 {
				t.Fatalf("加载后记录数错误: %d", s.RecordCount())
			}
			expectValue(t, s, "e", "")
			checkTiling(t, s)

			// 空值更新为非空值时迁移到文件末尾
			if err := s.Update([]byte("e"), []byte("grown")); err != nil {
				t.Fatalf("Update(e) 失败: %v", err)
			}
			if h := mustHeader(t, s, "e"); h.SlotStart != 1034 || h.Capacity() != 5 {
				t.Errorf("e 应追加到文件末尾: %s", h)
			}
			expectValue(t, s, "e", "grown")
			expectValue(t, s, "f", "ffff")
			checkTiling(t, s)

			if err := s.Close(); err != nil {
				t.Fatalf("Close 失败: %v", err)
			}
			s = openRaw(t, path, WithOrderedSlots(ordered))
			defer s.Close()
			if s.RecordCount() != 4 {
				t.Fatalf("重新打开后记录数错误: %d", s.RecordCount())
			}
			for k, v := range map[string]string{"p": "pp", "b": "xyz", "f": "ffff", "e": "grown"} {
				expectValue(t, s, k, v)
			}
			checkTiling(t, s)
		})
	}
}

func TestStore_EmptyValueBeforeBase(t *testing.T) {
	for _, ordered := range []bool{true, false} {
		t.Run(fmt.Sprintf("ordered=%v", ordered), func(t *testing.T) {
			path := filepath.Join(testDir(t), "front.db")
			s := openRaw(t, path, WithOrderedSlots(ordered))

			mustInsert(t, s, "e", "")   // [1024,1024)
			mustInsert(t, s, "x", "xx") // [1024,1026)
			if err := s.Delete([]byte("x")); err != nil {
				t.Fatalf("Delete(x) 失败: %v", err)
			}
			if s.DataRegionBase() != 1026 {
				t.Errorf("base 应前移到 1026, 得到 %d", s.DataRegionBase())
			}

			// 空槽位落在 base 之前，保存和加载都必须接受
			if err := s.Close(); err != nil {
				t.Fatalf("Close 失败: %v", err)
			}
			s = openRaw(t, path, WithOrderedSlots(ordered))
			defer s.Close()
			expectValue(t, s, "e", "")
			if err := s.Delete([]byte("e")); err != nil {
				t.Fatalf("Delete(e) 失败: %v", err)
			}
			if s.RecordCount() != 0 || s.DataRegionBase() != 1026 {
				t.Errorf("删除空槽位不应移动 base: count=%d base=%d", s.RecordCount(), s.DataRegionBase())
			}
		})
	}
}

// rejectingCodec 对值 "reject" 编码失败，其余与 Raw 相同
type rejectingCodec struct {
	codec.Raw
}

func (c rejectingCodec) Encode(value []byte) ([]byte, int, error) {
	if string(value) == "reject" {
		return nil, 0, storage.NewCodecError("encode", value, errors.New("rejected value"))
	}
	return c.Raw.Encode(value)
}

// snapshot 记录失败的操作前后必须保持不变的状态
type snapshot struct {
	entries []*storage.RecordHeader
	count   int
	base    int64
	length  int64
}

func takeSnapshot(t *testing.T, s *Store[[]byte]) snapshot {
	t.Helper()
	length, err := s.file.Length()
	if err != nil {
		t.Fatalf("Length 失败: %v", err)
	}
	return snapshot{entries: s.IndexEntries(), count: s.RecordCount(), base: s.DataRegionBase(), length: length}
}

func expectUnchanged(t *testing.T, s *Store[[]byte], before snapshot) {
	t.Helper()
	after := takeSnapshot(t, s)
	if after.count != before.count || after.base != before.base || after.length != before.length {
		t.Errorf("失败的操作改变了状态: count %d->%d base %d->%d length %d->%d",
			before.count, after.count, before.base, after.base, before.length, after.length)
	}
	if len(after.entries) != len(before.entries) {
		t.Fatalf("失败的操作改变了索引: %d -> %d", len(before.entries), len(after.entries))
	}
	for i := range before.entries {
		if !after.entries[i].Equals(before.entries[i]) {
			t.Errorf("失败的操作改变了记录头: %s -> %s", before.entries[i], after.entries[i])
		}
	}
}

func TestStore_CodecFailureLeavesState(t *testing.T) {
	path := filepath.Join(testDir(t), "data.db")
	s, err := Open[[]byte](path, rejectingCodec{}, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("打开存储失败: %v", err)
	}
	defer s.Close()

	mustInsert(t, s, "a", "aaaa")
	mustInsert(t, s, "b", "bbbb")
	before := takeSnapshot(t, s)

	if err := s.Insert([]byte("c"), []byte("reject")); !errors.Is(err, storage.ErrCodec) {
		t.Fatalf("Insert 期望 ErrCodec, 得到: %v", err)
	}
	expectUnchanged(t, s, before)
	if _, err := s.Retrieve([]byte("c")); !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("编码失败的键不应存在, 得到: %v", err)
	}

	if err := s.Update([]byte("a"), []byte("reject")); !errors.Is(err, storage.ErrCodec) {
		t.Fatalf("Update 期望 ErrCodec, 得到: %v", err)
	}
	expectUnchanged(t, s, before)
	expectValue(t, s, "a", "aaaa")

	// 失败之后存储仍可正常使用
	mustInsert(t, s, "c", "cccc")
	checkTiling(t, s)
}

func TestStore_WriteFailureLeavesState(t *testing.T) {
	for _, ordered := range []bool{true, false} {
		t.Run(fmt.Sprintf("ordered=%v", ordered), func(t *testing.T) {
			s := openRaw(t, filepath.Join(testDir(t), "data.db"),
				WithOrderedSlots(ordered), WithSaveIndexOnClose(false))
			defer s.Close()

			mustInsert(t, s, "a", "aaaa")
			mustInsert(t, s, "b", "bbbb")
			before := takeSnapshot(t, s)

			// 关闭底层句柄，之后的每次写入都会失败
			if err := s.file.file.Close(); err != nil {
				t.Fatalf("关闭句柄失败: %v", err)
			}

			var ioErr *IOError
			if err := s.Insert([]byte("c"), []byte("cccc")); !errors.As(err, &ioErr) {
				t.Fatalf("Insert 期望 *IOError, 得到: %v", err)
			}
			expectUnchanged(t, s, before)

			// 放不下，走迁移路径
			if err := s.Update([]byte("b"), []byte("bbbbbbbbbb")); !errors.As(err, &ioErr) {
				t.Fatalf("Update 期望 *IOError, 得到: %v", err)
			}
			expectUnchanged(t, s, before)
			if h := s.index.Get([]byte("b")); h == nil || h.SlotStart != 1028 {
				t.Errorf("迁移失败后 b 应留在原槽位: %v", h)
			}
		})
	}
}

// TestStore_Scenario 插入 1..5，删除 3，更新 1 十次，保存后重新打开
func TestStore_Scenario(t *testing.T) {
	for _, ordered := range []bool{true, false} {
		t.Run(fmt.Sprintf("ordered=%v", ordered), func(t *testing.T) {
			path := filepath.Join(testDir(t), "scenario.db")
			s := openRaw(t, path, WithOrderedSlots(ordered))

			for i := 1; i <= 5; i++ {
				mustInsert(t, s, fmt.Sprint(i), fmt.Sprintf("value-%d", i))
			}
			if err := s.Delete([]byte("3")); err != nil {
				t.Fatalf("Delete 失败: %v", err)
			}
			for i := 1; i <= 10; i++ {
				v := strings.Repeat(fmt.Sprint(i%10), i*3)
				if err := s.Update([]byte("1"), []byte(v)); err != nil {
					t.Fatalf("第 %d 次 Update 失败: %v", i, err)
				}
				checkTiling(t, s)
			}
			if err := s.SaveIndex(); err != nil {
				t.Fatalf("SaveIndex 失败: %v", err)
			}
			entries := s.IndexEntries()
			base := s.DataRegionBase()
			if err := s.Close(); err != nil {
				t.Fatalf("Close 失败: %v", err)
			}

			s = openRaw(t, path, WithOrderedSlots(ordered))
			defer s.Close()

			if s.RecordCount() != 4 {
				t.Fatalf("重新打开后记录数错误: %d", s.RecordCount())
			}
			if s.DataRegionBase() != base {
				t.Errorf("base 不一致: %d != %d", s.DataRegionBase(), base)
			}
			reloaded := s.IndexEntries()
			for i := range entries {
				if !reloaded[i].Equals(entries[i]) {
					t.Errorf("记录头不一致: %s != %s", reloaded[i], entries[i])
				}
			}

			expectValue(t, s, "1", strings.Repeat("0", 30))
			for _, k := range []string{"2", "4", "5"} {
				expectValue(t, s, k, "value-"+k)
			}
			if _, err := s.Retrieve([]byte("3")); !errors.Is(err, storage.ErrKeyNotFound) {
				t.Errorf("3 已被删除, 得到: %v", err)
			}
			checkTiling(t, s)
		})
	}
}

// TestStore_OrderedMatchesLinear 对两种前驱查找方式执行同样的随机操作，结果必须一致
func TestStore_OrderedMatchesLinear(t *testing.T) {
	dir := testDir(t)
	ordered := openRaw(t, filepath.Join(dir, "ordered.db"), WithOrderedSlots(true))
	defer ordered.Close()
	linear := openRaw(t, filepath.Join(dir, "linear.db"), WithOrderedSlots(false), WithIndexType(index.TypeMap))
	defer linear.Close()

	rng := rand.New(rand.NewSource(42))
	live := make(map[string]string)
	for i := 0; i < 500; i++ {
		key := fmt.Sprintf("key-%d", rng.Intn(40))
		value := strings.Repeat("v", 1+rng.Intn(64))

		var errO, errL error
		switch _, exists := live[key]; {
		case !exists:
			errO = ordered.Insert([]byte(key), []byte(value))
			errL = linear.Insert([]byte(key), []byte(value))
			live[key] = value
		case rng.Intn(3) == 0:
			errO = ordered.Delete([]byte(key))
			errL = linear.Delete([]byte(key))
			delete(live, key)
		default:
			errO = ordered.Update([]byte(key), []byte(value))
			errL = linear.Update([]byte(key), []byte(value))
			live[key] = value
		}
		if errO != nil || errL != nil {
			t.Fatalf("第 %d 步操作失败: ordered=%v linear=%v", i, errO, errL)
		}
	}

	checkTiling(t, ordered)
	checkTiling(t, linear)

	eo, el := ordered.IndexEntries(), linear.IndexEntries()
	if len(eo) != len(el) || len(eo) != len(live) {
		t.Fatalf("记录数不一致: ordered=%d linear=%d want=%d", len(eo), len(el), len(live))
	}
	for i := range eo {
		if !eo[i].Equals(el[i]) {
			t.Errorf("记录头不一致: %s != %s", eo[i], el[i])
		}
	}
	if ordered.DataRegionBase() != linear.DataRegionBase() {
		t.Errorf("base 不一致: %d != %d", ordered.DataRegionBase(), linear.DataRegionBase())
	}
	for k, v := range live {
		expectValue(t, ordered, k, v)
		expectValue(t, linear, k, v)
	}
}

func TestStore_MissingIndexWithData(t *testing.T) {
	path := filepath.Join(testDir(t), "data.db")
	s := openRaw(t, path, WithSaveIndexOnClose(false))
	mustInsert(t, s, "a", "aaaa")
	mustInsert(t, s, "b", "bbbb")
	length, _ := s.file.Length()
	if err := s.Close(); err != nil {
		t.Fatalf("Close 失败: %v", err)
	}

	s = openRaw(t, path)
	defer s.Close()
	if s.RecordCount() != 0 {
		t.Errorf("没有索引文件时应为空库: %d", s.RecordCount())
	}
	if s.DataRegionBase() != length {
		t.Errorf("无法定位的数据应被跳过: base=%d length=%d", s.DataRegionBase(), length)
	}
	mustInsert(t, s, "c", "cc")
	if h := mustHeader(t, s, "c"); h.SlotStart != length {
		t.Errorf("新记录应从文件末尾开始: %s", h)
	}
	checkTiling(t, s)
}

func TestStore_Stats(t *testing.T) {
	s := openRaw(t, filepath.Join(testDir(t), "data.db"))
	defer s.Close()

	mustInsert(t, s, "a", strings.Repeat("a", 10))
	mustInsert(t, s, "b", strings.Repeat("b", 20))
	mustInsert(t, s, "c", strings.Repeat("c", 5))
	if err := s.Delete([]byte("b")); err != nil {
		t.Fatalf("Delete 失败: %v", err)
	}

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats 失败: %v", err)
	}
	if st.Records != 2 || st.DataRegionBase != 1024 || st.FileSize != 1059 {
		t.Errorf("统计信息错误: %+v", st)
	}
	if st.LiveSpan != 35 || st.PayloadBytes != 15 || st.SlackBytes != 20 {
		t.Errorf("空间统计错误: %+v", st)
	}

	var buf bytes.Buffer
	n, err := writeSidecar(&buf, s.DataRegionBase(), s.IndexEntries())
	if err != nil {
		t.Fatalf("writeSidecar 失败: %v", err)
	}
	if st.IndexSize != n || int64(buf.Len()) != n {
		t.Errorf("索引大小不一致: stats=%d written=%d buf=%d", st.IndexSize, n, buf.Len())
	}
}

func TestStore_Metrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	s := openRaw(t, filepath.Join(testDir(t), "data.db"), WithMetrics(m))
	defer s.Close()

	mustInsert(t, s, "a", "aaaa")
	mustInsert(t, s, "b", "bbbb")
	s.Insert([]byte("a"), []byte("dup"))
	s.Retrieve([]byte("missing"))
	if err := s.Update([]byte("b"), []byte("bbbbbbbb")); err != nil {
		t.Fatalf("Update 失败: %v", err)
	}

	if v := testutil.ToFloat64(m.operations.WithLabelValues("insert", "ok")); v != 2 {
		t.Errorf("insert ok 计数错误: %v", v)
	}
	if v := testutil.ToFloat64(m.operations.WithLabelValues("insert", "duplicate")); v != 1 {
		t.Errorf("insert duplicate 计数错误: %v", v)
	}
	if v := testutil.ToFloat64(m.operations.WithLabelValues("retrieve", "not_found")); v != 1 {
		t.Errorf("retrieve not_found 计数错误: %v", v)
	}
	if v := testutil.ToFloat64(m.relocations); v != 1 {
		t.Errorf("迁移计数错误: %v", v)
	}
	if v := testutil.ToFloat64(m.coalesced); v != 4 {
		t.Errorf("释放字节数错误: %v", v)
	}
	if v := testutil.ToFloat64(m.bytesWritten); v != 16 {
		t.Errorf("写入字节数错误: %v", v)
	}
	if v := testutil.ToFloat64(m.records); v != 2 {
		t.Errorf("记录数指标错误: %v", v)
	}
}

func TestStore_Codecs(t *testing.T) {
	type doc struct {
		Title string   `codec:"title" msgpack:"title"`
		Tags  []string `codec:"tags" msgpack:"tags"`
		Rev   int      `codec:"rev" msgpack:"rev"`
	}

	codecs := map[string]codec.Codec[doc]{
		"msgpack":        codec.NewMsgpack[doc](),
		"msgpack5":       codec.NewMsgpackV5[doc](),
		"snappy+msgpack": codec.NewSnappy[doc](codec.NewMsgpack[doc]()),
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(testDir(t), "docs.db")
			s, err := Open[doc](path, c, WithLogger(quietLogger()))
			if err != nil {
				t.Fatalf("打开存储失败: %v", err)
			}

			want := doc{Title: "slots", Tags: []string{"a", "b"}, Rev: 1}
			if err := s.Insert([]byte("d1"), want); err != nil {
				t.Fatalf("Insert 失败: %v", err)
			}
			want.Rev = 2
			want.Tags = append(want.Tags, "a much longer tag that forces relocation")
			if err := s.Update([]byte("d1"), want); err != nil {
				t.Fatalf("Update 失败: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close 失败: %v", err)
			}

			s, err = Open[doc](path, c, WithLogger(quietLogger()))
			if err != nil {
				t.Fatalf("重新打开失败: %v", err)
			}
			defer s.Close()
			got, err := s.Retrieve([]byte("d1"))
			if err != nil {
				t.Fatalf("Retrieve 失败: %v", err)
			}
			if got.Title != want.Title || got.Rev != want.Rev || len(got.Tags) != 3 {
				t.Errorf("值不匹配: got %+v, want %+v", got, want)
			}
		})
	}
}

func TestStore_ClosedAndRemove(t *testing.T) {
	path := filepath.Join(testDir(t), "data.db")
	s := openRaw(t, path)
	mustInsert(t, s, "a", "aaaa")
	if err := s.Close(); err != nil {
		t.Fatalf("Close 失败: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("重复 Close 不应出错: %v", err)
	}
	if err := s.Insert([]byte("b"), []byte("b")); err != ErrNotOpen {
		t.Errorf("关闭后期望 ErrNotOpen, 得到: %v", err)
	}
	if _, err := os.Stat(s.IndexPath()); err != nil {
		t.Errorf("关闭时应写出索引文件: %v", err)
	}

	s = openRaw(t, path)
	expectValue(t, s, "a", "aaaa")
	if err := s.Remove(); err != nil {
		t.Fatalf("Remove 失败: %v", err)
	}
	for _, p := range []string{path, DefaultIndexPath(path)} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s 应已被删除: %v", p, err)
		}
	}
}

func TestDefaultIndexPath(t *testing.T) {
	cases := map[string]string{
		"data/store.db": "data/store.idx",
		"store":         "store.idx",
		"store.idx":     "store.idx.idx",
	}
	for in, want := range cases {
		if got := DefaultIndexPath(in); got != want {
			t.Errorf("DefaultIndexPath(%q) = %q, want %q", in, got, want)
		}
	}
}
