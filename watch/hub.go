// Package watch 向订阅者推送存储的变更事件
package watch

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	art "github.com/plar/go-adaptive-radix-tree"
)

// EventType 定义事件类型
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event 表示一次成功的变更
type Event struct {
	Type      EventType `json:"type"`
	Key       string    `json:"key"`
	Size      uint32    `json:"size,omitempty"`       // 变更后的负载字节数，删除事件为 0
	SlotStart int64     `json:"slot_start,omitempty"` // 变更后槽位的起始偏移量
	Relocated bool      `json:"relocated,omitempty"`  // 更新时槽位是否迁移到了文件末尾
}

// Watcher 是一个订阅者
type Watcher struct {
	// Ch 接收匹配的事件，Hub 取消注册时关闭
	Ch chan *Event

	// Prefix 关注的键前缀，为空表示关注所有键
	Prefix string

	closed bool
}

// Hub 管理订阅者并分发事件
//
// 带前缀的订阅者按前缀存放在 ART 树中，分发时依次查找键的每个前缀；
// 不带前缀的订阅者单独存放
type Hub struct {
	mu         sync.RWMutex
	all        []*Watcher // 关注所有键的订阅者
	prefixTree art.Tree   // 前缀 -> []*Watcher
	count      int
	dropped    atomic.Int64
}

// NewHub 创建事件中心
func NewHub() *Hub {
	return &Hub{prefixTree: art.New()}
}

// Watch 注册一个订阅者
//
// 参数：
//   - prefix: 关注的前缀，为空表示关注所有键
//   - bufferSize: 事件通道的缓冲区大小
//
// 返回：
//   - *Watcher: 订阅者，使用完毕后必须调用 Unregister
func (h *Hub) Watch(prefix string, bufferSize int) *Watcher {
	w := &Watcher{
		Ch:     make(chan *Event, bufferSize),
		Prefix: prefix,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if prefix == "" {
		h.all = append(h.all, w)
	} else {
		var list []*Watcher
		if val, found := h.prefixTree.Search(art.Key(prefix)); found {
			list = val.([]*Watcher)
		}
		h.prefixTree.Insert(art.Key(prefix), append(list, w))
	}
	h.count++
	return w
}

// Unregister 取消注册并关闭订阅者的通道，重复调用是安全的
func (h *Hub) Unregister(w *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if w.closed {
		return
	}

	if w.Prefix == "" {
		h.all = removeWatcher(h.all, w)
	} else if val, found := h.prefixTree.Search(art.Key(w.Prefix)); found {
		list := removeWatcher(val.([]*Watcher), w)
		if len(list) > 0 {
			h.prefixTree.Insert(art.Key(w.Prefix), list)
		} else {
			h.prefixTree.Delete(art.Key(w.Prefix))
		}
	}

	close(w.Ch)
	w.closed = true
	h.count--
}

// Notify 把事件发送给所有匹配的订阅者
// 发送是非阻塞的，通道已满的订阅者会错过该事件
func (h *Hub) Notify(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, w := range h.match(event.Key) {
		select {
		case w.Ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// NotifyInsert 发送插入事件
func (h *Hub) NotifyInsert(key string, size uint32, slotStart int64) {
	h.Notify(&Event{Type: EventInsert, Key: key, Size: size, SlotStart: slotStart})
}

// NotifyUpdate 发送更新事件
func (h *Hub) NotifyUpdate(key string, size uint32, slotStart int64, relocated bool) {
	h.Notify(&Event{Type: EventUpdate, Key: key, Size: size, SlotStart: slotStart, Relocated: relocated})
}

// NotifyDelete 发送删除事件
func (h *Hub) NotifyDelete(key string) {
	h.Notify(&Event{Type: EventDelete, Key: key})
}

// match 返回关注 key 的所有订阅者，调用方持有读锁
func (h *Hub) match(key string) []*Watcher {
	result := append([]*Watcher(nil), h.all...)
	for i := 1; i <= len(key); i++ {
		if val, found := h.prefixTree.Search(art.Key(key[:i])); found {
			result = append(result, val.([]*Watcher)...)
		}
	}
	return result
}

// Count 返回当前订阅者数量
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Dropped 返回因通道已满而丢弃的事件数
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close 关闭所有订阅者
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, w := range h.all {
		close(w.Ch)
		w.closed = true
	}
	h.prefixTree.ForEach(func(node art.Node) bool {
		for _, w := range node.Value().([]*Watcher) {
			close(w.Ch)
			w.closed = true
		}
		return true
	}, art.TraverseLeaf)

	h.all = nil
	h.prefixTree = art.New()
	h.count = 0
}

func (h *Hub) String() string {
	return fmt.Sprintf("Hub{watchers: %d, dropped: %d}", h.Count(), h.Dropped())
}

func removeWatcher(list []*Watcher, w *Watcher) []*Watcher {
	for i, x := range list {
		if x == w {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// MarshalEvent 把事件编码为 JSON，用于 SSE 的 data 字段
func MarshalEvent(event *Event) ([]byte, error) {
	return json.Marshal(event)
}
