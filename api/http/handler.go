package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/forever-free1/SlotKV/api"
	"github.com/forever-free1/SlotKV/storage"
	"github.com/forever-free1/SlotKV/storage/slotstore"
	"github.com/forever-free1/SlotKV/watch"
	"github.com/gin-gonic/gin"
)

// Store 是 Handler 需要的存储操作，由 *slotstore.Store[api.Document] 实现
type Store interface {
	storage.Engine[api.Document]
	Header(key []byte) (*storage.RecordHeader, error)
	IndexEntries() []*storage.RecordHeader
	Stats() (slotstore.Stats, error)
	SaveIndex() error
	Compact() error
}

// MaxBodySize 是单个文档请求体的最大字节数
const MaxBodySize = 16 << 20

// ==================== Handler 定义 ====================

// Handler HTTP 请求处理器
// 存储本身不是并发安全的，所有访问都经过 mu 串行化
type Handler struct {
	mu     sync.Mutex
	store  Store
	hub    *watch.Hub
	logger *slog.Logger
}

// NewHandler 创建新的 Handler
//
// 参数：
//   - store: 存储
//   - hub: 事件中心，为 nil 时不发送事件
//   - logger: 日志，为 nil 时使用 slog.Default()
func NewHandler(store Store, hub *watch.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, hub: hub, logger: logger}
}

// ==================== API 路由 ====================

// RegisterRoutes 注册所有路由
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", h.HealthCheck)

	v1 := engine.Group("/v1")
	{
		records := v1.Group("/records")
		{
			// 键可以包含 '/'，便于按前缀订阅
			records.POST("/*key", h.Insert)
			records.GET("/*key", h.Retrieve)
			records.PUT("/*key", h.Update)
			records.DELETE("/*key", h.Delete)
		}

		v1.GET("/index", h.Index)
		v1.GET("/stats", h.Stats)

		admin := v1.Group("/admin")
		{
			admin.POST("/save-index", h.SaveIndex)
			admin.POST("/compact", h.Compact)
		}

		// SSE 长连接
		v1.GET("/watch", h.Watch)
	}
}

// ==================== 响应结构 ====================

// HeaderResponse 是记录头的 JSON 表示
type HeaderResponse struct {
	Key         string `json:"key"`
	PayloadSize uint32 `json:"payload_size"`
	SlotStart   int64  `json:"slot_start"`
	SlotEnd     int64  `json:"slot_end"`
	Slack       int64  `json:"slack"`
}

func toHeaderResponse(rh *storage.RecordHeader) HeaderResponse {
	return HeaderResponse{
		Key:         string(rh.Key),
		PayloadSize: rh.PayloadSize,
		SlotStart:   rh.SlotStart,
		SlotEnd:     rh.SlotEnd,
		Slack:       rh.Slack(),
	}
}

// ==================== API 处理函数 ====================

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Insert 写入新文档
// POST /v1/records/*key
func (h *Handler) Insert(c *gin.Context) {
	key := keyParam(c)
	doc, ok := h.readDocument(c)
	if !ok {
		return
	}

	h.mu.Lock()
	err := h.store.Insert([]byte(key), doc)
	var rh *storage.RecordHeader
	if err == nil {
		rh, err = h.store.Header([]byte(key))
	}
	h.mu.Unlock()

	if err != nil {
		h.fail(c, "insert", key, err)
		return
	}
	if h.hub != nil {
		h.hub.NotifyInsert(key, rh.PayloadSize, rh.SlotStart)
	}
	c.JSON(http.StatusCreated, toHeaderResponse(rh))
}

// Retrieve 读取文档，按写入时的 Content-Type 原样返回请求体
// GET /v1/records/*key
func (h *Handler) Retrieve(c *gin.Context) {
	key := keyParam(c)

	h.mu.Lock()
	doc, err := h.store.Retrieve([]byte(key))
	h.mu.Unlock()

	if err != nil {
		h.fail(c, "retrieve", key, err)
		return
	}

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("X-Updated-At", time.Unix(0, doc.UpdatedAt).UTC().Format(time.RFC3339Nano))
	c.Data(http.StatusOK, contentType, doc.Body)
}

// Update 覆盖已存在的文档
// PUT /v1/records/*key
func (h *Handler) Update(c *gin.Context) {
	key := keyParam(c)
	doc, ok := h.readDocument(c)
	if !ok {
		return
	}

	h.mu.Lock()
	before, err := h.store.Header([]byte(key))
	var after *storage.RecordHeader
	if err == nil {
		err = h.store.Update([]byte(key), doc)
	}
	if err == nil {
		after, err = h.store.Header([]byte(key))
	}
	h.mu.Unlock()

	if err != nil {
		h.fail(c, "update", key, err)
		return
	}
	relocated := after.SlotStart != before.SlotStart
	if h.hub != nil {
		h.hub.NotifyUpdate(key, after.PayloadSize, after.SlotStart, relocated)
	}
	c.JSON(http.StatusOK, gin.H{
		"header":    toHeaderResponse(after),
		"relocated": relocated,
	})
}

// Delete 删除文档
// DELETE /v1/records/*key
func (h *Handler) Delete(c *gin.Context) {
	key := keyParam(c)

	h.mu.Lock()
	err := h.store.Delete([]byte(key))
	h.mu.Unlock()

	if err != nil {
		h.fail(c, "delete", key, err)
		return
	}
	if h.hub != nil {
		h.hub.NotifyDelete(key)
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "ok",
		"key":     key,
	})
}

// Index 按槽位顺序列出所有记录头
// GET /v1/index
func (h *Handler) Index(c *gin.Context) {
	h.mu.Lock()
	entries := h.store.IndexEntries()
	h.mu.Unlock()

	resp := make([]HeaderResponse, 0, len(entries))
	for _, rh := range entries {
		resp = append(resp, toHeaderResponse(rh))
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(resp),
		"entries": resp,
	})
}

// Stats 返回存储统计
// GET /v1/stats
func (h *Handler) Stats(c *gin.Context) {
	h.mu.Lock()
	st, err := h.store.Stats()
	h.mu.Unlock()

	if err != nil {
		h.fail(c, "stats", "", err)
		return
	}
	resp := gin.H{"store": st}
	if h.hub != nil {
		resp["watchers"] = h.hub.Count()
		resp["dropped_events"] = h.hub.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}

// SaveIndex 立即写出索引文件
// POST /v1/admin/save-index
func (h *Handler) SaveIndex(c *gin.Context) {
	h.mu.Lock()
	err := h.store.SaveIndex()
	h.mu.Unlock()

	if err != nil {
		h.fail(c, "save-index", "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// Compact 压缩数据文件
// POST /v1/admin/compact
func (h *Handler) Compact(c *gin.Context) {
	h.mu.Lock()
	err := h.store.Compact()
	var st slotstore.Stats
	if err == nil {
		st, err = h.store.Stats()
	}
	h.mu.Unlock()

	if err != nil {
		h.fail(c, "compact", "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "store": st})
}

// ==================== Watch (SSE) ====================

// Watch 处理 Watch 请求
// GET /v1/watch?prefix=xxx
// 使用 Server-Sent Events (SSE) 实现长连接
func (h *Handler) Watch(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "watch is disabled"})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	prefix := c.Query("prefix")
	watcher := h.hub.Watch(prefix, 1000)
	defer h.hub.Unregister(watcher)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, ": connected\n\n")
	flusher.Flush()

	clientGone := c.Request.Context().Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-clientGone:
			return

		case event, ok := <-watcher.Ch:
			if !ok {
				return
			}
			data, err := watch.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// ==================== 辅助函数 ====================

// keyParam 取出路径中的键，去掉通配参数的前导 '/'
func keyParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

// readDocument 把请求体读成 Document，失败时已写出错误响应
func (h *Handler) readDocument(c *gin.Context) (api.Document, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": "invalid request body: " + err.Error()})
		return api.Document{}, false
	}
	return api.Document{
		ContentType: c.ContentType(),
		Body:        body,
		UpdatedAt:   time.Now().UnixNano(),
	}, true
}

// fail 把存储错误映射为 HTTP 状态码
func (h *Handler) fail(c *gin.Context, op, key string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateKey):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrCodec):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("存储操作失败", "op", op, "key", key, "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
