package http

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/forever-free1/SlotKV/watch"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// ServerOptions 定义 Server 的配置选项
type ServerOptions struct {
	Logger   *slog.Logger
	Gatherer prometheus.Gatherer // 为 nil 时不注册 /metrics
	Rate     float64             // 每秒允许的请求数，0 表示不限流
	Burst    int
}

// ServerOption 定义 ServerOptions 的配置函数
type ServerOption func(*ServerOptions)

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithMetrics 在 /metrics 上暴露 g 中的指标
func WithMetrics(g prometheus.Gatherer) ServerOption {
	return func(o *ServerOptions) {
		o.Gatherer = g
	}
}

// WithRateLimit 设置全局令牌桶限流
// burst 小于 1 时取 rps 向上取整
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(o *ServerOptions) {
		o.Rate = rps
		o.Burst = burst
	}
}

// Server HTTP 服务器
type Server struct {
	addr    string
	engine  *gin.Engine
	handler *Handler
	logger  *slog.Logger
}

// NewServer 创建新的 Server
func NewServer(addr string, store Store, hub *watch.Hub, opts ...ServerOption) *Server {
	options := &ServerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(logger))
	if options.Rate > 0 {
		burst := options.Burst
		if burst < 1 {
			burst = int(math.Ceil(options.Rate))
		}
		engine.Use(rateLimit(rate.NewLimiter(rate.Limit(options.Rate), burst)))
	}
	if options.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(options.Gatherer, promhttp.HandlerOpts{})))
	}

	handler := NewHandler(store, hub, logger)
	handler.RegisterRoutes(engine)

	return &Server{
		addr:    addr,
		engine:  engine,
		handler: handler,
		logger:  logger,
	}
}

// Run 启动服务器，ctx 取消后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP 服务已启动", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP 实现 http.Handler 接口
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// ==================== 中间件 ====================

// accessLog 用 slog 记录每个请求
func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// rateLimit 超出令牌桶的请求返回 429
func rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			retry := max(time.Duration(float64(time.Second)/float64(limiter.Limit())), time.Second)
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
