// Command slotkv 通过 HTTP 提供基于槽位的文档存储
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/forever-free1/SlotKV/api"
	apihttp "github.com/forever-free1/SlotKV/api/http"
	"github.com/forever-free1/SlotKV/storage/slotstore"
	"github.com/forever-free1/SlotKV/watch"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := mainImpl(os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "slotkv: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl(args []string) (err error) {
	cfg, err := parseArgs(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level, _ := cfg.level()
	logger := newLogger(level)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	cd, _ := cfg.newCodec()
	opts := append(cfg.storeOptions(),
		slotstore.WithLogger(logger),
		slotstore.WithMetrics(slotstore.NewMetrics(reg)),
	)
	store, err := slotstore.Open[api.Document](cfg.Data, cd, opts...)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	// 关闭时写出索引文件
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	hub := watch.NewHub()
	defer hub.Close()

	logger.Info("slotkv 已启动",
		"data", store.Path(),
		"index", store.IndexPath(),
		"records", store.RecordCount())

	srv := apihttp.NewServer(cfg.HTTP, store, hub,
		apihttp.WithLogger(logger),
		apihttp.WithMetrics(reg),
		apihttp.WithRateLimit(cfg.Rate, cfg.Burst),
	)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("正在关闭")
	return nil
}

// newLogger 终端上输出彩色日志
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}
