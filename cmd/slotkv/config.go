package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/forever-free1/SlotKV/api"
	"github.com/forever-free1/SlotKV/storage/codec"
	"github.com/forever-free1/SlotKV/storage/index"
	"github.com/forever-free1/SlotKV/storage/slotstore"
	"gopkg.in/yaml.v3"
)

// Config 是 slotkv 的配置，可以来自 YAML 文件，命令行参数优先
type Config struct {
	Data     string      `yaml:"data"`
	Index    string      `yaml:"index"` // 为空时由 data 推导
	HTTP     string      `yaml:"http"`
	LogLevel string      `yaml:"log_level"`
	Codec    string      `yaml:"codec"` // msgpack 或 msgpack5
	Snappy   bool        `yaml:"snappy"`
	Rate     float64     `yaml:"rate"` // 每秒请求数，0 表示不限流
	Burst    int         `yaml:"burst"`
	Store    StoreConfig `yaml:"store"`
}

// StoreConfig 对应 slotstore.Options
type StoreConfig struct {
	ReservedSize  int64   `yaml:"reserved_size"`
	IndexType     string  `yaml:"index_type"` // art 或 map
	OrderedSlots  bool    `yaml:"ordered_slots"`
	BloomFilterN  uint    `yaml:"bloom_filter_n"`
	BloomFilterFP float64 `yaml:"bloom_filter_fp"`
}

func defaultConfig() Config {
	return Config{
		Data:     "./data/slotkv.db",
		HTTP:     "localhost:8080",
		LogLevel: "info",
		Codec:    "msgpack",
		Store: StoreConfig{
			ReservedSize:  slotstore.DefaultReservedSize,
			IndexType:     "art",
			OrderedSlots:  true,
			BloomFilterN:  100000,
			BloomFilterFP: 0.01,
		},
	}
}

// parseArgs 解析命令行参数
// 先载入默认值，再载入 -config 指定的文件，最后用显式设置的参数覆盖
func parseArgs(args []string) (Config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("slotkv", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	data := fs.String("data", cfg.Data, "Data file path")
	idx := fs.String("index", "", "Index sidecar path (default: data path with .idx extension)")
	httpAddr := fs.String("http", cfg.HTTP, "Address to listen on")
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	codecName := fs.String("codec", cfg.Codec, "Value codec (msgpack, msgpack5)")
	snappy := fs.Bool("snappy", false, "Compress encoded values with snappy")
	rate := fs.Float64("rate", 0, "Requests per second, 0 disables rate limiting")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unknown arguments: %v", fs.Args())
	}

	if *configPath != "" {
		loaded, err := loadConfig(*configPath, cfg)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data":
			cfg.Data = *data
		case "index":
			cfg.Index = *idx
		case "http":
			cfg.HTTP = *httpAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "codec":
			cfg.Codec = *codecName
		case "snappy":
			cfg.Snappy = *snappy
		case "rate":
			cfg.Rate = *rate
		}
	})
	return cfg, cfg.validate()
}

// loadConfig 把 YAML 文件叠加到 base 上
func loadConfig(path string, base Config) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("读取配置文件失败: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return base, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Data == "" {
		errs = append(errs, errors.New("data path is required"))
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.indexType(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.newCodec(); err != nil {
		errs = append(errs, err)
	}
	if c.Rate < 0 {
		errs = append(errs, fmt.Errorf("rate must not be negative: %v", c.Rate))
	}
	if c.Store.ReservedSize < 0 {
		errs = append(errs, fmt.Errorf("reserved_size must not be negative: %d", c.Store.ReservedSize))
	}
	return errors.Join(errs...)
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return l, nil
}

func (c Config) indexType() (index.Type, error) {
	switch strings.ToLower(c.Store.IndexType) {
	case "", "art":
		return index.TypeART, nil
	case "map":
		return index.TypeMap, nil
	}
	return 0, fmt.Errorf("unknown index type %q", c.Store.IndexType)
}

// newCodec 按配置创建文档编解码器
func (c Config) newCodec() (codec.Codec[api.Document], error) {
	var cd codec.Codec[api.Document]
	switch strings.ToLower(c.Codec) {
	case "", "msgpack":
		cd = codec.NewMsgpack[api.Document]()
	case "msgpack5":
		cd = codec.NewMsgpackV5[api.Document]()
	default:
		return nil, fmt.Errorf("unknown codec %q", c.Codec)
	}
	if c.Snappy {
		cd = codec.NewSnappy(cd)
	}
	return cd, nil
}

// storeOptions 把配置转换为 slotstore 选项
func (c Config) storeOptions() []slotstore.Option {
	it, _ := c.indexType()
	opts := []slotstore.Option{
		slotstore.WithIndexType(it),
		slotstore.WithReservedSize(c.Store.ReservedSize),
		slotstore.WithOrderedSlots(c.Store.OrderedSlots),
	}
	if c.Store.BloomFilterN > 0 && c.Store.BloomFilterFP > 0 {
		opts = append(opts, slotstore.WithBloomFilter(c.Store.BloomFilterN, c.Store.BloomFilterFP))
	}
	if c.Index != "" {
		opts = append(opts, slotstore.WithIndexPath(c.Index))
	}
	return opts
}
