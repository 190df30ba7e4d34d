package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bullionwatch/internal/feed"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: test\n"), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.App.Name != "test" {
		t.Fatalf("app.name 应为 test, 实际 %s", cfg.App.Name)
	}
	if cfg.FeedFormat() != feed.FormatJSON {
		t.Fatalf("默认格式应为 json, 实际 %s", cfg.Feed.Format)
	}
	if cfg.Feed.Addressing.Gold != (feed.Address{Row: 5, Column: 1}) {
		t.Fatalf("gold 地址不正确: %+v", cfg.Feed.Addressing.Gold)
	}
	if cfg.Feed.Addressing.Silver != (feed.Address{Row: 4, Column: 1}) {
		t.Fatalf("silver 地址不正确: %+v", cfg.Feed.Addressing.Silver)
	}
	if cfg.Cache.TTL != time.Minute {
		t.Fatalf("cache.ttl 应为 1m, 实际 %s", cfg.Cache.TTL)
	}
	if cfg.Scheduler.Deferred.Deadline != 10*time.Minute+10*time.Second {
		t.Fatalf("deferred.deadline 不正确: %s", cfg.Scheduler.Deferred.Deadline)
	}
	if !cfg.Scheduler.AutoRefreshDefault {
		t.Fatal("auto_refresh_default 默认应为 true")
	}
	if cfg.State.Backend != StateBackendFile {
		t.Fatalf("state.backend 应为 file, 实际 %s", cfg.State.Backend)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BULLIONWATCH_CACHE_TTL", "90s")
	t.Setenv("BULLIONWATCH_FEED_FORMAT", "tsv")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Fatalf("环境变量应覆盖 cache.ttl, 实际 %s", cfg.Cache.TTL)
	}
	if cfg.FeedFormat() != feed.FormatTSV {
		t.Fatalf("环境变量应覆盖 feed.format, 实际 %s", cfg.Feed.Format)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Config{}
		cfg.Feed.URL = "http://feed"
		cfg.Feed.Format = "tsv"
		cfg.Feed.Addressing = feed.Addressing{Gold: feed.Address{Row: 5, Column: 1}, Silver: feed.Address{Row: 4, Column: 1}}
		cfg.Feed.ConnectTimeout = time.Second
		cfg.Feed.ReadTimeout = time.Second
		cfg.History.EstimatePct = 0.5
		cfg.Cache.TTL = time.Minute
		cfg.Scheduler.Alarm.Enabled = true
		cfg.Scheduler.Alarm.Spec = "@every 10m"
		cfg.State.Backend = StateBackendMemory
		cfg.Export.MaxDataPoints = 10
		return cfg
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("合法配置不应报错: %v", err)
	}

	cases := map[string]func(*Config){
		"empty url":       func(c *Config) { c.Feed.URL = "" },
		"bad format":      func(c *Config) { c.Feed.Format = "xml" },
		"tsv row zero":    func(c *Config) { c.Feed.Addressing.Gold.Row = 0 },
		"zero ttl":        func(c *Config) { c.Cache.TTL = 0 },
		"bad alarm spec":  func(c *Config) { c.Scheduler.Alarm.Spec = "every so often" },
		"postgres no dsn": func(c *Config) { c.State.Backend = StateBackendPostgres },
		"estimate pct":    func(c *Config) { c.History.EstimatePct = 0 },
		"telegram token":  func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"kafka encoding": func(c *Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = []string{"localhost:9092"}
			c.Kafka.Topic = "t"
			c.Kafka.Encoding = "xml"
		},
		"deadline < latency": func(c *Config) {
			c.Scheduler.Deferred.Enabled = true
			c.Scheduler.Deferred.MinLatency = time.Minute
			c.Scheduler.Deferred.Deadline = time.Second
		},
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: 应返回校验错误", name)
		}
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 100}}
	if got := cfg.ResolveMaxPoints(0); got != 100 {
		t.Fatalf("应使用默认值 100, 实际 %d", got)
	}
	if got := cfg.ResolveMaxPoints(5); got != 5 {
		t.Fatalf("应使用覆盖值 5, 实际 %d", got)
	}
}
