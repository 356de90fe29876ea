// Package config loads and hot-reloads agentcore's layered configuration
// (defaults → file → env), grounded on the teacher's internal/shared/config
// package family (loader_test.go, runtime_watcher_test.go,
// save_runtime_test.go) and its use of spf13/viper + fsnotify.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is agentcore's full runtime configuration.
type Config struct {
	// HTTP
	ListenAddr string `mapstructure:"listen_addr"`

	// Store (§4.1 namespace convention)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Session / history TTLs (§3)
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	HistoryTTL time.Duration `mapstructure:"history_ttl"`

	// Brain (§4.4)
	TokenBudget int `mapstructure:"token_budget"`

	// Scheduler (§4.6)
	SchedulerTickInterval time.Duration `mapstructure:"scheduler_tick_interval"`
	SchedulerLockTTL      time.Duration `mapstructure:"scheduler_lock_ttl"`
	SchedulerMaxParallel  int           `mapstructure:"scheduler_max_parallel"`

	// LPT (§4.7)
	LPTCallbackToken  string        `mapstructure:"lpt_callback_token"`
	LPTWatchdogPeriod time.Duration `mapstructure:"lpt_watchdog_period"`
	LPTMaxWait        time.Duration `mapstructure:"lpt_max_wait"`

	// Workers (§6 environment inputs)
	RouterWorkerURL     string `mapstructure:"router_worker_url"`
	BookkeeperWorkerURL string `mapstructure:"bookkeeper_worker_url"`
	BankerWorkerURL     string `mapstructure:"banker_worker_url"`
	HRWorkerURL         string `mapstructure:"hr_worker_url"`
	WorkerAPIKey        string `mapstructure:"worker_api_key"`
	CallbackBaseURL     string `mapstructure:"callback_base_url"`

	// LLM provider
	LLMProviderKeyName string `mapstructure:"llm_provider_key_name"`
	LLMModel           string `mapstructure:"llm_model"`

	// RPC
	RPCDefaultTimeout time.Duration `mapstructure:"rpc_default_timeout"`

	// Observability
	Environment      string `mapstructure:"environment"`
	OTLPEndpoint     string `mapstructure:"otlp_endpoint"`
	MetricsAddr      string `mapstructure:"metrics_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("session_ttl", 2*time.Hour)
	v.SetDefault("history_ttl", 24*time.Hour)
	v.SetDefault("token_budget", 80_000)
	v.SetDefault("scheduler_tick_interval", 60*time.Second)
	v.SetDefault("scheduler_lock_ttl", 5*time.Minute)
	v.SetDefault("scheduler_max_parallel", 8)
	v.SetDefault("lpt_watchdog_period", 30*time.Second)
	v.SetDefault("lpt_max_wait", 10*time.Minute)
	v.SetDefault("rpc_default_timeout", 120*time.Second)
	v.SetDefault("environment", "production")
	v.SetDefault("metrics_addr", ":9090")
}

// Load reads configuration from an optional file path, environment
// variables prefixed AGENTCORE_, and defaults, in that precedence order
// (env overrides file overrides defaults).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Watcher re-reads the config file when it changes, keeps the parsed
// Config as its Current snapshot and hands it to onFire, mirroring the
// teacher's runtime_watcher_test.go expectations. It does not push the
// new values into any running component.
type Watcher struct {
	mu     sync.RWMutex
	path   string
	v      *viper.Viper
	cfg    *Config
	onFire func(*Config)
}

// NewWatcher starts watching path for changes, invoking onFire with the
// freshly parsed Config each time the file changes. Callers that don't pass
// a file-backed config (path == "") get a Watcher that never fires.
func NewWatcher(path string, initial *Config, onFire func(*Config)) (*Watcher, error) {
	w := &Watcher{path: path, cfg: initial, onFire: onFire}
	if path == "" {
		return w, nil
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: watcher read %s: %w", path, err)
	}
	w.v = v

	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		w.mu.Lock()
		w.cfg = &cfg
		w.mu.Unlock()
		if w.onFire != nil {
			w.onFire(&cfg)
		}
	})
	v.WatchConfig()

	return w, nil
}

// Current returns the most recently observed configuration snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}
