package weir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// WebSocketConfig carries the negotiated defaults for every upgraded
// connection, loaded from the "websocket" config section.
type WebSocketConfig struct {
	// HeartbeatInterval is the interval between server-to-client pings.
	// Zero disables heartbeats entirely.
	//
	// Default value: 30s
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// HeartbeatTimeout is how long since the last pong before the
	// connection is closed with code 1001.
	//
	// Default value: 60s
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`

	// MaxPayloadSize is the maximum permissible frame payload length in
	// bytes; larger frames are rejected with close code 1009.
	//
	// Default value: 1048576 (1 MiB)
	MaxPayloadSize int64 `mapstructure:"max_payload_size"`

	// EnableQueue turns on the offline outbound queue, so sendTo can
	// target a connection id that is momentarily absent.
	//
	// Default value: false
	EnableQueue bool `mapstructure:"enable_queue"`

	// MaxQueueSize is the cap on the number of messages buffered per
	// connection while it is offline; excess messages are tail-dropped.
	//
	// Default value: 32
	MaxQueueSize int `mapstructure:"max_queue_size"`
}

// Config is the set of configurations for one App, decodable from a JSON,
// TOML, or YAML file.
type Config struct {
	// AppName identifies the application, used by the Logger's
	// "${app_name}" template variable.
	//
	// Default value: "weir"
	AppName string `mapstructure:"app_name"`

	// DebugMode, when true, includes a "stack" field in the default
	// error terminator's JSON body.
	//
	// Default value: false
	DebugMode bool `mapstructure:"debug_mode"`

	// LogFormat is the text/template source compiled by the Logger.
	//
	// Default value:
	// `{"app_name":"${app_name}","time":"${time_rfc3339}",`+
	// `"level":"${level}","file":"${short_file}","line":"${line}"}`
	LogFormat string `mapstructure:"log_format"`

	// LoggerEnabled toggles whether the Logger writes anything at all.
	//
	// Default value: true
	LoggerEnabled bool `mapstructure:"logger_enabled"`

	// Address is the TCP address the server listens on.
	//
	// Default value: "localhost:8080"
	Address string `mapstructure:"address"`

	// ReadTimeout is the maximum duration allowed to read a request.
	//
	// Default value: 0 (no timeout)
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration allowed to write a response.
	//
	// Default value: 0 (no timeout)
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request on
	// a keep-alive connection.
	//
	// Default value: 0 (falls back to ReadTimeout)
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// MaxHeaderBytes caps the size of request headers the server reads.
	//
	// Default value: 1048576
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// BodyReadCap caps the number of bytes a handler may read from a
	// request body; zero disables the cap.
	//
	// Default value: 10485760 (10 MiB)
	BodyReadCap int64 `mapstructure:"body_read_cap"`

	// EnableRouteCache, when true, allocates the LRU route cache and its
	// companion exact-match map; any trie mutation invalidates them.
	//
	// Default value: true
	EnableRouteCache bool `mapstructure:"enable_route_cache"`

	// RouteCacheCapacity is the LRU route cache's capacity.
	//
	// Default value: 4096
	RouteCacheCapacity int `mapstructure:"route_cache_capacity"`

	// URLCacheCapacity is the URL-parse LRU cache's capacity.
	//
	// Default value: 4096
	URLCacheCapacity int `mapstructure:"url_cache_capacity"`

	// PerformanceHooksEnabled, when true, allocates per-dispatch timing
	// and throughput counters exposed via App.Stats.
	//
	// Default value: false
	PerformanceHooksEnabled bool `mapstructure:"performance_hooks_enabled"`

	// CookieSecret is secret material consumed only by external cookie
	// middleware; the core never reads it itself.
	//
	// Default value: ""
	CookieSecret string `mapstructure:"cookie_secret"`

	// WebSocket carries the WebSocket Engine's negotiated defaults.
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// defaultConfig returns a Config populated with every documented default.
func defaultConfig() Config {
	return Config{
		AppName:            "weir",
		LogFormat:          `{"app_name":"${app_name}","time":"${time_rfc3339}","level":"${level}","file":"${short_file}","line":"${line}"}`,
		LoggerEnabled:      true,
		Address:            "localhost:8080",
		MaxHeaderBytes:     1 << 20,
		BodyReadCap:        10 << 20,
		EnableRouteCache:   true,
		RouteCacheCapacity: 4096,
		URLCacheCapacity:   4096,
		WebSocket: WebSocketConfig{
			HeartbeatInterval: 30 * time.Second,
			HeartbeatTimeout:  60 * time.Second,
			MaxPayloadSize:    1 << 20,
			MaxQueueSize:      32,
		},
	}
}

// LoadConfigFile reads path (".json", ".toml", ".yaml" or ".yml") and
// decodes it into c via mapstructure, overlaying only the keys present in
// the file. It reads one of the three supported formats into a map before
// decoding, overlaying only the keys present in the file.
func (c *Config) LoadConfigFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	m := map[string]interface{}{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(b, &m)
	case ".toml":
		err = toml.Unmarshal(b, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	default:
		err = fmt.Errorf("weir: unsupported configuration file extension: %s", ext)
	}
	if err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           c,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(m)
}
