// Package config binds the core's external interface (messaging,
// discovery, logging) to flags/env/file via viper, following the flag
// registration style of the teacher's cobra command tree.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Messaging holds the Message Transport + RPC Router external interface.
type Messaging struct {
	Addr                     string
	ConnectionTimeout        time.Duration
	RequestTimeout           time.Duration
	ServerShutdownDeadline   time.Duration
	ServerMaxNumberOfRPCs    int
	MaxReconnectionAttempts  int
	MaxPendingMsgs           int
}

// Discovery holds the Discovery Agent external interface.
type Discovery struct {
	Endpoints            []string
	EtcdPrefix           string
	ServerTypeFilters    []string
	HeartbeatTTLSec      int
	LogHeartbeat         bool
	LogServerSync        bool
	LogServerDetails     bool
	SyncServersInterval  time.Duration
	MaxNumberOfRetries   int
}

// LogLevel enumerates the accepted log_level values.
type LogLevel string

const (
	LogLevelTrace    LogLevel = "trace"
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarn     LogLevel = "warn"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// LogKind enumerates the accepted log_kind values.
type LogKind string

const (
	LogKindConsole LogKind = "console"
	LogKindJSON    LogKind = "json"
)

// Logging holds the logging external interface.
type Logging struct {
	Level LogLevel
	Kind  LogKind
}

// Config is the fully resolved configuration for one core instance.
type Config struct {
	Messaging Messaging
	Discovery Discovery
	Logging   Logging
}

// BindFlags registers every external-interface flag on fs, following the
// teacher's PersistentFlags() registration pattern. Defaults match the
// field documentation in the external interfaces section.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("messaging.addr", "nats://127.0.0.1:4222", "pub/sub bus address")
	fs.Duration("messaging.connection_timeout", 5*time.Second, "transport connect timeout")
	fs.Duration("messaging.request_timeout", 5*time.Second, "default RPC request timeout")
	fs.Duration("messaging.server_shutdown_deadline", 15*time.Second, "total graceful shutdown deadline")
	fs.Int("messaging.server_max_number_of_rpcs", 0, "in-flight RPC cap, 0 = 32")
	fs.Int("messaging.max_reconnection_attempts", 0, "transport reconnect attempts, 0 = unbounded")
	fs.Int("messaging.max_pending_msgs", 0, "transport pending-message backpressure cap, 0 = unbounded")

	fs.StringSlice("discovery.endpoints", []string{"127.0.0.1:2379"}, "discovery backend endpoints")
	fs.String("discovery.etcd_prefix", "/pitaya/servers/", "key prefix under which servers register")
	fs.StringSlice("discovery.server_type_filters", nil, "globs of server kinds to observe, empty = accept all")
	fs.Int("discovery.heartbeat_ttl_sec", 60, "lease TTL for this server's key")
	fs.Bool("discovery.log_heartbeat", false, "log each lease keepalive")
	fs.Bool("discovery.log_server_sync", false, "log each applied registry delta")
	fs.Bool("discovery.log_server_details", false, "log full ServerDescriptor on sync")
	fs.Duration("discovery.sync_servers_interval", 30*time.Second, "periodic full re-list interval")
	fs.Int("discovery.max_number_of_retries", 0, "discovery backend retry cap, 0 = no count cap (retries stop after 15 minutes)")

	fs.String("logging.level", string(LogLevelInfo), "trace|debug|info|warn|error|critical")
	fs.String("logging.kind", string(LogKindConsole), "console|json")
}

// Load builds a Config from v, which the caller has already populated from
// flags/env/file via viper's usual precedence rules.
func Load(v *viper.Viper) (*Config, error) {
	level := LogLevel(strings.ToLower(v.GetString("logging.level")))
	switch level {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelCritical:
	default:
		return nil, fmt.Errorf("config: invalid logging.level %q", level)
	}

	kind := LogKind(strings.ToLower(v.GetString("logging.kind")))
	switch kind {
	case LogKindConsole, LogKindJSON:
	default:
		return nil, fmt.Errorf("config: invalid logging.kind %q", kind)
	}

	cfg := &Config{
		Messaging: Messaging{
			Addr:                    v.GetString("messaging.addr"),
			ConnectionTimeout:       v.GetDuration("messaging.connection_timeout"),
			RequestTimeout:          v.GetDuration("messaging.request_timeout"),
			ServerShutdownDeadline:  v.GetDuration("messaging.server_shutdown_deadline"),
			ServerMaxNumberOfRPCs:   v.GetInt("messaging.server_max_number_of_rpcs"),
			MaxReconnectionAttempts: v.GetInt("messaging.max_reconnection_attempts"),
			MaxPendingMsgs:          v.GetInt("messaging.max_pending_msgs"),
		},
		Discovery: Discovery{
			Endpoints:           v.GetStringSlice("discovery.endpoints"),
			EtcdPrefix:          v.GetString("discovery.etcd_prefix"),
			ServerTypeFilters:   v.GetStringSlice("discovery.server_type_filters"),
			HeartbeatTTLSec:     v.GetInt("discovery.heartbeat_ttl_sec"),
			LogHeartbeat:        v.GetBool("discovery.log_heartbeat"),
			LogServerSync:       v.GetBool("discovery.log_server_sync"),
			LogServerDetails:    v.GetBool("discovery.log_server_details"),
			SyncServersInterval: v.GetDuration("discovery.sync_servers_interval"),
			MaxNumberOfRetries:  v.GetInt("discovery.max_number_of_retries"),
		},
		Logging: Logging{Level: level, Kind: kind},
	}

	if cfg.Discovery.HeartbeatTTLSec <= 0 {
		return nil, fmt.Errorf("config: discovery.heartbeat_ttl_sec must be positive, got %d", cfg.Discovery.HeartbeatTTLSec)
	}
	if len(cfg.Discovery.Endpoints) == 0 {
		return nil, fmt.Errorf("config: discovery.endpoints must not be empty")
	}
	return cfg, nil
}
