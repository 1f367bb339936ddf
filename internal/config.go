package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	DefaultDiscoveryPort   = 50000
	DefaultOfferIntervalMs = 1000
	// Segment payload: a 1024 byte budget less 29 bytes of framing.
	DefaultUDPMtu          = 1024 - 29
	DefaultUDPIdleTimeout  = 1000
	DefaultTCPTimeoutMs    = 10_000
	DefaultMaxRequestBytes = 16 << 30
)

type ServerConfig struct {
	ServerId           string   `mapstructure:"server_id" toml:"server_id"`
	Host               string   `mapstructure:"host" toml:"host"`
	UDPPort            int      `mapstructure:"udp_port" toml:"udp_port"`
	TCPPort            int      `mapstructure:"tcp_port" toml:"tcp_port"`
	DiscoveryPort      int      `mapstructure:"discovery_port" toml:"discovery_port"`
	BroadcastAddresses []string `mapstructure:"broadcast_addresses" toml:"broadcast_addresses"`
	OfferIntervalMs    int      `mapstructure:"offer_interval_ms" toml:"offer_interval_ms"`
	UDPMtu             int      `mapstructure:"udp_mtu" toml:"udp_mtu"`
	UDPReadBufferSize  int      `mapstructure:"udp_read_buffer_size" toml:"udp_read_buffer_size"`
	UDPWriteBufferSize int      `mapstructure:"udp_write_buffer_size" toml:"udp_write_buffer_size"`
	UDPWorkers         int      `mapstructure:"udp_workers" toml:"udp_workers"`
	TCPWorkers         int      `mapstructure:"tcp_workers" toml:"tcp_workers"`
	TCPReadTimeoutMs   int      `mapstructure:"tcp_read_timeout_ms" toml:"tcp_read_timeout_ms"`
	MaxRequestBytes    uint64   `mapstructure:"max_request_bytes" toml:"max_request_bytes"`
	MetricsAddr        string   `mapstructure:"metrics_addr" toml:"metrics_addr"`
	LogLevel           string   `mapstructure:"log_level" toml:"log_level"`
}

type ClientConfig struct {
	ClientId           string `mapstructure:"client_id" toml:"client_id"`
	DiscoveryAddr      string `mapstructure:"discovery_addr" toml:"discovery_addr"`
	DiscoveryPort      int    `mapstructure:"discovery_port" toml:"discovery_port"`
	DiscoveryTimeoutMs int    `mapstructure:"discovery_timeout_ms" toml:"discovery_timeout_ms"`
	UDPIdleTimeoutMs   int    `mapstructure:"udp_idle_timeout_ms" toml:"udp_idle_timeout_ms"`
	UDPReadBufferSize  int    `mapstructure:"udp_read_buffer_size" toml:"udp_read_buffer_size"`
	TCPTimeoutMs       int    `mapstructure:"tcp_timeout_ms" toml:"tcp_timeout_ms"`
	MaxParallel        int    `mapstructure:"max_parallel" toml:"max_parallel"`
	MetricsAddr        string `mapstructure:"metrics_addr" toml:"metrics_addr"`
	LogLevel           string `mapstructure:"log_level" toml:"log_level"`
}

func (cfg *ServerConfig) OfferInterval() time.Duration {
	return time.Duration(cfg.OfferIntervalMs) * time.Millisecond
}

func (cfg *ServerConfig) TCPReadTimeout() time.Duration {
	return time.Duration(cfg.TCPReadTimeoutMs) * time.Millisecond
}

func (cfg *ClientConfig) UDPIdleTimeout() time.Duration {
	return time.Duration(cfg.UDPIdleTimeoutMs) * time.Millisecond
}

func (cfg *ClientConfig) TCPTimeout() time.Duration {
	return time.Duration(cfg.TCPTimeoutMs) * time.Millisecond
}

func (cfg *ClientConfig) DiscoveryTimeout() time.Duration {
	return time.Duration(cfg.DiscoveryTimeoutMs) * time.Millisecond
}

// ListenAddr is the host:port the discovery listener binds.
func (cfg *ClientConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", cfg.DiscoveryAddr, cfg.DiscoveryPort)
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("server_id", uuid.New().String())
	v.SetDefault("host", "")
	v.SetDefault("udp_port", 0)
	v.SetDefault("tcp_port", 0)
	v.SetDefault("discovery_port", DefaultDiscoveryPort)
	v.SetDefault("broadcast_addresses", []string{})
	v.SetDefault("offer_interval_ms", DefaultOfferIntervalMs)
	v.SetDefault("udp_mtu", DefaultUDPMtu)
	v.SetDefault("udp_read_buffer_size", 64*1024)
	v.SetDefault("udp_write_buffer_size", 4<<20)
	v.SetDefault("udp_workers", 0)
	v.SetDefault("tcp_workers", 0)
	v.SetDefault("tcp_read_timeout_ms", DefaultTCPTimeoutMs)
	v.SetDefault("max_request_bytes", uint64(DefaultMaxRequestBytes))
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("client_id", uuid.New().String())
	v.SetDefault("discovery_addr", "")
	v.SetDefault("discovery_port", DefaultDiscoveryPort)
	v.SetDefault("discovery_timeout_ms", 0)
	v.SetDefault("udp_idle_timeout_ms", DefaultUDPIdleTimeout)
	v.SetDefault("udp_read_buffer_size", 4<<20)
	v.SetDefault("tcp_timeout_ms", DefaultTCPTimeoutMs)
	v.SetDefault("max_parallel", 0)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
}

// DefaultServerConfig returns the built-in defaults without touching disk.
func DefaultServerConfig() *ServerConfig {
	v := viper.New()
	setServerDefaults(v)
	var cfg ServerConfig
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// DefaultClientConfig returns the built-in defaults without touching disk.
func DefaultClientConfig() *ClientConfig {
	v := viper.New()
	setClientDefaults(v)
	var cfg ClientConfig
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func LoadServerConfig(configPath string) (*ServerConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New("failed to load users home directory: " + err.Error())
	}
	v, found, err := initViper(configPath, filepath.Join(home, ".gspeed"), "server_config", "toml", "GSPEED_SERVER")
	if err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}
	setServerDefaults(v)

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Create-on-first-run ONLY (no config file was read)
	if !found {
		writePath := expandPath(configPath)
		if writePath == "" {
			writePath = filepath.Join(home, ".gspeed", "server_config.toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default server config: %w", err)
			}
			Info("server config written", Fields{
				ConfigPath: writePath,
			})
		}
	}
	return &cfg, nil
}

func LoadClientConfig(configPath string) (*ClientConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	v, found, err := initViper(configPath, filepath.Join(home, ".gspeed"), "client_config", "toml", "GSPEED_CLIENT")
	if err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}
	setClientDefaults(v)

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !found {
		writePath := expandPath(configPath)
		if writePath == "" {
			writePath = filepath.Join(home, ".gspeed", "client_config.toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default client config: %w", err)
			}
			Info("client config written", Fields{
				ConfigPath: writePath,
			})
		}
	}
	return &cfg, nil
}

func (cfg *ServerConfig) Validate() error {
	if err := validPort("udp_port", cfg.UDPPort, true); err != nil {
		return err
	}
	if err := validPort("tcp_port", cfg.TCPPort, true); err != nil {
		return err
	}
	if err := validPort("discovery_port", cfg.DiscoveryPort, false); err != nil {
		return err
	}
	if cfg.UDPMtu <= 0 || cfg.UDPMtu > 65507-21 {
		return fmt.Errorf("udp_mtu must be within 1..%d, got %d", 65507-21, cfg.UDPMtu)
	}
	if cfg.OfferIntervalMs <= 0 {
		return fmt.Errorf("offer_interval_ms must be positive, got %d", cfg.OfferIntervalMs)
	}
	if cfg.UDPWorkers < 0 || cfg.TCPWorkers < 0 {
		return errors.New("udp_workers and tcp_workers must not be negative")
	}
	return nil
}

func (cfg *ClientConfig) Validate() error {
	if err := validPort("discovery_port", cfg.DiscoveryPort, false); err != nil {
		return err
	}
	if cfg.UDPIdleTimeoutMs <= 0 {
		return fmt.Errorf("udp_idle_timeout_ms must be positive, got %d", cfg.UDPIdleTimeoutMs)
	}
	if cfg.TCPTimeoutMs <= 0 {
		return fmt.Errorf("tcp_timeout_ms must be positive, got %d", cfg.TCPTimeoutMs)
	}
	if cfg.MaxParallel < 0 {
		return fmt.Errorf("max_parallel must not be negative, got %d", cfg.MaxParallel)
	}
	return nil
}

func validPort(name string, port int, allowZero bool) error {
	if port == 0 && allowZero {
		return nil
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}

// initViper reports whether a config file was actually read so callers can
// persist defaults on first run.
func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, bool, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(expandPath(configPath))
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, false, nil
		}
		if configPath != "" && errors.Is(err, os.ErrNotExist) {
			return v, false, nil
		}
		Error("config file unreadable", Fields{
			ConfigPath: configPath,
			FieldError: err.Error(),
		})
		return nil, false, fmt.Errorf("read config: %w", err)
	}
	return v, true, nil
}

func (cfg *ServerConfig) Save(path string) (string, error) {
	if err := ensureConfigDir(path); err != nil {
		return "", err
	}
	v := viper.New()
	v.SetConfigType("toml")
	v.Set("server_id", cfg.ServerId)
	v.Set("host", cfg.Host)
	v.Set("udp_port", cfg.UDPPort)
	v.Set("tcp_port", cfg.TCPPort)
	v.Set("discovery_port", cfg.DiscoveryPort)
	v.Set("broadcast_addresses", cfg.BroadcastAddresses)
	v.Set("offer_interval_ms", cfg.OfferIntervalMs)
	v.Set("udp_mtu", cfg.UDPMtu)
	v.Set("udp_read_buffer_size", cfg.UDPReadBufferSize)
	v.Set("udp_write_buffer_size", cfg.UDPWriteBufferSize)
	v.Set("udp_workers", cfg.UDPWorkers)
	v.Set("tcp_workers", cfg.TCPWorkers)
	v.Set("tcp_read_timeout_ms", cfg.TCPReadTimeoutMs)
	v.Set("max_request_bytes", cfg.MaxRequestBytes)
	v.Set("metrics_addr", cfg.MetricsAddr)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write server config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func (cfg *ClientConfig) Save(path string) (string, error) {
	if err := ensureConfigDir(path); err != nil {
		return "", err
	}
	v := viper.New()
	v.SetConfigType("toml")
	v.Set("client_id", cfg.ClientId)
	v.Set("discovery_addr", cfg.DiscoveryAddr)
	v.Set("discovery_port", cfg.DiscoveryPort)
	v.Set("discovery_timeout_ms", cfg.DiscoveryTimeoutMs)
	v.Set("udp_idle_timeout_ms", cfg.UDPIdleTimeoutMs)
	v.Set("udp_read_buffer_size", cfg.UDPReadBufferSize)
	v.Set("tcp_timeout_ms", cfg.TCPTimeoutMs)
	v.Set("max_parallel", cfg.MaxParallel)
	v.Set("metrics_addr", cfg.MetricsAddr)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write client config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func ensureConfigDir(path string) error {
	if path == "" {
		return errors.New("config path required")
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
