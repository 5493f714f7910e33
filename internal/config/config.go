package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/gateway.ini"
	envModelsPattern = "config/%s/models.yaml"
	envPrefix        = "CATGATE_"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Proxy is an outbound proxy accounts may opt into by name.
type Proxy struct {
	Scheme   string
	Address  string
	Password string
}

// GatewayConfig describes runtime options for the daemon.
type GatewayConfig struct {
	Environment  string
	HTTPAddress  string
	HTTPSAddress string
	TLSCertPath  string
	TLSKeyPath   string

	// Retries is the number of dispatch attempts a request may use.
	Retries int
	// Concurrency is the slot count of every pooled account.
	Concurrency    int
	RequestTimeout time.Duration
	// ScanLimit bounds pool scans that find no account serving the model.
	ScanLimit     int
	ClientBuffer  int
	HeartbeatIdle time.Duration

	DatabaseURL string
	LedgerPath  string
	LogFile     string
	LogLevel    string
	AdminToken  string

	// Endpoints overrides upstream URLs by endpoint name.
	Endpoints map[string]string
	Proxies   map[string]Proxy

	// Paths the values were read from; the watcher reloads on changes to them.
	GatewayPath string
	ModelsPath  string
}

// LoadGatewayConfig reads config/setting.ini, then the environment's
// gateway.ini, then CATGATE_* environment variables, later sources winning.
func LoadGatewayConfig(root string) (GatewayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return GatewayConfig{}, err
	}

	gatewayPath := filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment))
	file, err := loadINI(gatewayPath)
	if err != nil {
		return GatewayConfig{}, err
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for _, key := range file.Section(ini.DefaultSection).Keys() {
		merged[key.Name()] = key.String()
	}
	get := func(key, fallback string) string {
		return firstNonEmpty(os.Getenv(envPrefix+strings.ToUpper(key)), merged[key], fallback)
	}

	cfg := GatewayConfig{
		Environment:   s.Environment,
		HTTPAddress:   get("http_address", "0.0.0.0:7117"),
		HTTPSAddress:  get("https_address", "0.0.0.0:11711"),
		TLSCertPath:   get("tls_cert_path", "./ssl/fullchain.pem"),
		TLSKeyPath:    get("tls_key_path", "./ssl/key.pem"),
		Retries:       parseOptionalInt(get("number_can_retries", ""), 3),
		Concurrency:   parseOptionalInt(get("request_concurrency_count", ""), 10),
		ScanLimit:     parseOptionalInt(get("account_scan_limit", ""), 30),
		ClientBuffer:  parseOptionalInt(get("client_buffer", ""), 10),
		DatabaseURL:   get("database_url", DefaultDatabasePath()),
		LedgerPath:    get("ledger_path", DefaultLedgerPath()),
		LogFile:       get("log_file", ""),
		LogLevel:      strings.ToLower(get("log_level", "info")),
		AdminToken:    get("admin_token", ""),
		Endpoints:     map[string]string{},
		Proxies:       map[string]Proxy{},
		GatewayPath:   gatewayPath,
		ModelsPath:    filepath.Join(root, fmt.Sprintf(envModelsPattern, s.Environment)),
		HeartbeatIdle: 30 * time.Second,
	}
	if v := get("models_path", ""); v != "" {
		cfg.ModelsPath = v
	}

	timeout, err := parseSeconds(get("request_timeout", "15"))
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("invalid request_timeout: %w", err)
	}
	cfg.RequestTimeout = timeout
	if v := get("heartbeat_idle", ""); v != "" {
		idle, err := parseSeconds(v)
		if err != nil {
			return GatewayConfig{}, fmt.Errorf("invalid heartbeat_idle: %w", err)
		}
		cfg.HeartbeatIdle = idle
	}

	for _, key := range file.Section("endpoint").Keys() {
		cfg.Endpoints[key.Name()] = strings.TrimSpace(key.String())
	}
	for _, sec := range file.Sections() {
		name, ok := strings.CutPrefix(sec.Name(), "proxy.")
		if !ok || name == "" {
			continue
		}
		p := Proxy{
			Scheme:   sec.Key("scheme").MustString("http"),
			Address:  sec.Key("address").String(),
			Password: sec.Key("password").String(),
		}
		if strings.TrimSpace(p.Address) == "" {
			return GatewayConfig{}, fmt.Errorf("proxy %q: address is required", name)
		}
		cfg.Proxies[name] = p
	}

	if err := cfg.Validate(); err != nil {
		return GatewayConfig{}, err
	}
	return cfg, nil
}

// Validate rejects values the gateway cannot run with.
func (c GatewayConfig) Validate() error {
	switch {
	case c.Retries < 1:
		return fmt.Errorf("number_can_retries must be at least 1, got %d", c.Retries)
	case c.Concurrency < 1:
		return fmt.Errorf("request_concurrency_count must be at least 1, got %d", c.Concurrency)
	case c.ScanLimit < 1:
		return fmt.Errorf("account_scan_limit must be at least 1, got %d", c.ScanLimit)
	case c.ClientBuffer < 1:
		return fmt.Errorf("client_buffer must be at least 1, got %d", c.ClientBuffer)
	case c.RequestTimeout <= 0:
		return errors.New("request_timeout must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}

// DefaultDatabasePath is the embedded account store used without database_url.
func DefaultDatabasePath() string {
	return filepath.Join(dataDir(), "accounts.db")
}

// DefaultLedgerPath is the embedded usage ledger used without ledger_path.
func DefaultLedgerPath() string {
	return filepath.Join(dataDir(), "ledger.db")
}

func dataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".gpt-cat")
	}
	return ".gpt-cat"
}

func loadSettings(root string) (Settings, error) {
	file, err := loadINI(filepath.Join(root, settingsFile))
	if err != nil {
		return Settings{}, err
	}
	defaults := make(map[string]string)
	for _, key := range file.Section(ini.DefaultSection).Keys() {
		defaults[key.Name()] = key.String()
	}
	env := firstNonEmpty(os.Getenv(envPrefix+"ENV"), defaults["environment"], defaultEnv)
	delete(defaults, "environment")
	return Settings{Environment: env, Defaults: defaults}, nil
}

// loadINI returns an empty file when path does not exist.
func loadINI(path string) (*ini.File, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return ini.Empty(), nil
	}
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return file, nil
}

// parseSeconds accepts either a bare number of seconds or a Go duration.
func parseSeconds(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("%q is not positive", v)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%q is not positive", v)
	}
	return d, nil
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
