// Package bootstrap scaffolds the configuration tree the gateway reads.
package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Anivie/gpt-cat/internal/config"
)

// InitOptions configures the generated files.
type InitOptions struct {
	Root        string
	Environment string
	HTTPAddress string
	DatabaseURL string
	// AdminToken protects the admin API. Empty generates a random token.
	AdminToken  string
	Retries     int
	Concurrency int
	Force       bool
}

// Init writes config/setting.ini, config/<env>/gateway.ini and
// config/<env>/models.yaml under Root and returns the admin token used.
func Init(opts InitOptions) (string, error) {
	applyDefaults(&opts)
	if err := Validate(opts); err != nil {
		return "", err
	}
	envDir := filepath.Join(opts.Root, "config", opts.Environment)
	if err := ensureDir(envDir); err != nil {
		return "", err
	}

	models, err := modelsTemplate()
	if err != nil {
		return "", err
	}
	files := []struct {
		path     string
		contents string
	}{
		{filepath.Join(opts.Root, "config", "setting.ini"), settingTemplate(opts)},
		{filepath.Join(envDir, "gateway.ini"), gatewayTemplate(opts)},
		{filepath.Join(envDir, "models.yaml"), models},
	}
	if !opts.Force {
		for _, f := range files {
			if _, err := os.Stat(f.path); err == nil {
				return "", fmt.Errorf("file already exists: %s", f.path)
			}
		}
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, []byte(f.contents), 0o600); err != nil {
			return "", fmt.Errorf("write %s: %w", f.path, err)
		}
	}
	return opts.AdminToken, nil
}

func applyDefaults(opts *InitOptions) {
	if strings.TrimSpace(opts.Root) == "" {
		opts.Root = "."
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "dev"
	}
	if strings.TrimSpace(opts.HTTPAddress) == "" {
		opts.HTTPAddress = "0.0.0.0:7117"
	}
	if strings.TrimSpace(opts.DatabaseURL) == "" {
		opts.DatabaseURL = config.DefaultDatabasePath()
	}
	if strings.TrimSpace(opts.AdminToken) == "" {
		opts.AdminToken = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if opts.Retries == 0 {
		opts.Retries = 3
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = 10
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func settingTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# catgate settings shared by every environment
environment=%s
log_level=info
`, opts.Environment)
}

func gatewayTemplate(opts InitOptions) string {
	return fmt.Sprintf(`# Environment specific overrides for %s
http_address=%s
https_address=0.0.0.0:11711
tls_cert_path=./ssl/fullchain.pem
tls_key_path=./ssl/key.pem
number_can_retries=%d
request_concurrency_count=%d
request_timeout=15
database_url=%s
log_file=logs/catgated.log
admin_token=%s

[endpoint]
# OpenAI=https://api.openai.com/v1/chat/completions

# [proxy.office]
# scheme=socks5
# address=127.0.0.1:1080
`, opts.Environment, opts.HTTPAddress, opts.Retries, opts.Concurrency, opts.DatabaseURL, opts.AdminToken)
}

func modelsTemplate() (string, error) {
	file := config.ModelFile{
		Models: map[string][]string{
			"OpenAI":  {"gpt-4o", "gpt-4o-mini"},
			"QianWen": {"qwen-max", "qwen-plus"},
		},
		Mappings: map[string]map[string]string{
			"QianWen": {"gpt-3.5-turbo": "qwen-turbo"},
		},
	}
	out, err := yaml.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("encode models: %w", err)
	}
	return "# Models served per endpoint. Endpoints not listed serve every model.\n" + string(out), nil
}

// Validate checks options without touching the filesystem.
func Validate(opts InitOptions) error {
	applyDefaults(&opts)
	if strings.ContainsAny(opts.Environment, `/\`) || opts.Environment == ".." {
		return fmt.Errorf("invalid environment name %q", opts.Environment)
	}
	if _, _, err := net.SplitHostPort(opts.HTTPAddress); err != nil {
		return fmt.Errorf("invalid http address: %w", err)
	}
	if opts.Retries < 1 {
		return errors.New("retries must be at least 1")
	}
	if opts.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	return nil
}
