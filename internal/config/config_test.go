package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadGatewayConfig(t *testing.T) {
	tmp := t.TempDir()
	writeFile(t, filepath.Join(tmp, "config", "setting.ini"), "environment=dev\nlog_level=debug\nnumber_can_retries=5\n")
	writeFile(t, filepath.Join(tmp, "config", "dev", "gateway.ini"), `
http_address = :9090
number_can_retries = 4
request_concurrency_count = 2
request_timeout = 20
database_url = postgres://u:p@db/cat
admin_token = file-token

[endpoint]
OpenAI = http://localhost:8000/v1/chat/completions

[proxy.hk]
scheme = socks5
address = 10.0.0.1:1080
password = secret
`)
	t.Setenv("CATGATE_ADMIN_TOKEN", "env-token")

	cfg, err := LoadGatewayConfig(tmp)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.HTTPAddress != ":9090" {
		t.Fatalf("unexpected http address %s", cfg.HTTPAddress)
	}
	if cfg.Retries != 4 {
		t.Fatalf("expected env file to override setting.ini, got retries=%d", cfg.Retries)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.Concurrency != 2 || cfg.RequestTimeout != 20*time.Second {
		t.Fatalf("unexpected concurrency/timeout %d/%v", cfg.Concurrency, cfg.RequestTimeout)
	}
	if cfg.ScanLimit != 30 || cfg.ClientBuffer != 10 || cfg.HeartbeatIdle != 30*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.AdminToken != "env-token" {
		t.Fatalf("expected env override, got %s", cfg.AdminToken)
	}
	if cfg.Endpoints["OpenAI"] != "http://localhost:8000/v1/chat/completions" {
		t.Fatalf("endpoint override missing: %v", cfg.Endpoints)
	}
	p, ok := cfg.Proxies["hk"]
	if !ok || p.Scheme != "socks5" || p.Address != "10.0.0.1:1080" || p.Password != "secret" {
		t.Fatalf("unexpected proxy %+v", cfg.Proxies)
	}
	if cfg.ModelsPath != filepath.Join(tmp, "config", "dev", "models.yaml") {
		t.Fatalf("unexpected models path %s", cfg.ModelsPath)
	}
}

func TestLoadGatewayConfigDefaults(t *testing.T) {
	cfg, err := LoadGatewayConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Environment != "dev" || cfg.HTTPAddress != "0.0.0.0:7117" || cfg.HTTPSAddress != "0.0.0.0:11711" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Retries != 3 || cfg.Concurrency != 10 || cfg.RequestTimeout != 15*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadGatewayConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"zero retries":  "number_can_retries = 0\n",
		"bad timeout":   "request_timeout = soon\n",
		"bad log level": "log_level = chatty\n",
		"proxy address": "[proxy.x]\nscheme = http\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			tmp := t.TempDir()
			writeFile(t, filepath.Join(tmp, "config", "dev", "gateway.ini"), content)
			if _, err := LoadGatewayConfig(tmp); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestModelTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	writeFile(t, path, `
models:
  OpenAI: [gpt-4o, gpt-4o-mini]
  QianWen: [qwen-max]
mappings:
  QianWen:
    gpt-4o: qwen-max
aliases:
  Relay:
    base: OpenAI
    url: https://relay.example/v1/chat/completions
`)
	table, err := LoadModels(path)
	if err != nil {
		t.Fatalf("LoadModels: %v", err)
	}
	if !table.Supports("openai", "gpt-4o-mini") {
		t.Fatal("expected OpenAI to serve gpt-4o-mini")
	}
	if table.Supports("QianWen", "gpt-4o-mini") {
		t.Fatal("QianWen must not serve gpt-4o-mini")
	}
	if !table.Supports("QianWen", "gpt-4o") {
		t.Fatal("mapped model should be served")
	}
	if !table.Supports("Relay", "anything") {
		t.Fatal("unlisted endpoints are unrestricted")
	}
	if got := table.Upstream("QianWen", "gpt-4o"); got != "qwen-max" {
		t.Fatalf("Upstream = %s", got)
	}
	if got := table.Upstream("OpenAI", "gpt-4o"); got != "gpt-4o" {
		t.Fatalf("Upstream = %s", got)
	}
	if table.Aliases()["Relay"].Base != "OpenAI" {
		t.Fatalf("aliases = %v", table.Aliases())
	}
	owners := table.Owners()
	if owners["gpt-4o"] != "OpenAI" || owners["qwen-max"] != "QianWen" {
		t.Fatalf("owners = %v", owners)
	}
}

func TestLoadModelsMissingFile(t *testing.T) {
	table, err := LoadModels(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadModels: %v", err)
	}
	if !table.Supports("OpenAI", "gpt-4o") {
		t.Fatal("empty table must allow every model")
	}
}

func TestRuntimeReloadKeepsPreviousOnError(t *testing.T) {
	tmp := t.TempDir()
	gw := filepath.Join(tmp, "config", "dev", "gateway.ini")
	writeFile(t, gw, "number_can_retries = 2\n")

	rt, err := NewRuntime(tmp)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if rt.Gateway().Retries != 2 {
		t.Fatalf("retries = %d", rt.Gateway().Retries)
	}

	writeFile(t, gw, "number_can_retries = 6\n")
	if err := rt.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if rt.Gateway().Retries != 6 {
		t.Fatalf("retries after reload = %d", rt.Gateway().Retries)
	}

	writeFile(t, gw, "number_can_retries = -1\n")
	if err := rt.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if rt.Gateway().Retries != 6 {
		t.Fatalf("broken file replaced snapshot: retries = %d", rt.Gateway().Retries)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.ini")
	writeFile(t, path, "a = 1\n")

	var reloads atomic.Int32
	w := NewWatcher([]string{path}, 20*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func() error {
			reloads.Add(1)
			return nil
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		// rewrite until the watcher has registered and observed a change
		writeFile(t, path, "a = 2\n")
		time.Sleep(100 * time.Millisecond)
	}
	if reloads.Load() == 0 {
		t.Fatal("expected at least one reload")
	}

	writeFile(t, filepath.Join(dir, "unrelated.txt"), "x")
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}
