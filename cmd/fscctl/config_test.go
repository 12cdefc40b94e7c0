package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/fsconnect/internal/protocol/session"
	"github.com/danmuck/fsconnect/internal/site"
	"github.com/danmuck/fsconnect/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func noEnv(string) string { return "" }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fscctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRuntimeConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadRuntimeConfig("ex.config.toml", noEnv)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Site.Endpoint != "wss://fsc.example.net/fsc" || cfg.Site.AccessKey != "site-key" || cfg.Site.Secret != "file-secret" {
		t.Fatalf("unexpected site config=%+v", cfg.Site)
	}
	if cfg.Site.Policy != site.PolicyRequired || !cfg.Site.PushCatalog || cfg.Site.MaxConnectAttempts != 5 {
		t.Fatalf("unexpected policy settings=%+v", cfg.Site)
	}
	sc := cfg.Site.Session
	if sc.RequestTimeout != 10*time.Second || sc.HandshakeTimeout != 3*time.Second {
		t.Fatalf("unexpected timeouts request=%v handshake=%v", sc.RequestTimeout, sc.HandshakeTimeout)
	}
	if sc.HeartbeatInterval != time.Minute || sc.SessionDeadAfter != 2*time.Minute {
		t.Fatalf("unexpected heartbeat=%v dead_after=%v", sc.HeartbeatInterval, sc.SessionDeadAfter)
	}
	if sc.ConnectTimeout != session.DefaultConfig().ConnectTimeout {
		t.Fatalf("unset connect_timeout must keep default, got=%v", sc.ConnectTimeout)
	}
	if sc.SecurityMode != session.SecurityModeProduction || !sc.TLS.Enabled || sc.TLS.Mutual {
		t.Fatalf("unexpected security=%q tls=%+v", sc.SecurityMode, sc.TLS)
	}
	if sc.TLS.CAFile != filepath.Join("certs", "ca.pem") || sc.TLS.ServerName != "fsc.example.net" {
		t.Fatalf("unexpected tls files=%+v", sc.TLS)
	}
	if cfg.CatalogPath != "site.toml" {
		t.Fatalf("unexpected catalog path=%q", cfg.CatalogPath)
	}
	if cfg.AdminAddr != "127.0.0.1:7080" || len(cfg.CORSOrigins) != 1 {
		t.Fatalf("unexpected admin addr=%q origins=%v", cfg.AdminAddr, cfg.CORSOrigins)
	}
	if len(cfg.Site.Sessions) != 1 || cfg.Site.Sessions[0].Prefix != "shop1" || cfg.Site.Sessions[0].Secret != "shop-secret" {
		t.Fatalf("unexpected sessions=%+v", cfg.Site.Sessions)
	}
}

func TestLoadRuntimeConfigEnvOverridesSecrets(t *testing.T) {
	testlog.Start(t)
	env := map[string]string{envAccessKey: "env-key", envSecret: "env-secret"}
	cfg, err := loadRuntimeConfig("ex.config.toml", func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Site.AccessKey != "env-key" || cfg.Site.Secret != "env-secret" {
		t.Fatalf("env overrides not applied got key=%q secret=%q", cfg.Site.AccessKey, cfg.Site.Secret)
	}
}

func TestLoadRuntimeConfigDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "endpoint = \"tcp://127.0.0.1:7000\"\naccess_key = \"k\"\nsecret = \"s\"\n")
	cfg, err := loadRuntimeConfig(path, noEnv)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Site.Policy != site.PolicyReconnect || cfg.CatalogPath != "" || cfg.AdminAddr != "" {
		t.Fatalf("unexpected defaults=%+v", cfg)
	}
	if cfg.Site.Session.RequestTimeout != 30*time.Second || cfg.Site.Session.TLS.Enabled {
		t.Fatalf("unexpected session defaults=%+v", cfg.Site.Session)
	}
}

func TestLoadRuntimeConfigRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown key":  "endpoint = \"tcp://h:1\"\nsecrte = \"typo\"\n",
		"bad duration": "request_timeout = \"soon\"\n",
		"bad policy":   "policy = \"sometimes\"\n",
		"bad toml":     "endpoint = \n",
	}
	for name, body := range cases {
		if _, err := loadRuntimeConfig(writeConfig(t, body), noEnv); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := loadRuntimeConfig(filepath.Join(t.TempDir(), "missing.toml"), noEnv); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestLoadRuntimeConfigMutualTLSPaths(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "endpoint = \"tls://h:1\"\ntls_cert_file = \"client.pem\"\ntls_key_file = \"/etc/fsc/client.key\"\n")
	cfg, err := loadRuntimeConfig(path, noEnv)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	tls := cfg.Site.Session.TLS
	if !tls.Mutual || !tls.Enabled {
		t.Fatalf("expected mutual tls, got=%+v", tls)
	}
	if tls.CertFile != filepath.Join(filepath.Dir(path), "client.pem") || tls.KeyFile != "/etc/fsc/client.key" {
		t.Fatalf("unexpected tls files=%+v", tls)
	}
}

func runCLI(t *testing.T, env func(string) string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(env)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitThenCheck(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "fscctl.toml")
	out, err := runCLI(t, noEnv, "--config", path, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, "site.toml") {
		t.Fatalf("unexpected init output=%q", out)
	}
	if _, err := runCLI(t, noEnv, "--config", path, "init"); err == nil {
		t.Fatalf("init must refuse to overwrite")
	}

	out, err = runCLI(t, noEnv, "--config", path, "check")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "ok: endpoint=ws://127.0.0.1:7000/fsc policy=reconnect sessions=0") {
		t.Fatalf("unexpected check output=%q", out)
	}
}

func TestCheckRejectsProductionPlaintext(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "endpoint = \"ws://h:1/fsc\"\naccess_key = \"k\"\nsecret = \"s\"\nsecurity_mode = \"production\"\n")
	if _, err := runCLI(t, noEnv, "--config", path, "check"); err == nil || !strings.Contains(err.Error(), "tls required") {
		t.Fatalf("expected tls required error, got %v", err)
	}
}

func TestCheckRequiresSecret(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "endpoint = \"tcp://h:1\"\naccess_key = \"k\"\n")
	if _, err := runCLI(t, noEnv, "--config", path, "check"); err == nil {
		t.Fatalf("expected missing secret error")
	}
	env := func(k string) string {
		if k == envSecret {
			return "from-env"
		}
		return ""
	}
	if out, err := runCLI(t, env, "--config", path, "check"); err != nil || !strings.Contains(out, "built-in demo") {
		t.Fatalf("check with env secret out=%q err=%v", out, err)
	}
}

func TestCommandsTagLoggerBeforeBuildingService(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, "endpoint = \"tcp://h:1\"\naccess_key = \"k\"\nsecret = \"s\"\n")
	if _, err := runCLI(t, noEnv, "--config", path, "check"); err != nil {
		t.Fatalf("check: %v", err)
	}
	var buf bytes.Buffer
	logger := log.Logger.Output(&buf)
	logger.Error().Msg("tagged")
	if !strings.Contains(buf.String(), `"app":"fscctl"`) {
		t.Fatalf("expected app field on global logger got=%q", buf.String())
	}
	if strings.Count(buf.String(), `"app"`) != 1 {
		t.Fatalf("app field repeated got=%q", buf.String())
	}
}

func TestVersion(t *testing.T) {
	testlog.Start(t)
	out, err := runCLI(t, noEnv, "version")
	if err != nil || strings.TrimSpace(out) != version {
		t.Fatalf("version out=%q err=%v", out, err)
	}
}
