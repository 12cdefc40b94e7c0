package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/fsconnect/internal/catalog"
	"github.com/danmuck/fsconnect/internal/protocol/session"
	"github.com/danmuck/fsconnect/internal/site"
)

const (
	envAccessKey = "FSC_ACCESS_KEY"
	envSecret    = "FSC_SECRET"
)

type sessionEntry struct {
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	Secret    string `toml:"secret"`
}

type fileConfig struct {
	Endpoint              string         `toml:"endpoint"`
	AccessKey             string         `toml:"access_key"`
	Secret                string         `toml:"secret"`
	Catalog               string         `toml:"catalog"`
	Policy                string         `toml:"policy"`
	PushCatalog           bool           `toml:"push_catalog"`
	MaxConnectAttempts    int            `toml:"max_connect_attempts"`
	ConnectTimeout        string         `toml:"connect_timeout"`
	RequestTimeout        string         `toml:"request_timeout"`
	HandshakeTimeout      string         `toml:"handshake_timeout"`
	HeartbeatInterval     string         `toml:"heartbeat_interval"`
	SessionDeadAfter      string         `toml:"session_dead_after"`
	SecurityMode          string         `toml:"security_mode"`
	TLSCAFile             string         `toml:"tls_ca_file"`
	TLSServerName         string         `toml:"tls_server_name"`
	TLSCertFile           string         `toml:"tls_cert_file"`
	TLSKeyFile            string         `toml:"tls_key_file"`
	TLSInsecureSkipVerify bool           `toml:"tls_insecure_skip_verify"`
	AdminAddr             string         `toml:"admin_addr"`
	CORSOrigins           []string       `toml:"cors_origins"`
	Sessions              []sessionEntry `toml:"sessions"`
}

// runtimeConfig is everything fscctl needs to start a site.
type runtimeConfig struct {
	Site        site.Config
	CatalogPath string
	AdminAddr   string
	CORSOrigins []string
}

func loadRuntimeConfig(path string, getenv func(string) string) (runtimeConfig, error) {
	cfg := runtimeConfig{
		Site: site.Config{
			Policy:  site.PolicyReconnect,
			Session: session.DefaultConfig(),
		},
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load fscctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("load fscctl config: unknown key %q", undecoded[0].String())
	}

	cfg.Site.Endpoint = strings.TrimSpace(raw.Endpoint)
	cfg.Site.AccessKey = strings.TrimSpace(raw.AccessKey)
	cfg.Site.Secret = raw.Secret
	cfg.Site.PushCatalog = raw.PushCatalog
	cfg.Site.MaxConnectAttempts = raw.MaxConnectAttempts

	if meta.IsDefined("policy") {
		p, err := site.ParsePolicy(raw.Policy)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.Site.Policy = p
	}

	if meta.IsDefined("catalog") {
		cfg.CatalogPath = resolveRelative(path, strings.TrimSpace(raw.Catalog))
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Site.Session.ConnectTimeout},
		{"request_timeout", raw.RequestTimeout, &cfg.Site.Session.RequestTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Site.Session.HandshakeTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Site.Session.HeartbeatInterval},
		{"session_dead_after", raw.SessionDeadAfter, &cfg.Site.Session.SessionDeadAfter},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("security_mode") {
		cfg.Site.Session.SecurityMode = session.NormalizeSecurityMode(session.SecurityMode(raw.SecurityMode))
	}

	tlsCfg := &cfg.Site.Session.TLS
	if meta.IsDefined("tls_ca_file") {
		tlsCfg.CAFile = resolveRelative(path, strings.TrimSpace(raw.TLSCAFile))
	}
	tlsCfg.ServerName = strings.TrimSpace(raw.TLSServerName)
	tlsCfg.InsecureSkipVerify = raw.TLSInsecureSkipVerify
	if meta.IsDefined("tls_cert_file") || meta.IsDefined("tls_key_file") {
		tlsCfg.Mutual = true
		tlsCfg.CertFile = resolveRelative(path, strings.TrimSpace(raw.TLSCertFile))
		tlsCfg.KeyFile = resolveRelative(path, strings.TrimSpace(raw.TLSKeyFile))
	}
	if u, err := session.ParseEndpoint(cfg.Site.Endpoint); err == nil {
		tlsCfg.Enabled = session.SecureScheme(u.Scheme)
	}

	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeOrigins(raw.CORSOrigins)
	}

	for _, s := range raw.Sessions {
		cfg.Site.Sessions = append(cfg.Site.Sessions, site.SessionConfig{
			Prefix:    strings.TrimSpace(s.Prefix),
			AccessKey: strings.TrimSpace(s.AccessKey),
			Secret:    s.Secret,
		})
	}

	if getenv != nil {
		if v := strings.TrimSpace(getenv(envAccessKey)); v != "" {
			cfg.Site.AccessKey = v
		}
		if v := getenv(envSecret); v != "" {
			cfg.Site.Secret = v
		}
	}
	return cfg, nil
}

// loadSite opens the configured catalog, or the built-in demo site when none
// is set.
func loadSite(cfg runtimeConfig) (*catalog.Site, error) {
	if cfg.CatalogPath == "" {
		return catalog.Demo()
	}
	return catalog.Load(cfg.CatalogPath)
}

func resolveRelative(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// writeConfigTemplate writes a starter config next to a starter catalog.
func writeConfigTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}

const configTemplate = `# fscctl runtime configuration
endpoint = "ws://127.0.0.1:7000/fsc"
access_key = "site-key"
secret = "change-me"
catalog = "site.toml"
policy = "reconnect"
push_catalog = true
max_connect_attempts = 0

request_timeout = "30s"
handshake_timeout = "5s"
heartbeat_interval = "30s"

security_mode = "development"
tls_insecure_skip_verify = false

admin_addr = "127.0.0.1:7080"
cors_origins = ["http://localhost:3000"]

# [[sessions]]
# prefix = "shop1"
# access_key = "shop-key"
# secret = "shop-secret"
`
