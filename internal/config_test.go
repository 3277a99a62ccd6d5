package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/assetgraph/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestGraphConfig_RootRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Graph.Root = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty graph root should fail validation")
	}
}

func TestGraphConfig_UnknownFollowScheme(t *testing.T) {
	cfg := GraphConfig{Root: "./site", FollowSchemes: []string{"file", "ftp"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("ftp is not a loadable scheme")
	}
}

func TestLoaderConfig_Bounds(t *testing.T) {
	cfg := LoaderConfig{Concurrency: 0}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero concurrency means default: %v", err)
	}
	cfg.Concurrency = 1000
	if err := cfg.Validate(); err == nil {
		t.Fatal("concurrency above the limit should fail")
	}
	cfg.Concurrency = 4
	cfg.HTTPTimeout = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative timeout should fail")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	t.Setenv("ASSETGRAPH_TEST_ROOT", "/srv/site")
	yml := `app:
  log_level: debug
  http:
    port: 9090
graph:
  root: ${ASSETGRAPH_TEST_ROOT}
  canonical_root: https://example.com/
  entry: [index.html]
  follow_schemes: [file, https]
loader:
  concurrency: 4
  http_timeout: 5s
sqlite:
  path: ./test.db
`
	if err := os.WriteFile(p, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(p, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Graph.Root != "/srv/site" {
		t.Errorf("root = %q, want env-expanded /srv/site", cfg.Graph.Root)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9090 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Loader.HTTPTimeout != 5*time.Second || cfg.Loader.Concurrency != 4 {
		t.Errorf("loader = %+v", cfg.Loader)
	}
	if !cfg.Loader.BlockPrivate || !cfg.Watch.Enabled {
		t.Error("defaults not kept for unset keys")
	}
}

func TestConfig_ErrorsKeyedBySection(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Graph.Root = ""
	cfg.SQLite.Path = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, key := range []string{"graph", "sqlite"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestGraphConfig_CanonicalRoot(t *testing.T) {
	for _, ok := range []string{"", "https://example.com/", "http://localhost:8000/site/"} {
		cfg := GraphConfig{Root: "./site", CanonicalRoot: ok}
		if err := cfg.Validate(); err != nil {
			t.Errorf("canonical root %q: %v", ok, err)
		}
	}
	for _, bad := range []string{"example.com", "/site/", "ftp://example.com/"} {
		cfg := GraphConfig{Root: "./site", CanonicalRoot: bad}
		if err := cfg.Validate(); err == nil {
			t.Errorf("canonical root %q should fail", bad)
		}
	}
}

func TestHTTPConfig_Address(t *testing.T) {
	cases := []struct {
		cfg  HTTPConfig
		want string
	}{
		{HTTPConfig{Port: 8080}, ":8080"},
		{HTTPConfig{Host: "127.0.0.1", Port: 9000}, "127.0.0.1:9000"},
		{HTTPConfig{Host: "::1", Port: 80}, "[::1]:80"},
	}
	for _, c := range cases {
		if got := c.cfg.Address(); got != c.want {
			t.Errorf("Address() = %q, want %q", got, c.want)
		}
	}
}
