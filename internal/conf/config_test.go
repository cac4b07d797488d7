package conf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveDefaults(t *testing.T) {
	cfg, err := Resolve(Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != DefaultPort || cfg.Interface != DefaultInterface {
		t.Fatalf("got port=%d interface=%s", cfg.Port, cfg.Interface)
	}
}

func TestResolveFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.ini")
	body := "[server]\nport = 3307\ninterface = 0.0.0.0\n[dsn]\naddr = 127.0.0.1:3306\nuser = root\npassword = root\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Resolve(Flags{ConfigPaths: []string{path}, Port: 9999})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("flag should win over file: got port %d", cfg.Port)
	}
	if cfg.Interface != "0.0.0.0" {
		t.Fatalf("file value should apply when flag unset: got %q", cfg.Interface)
	}
	if cfg.DefaultDSNUser != "root" {
		t.Fatalf("got dsn user %q", cfg.DefaultDSNUser)
	}
}

func TestAddr(t *testing.T) {
	cfg := &Config{Interface: "127.0.0.1", Port: 23306}
	if got := cfg.Addr(); got != "127.0.0.1:23306" {
		t.Fatalf("Addr() = %q", got)
	}
}
