// Package conf loads startup configuration: CLI flags plus zero or more
// repeated --config INI files, mirroring the teacher's server/conf.Cfg
// loader but scoped to what this server's core actually needs (spec §6).
package conf

import (
	"fmt"

	"github.com/juju/errors"
	"gopkg.in/ini.v1"
)

// Flags is the parsed shape of the CLI surface spec.md §6 names. Parsing
// flag.FlagSet into this struct is cmd/mysqlrulesd's job; conf only owns
// merging it with config file contents.
type Flags struct {
	Port              int
	Interface         string
	DSN               string
	DSNUser           string
	DSNPassword       string
	RemoteDSN         string
	RemoteDSNUser     string
	RemoteDSNPassword string
	ConfigPaths       []string
	Debug             bool
}

// Config is the fully resolved startup configuration the Connection
// Orchestrator is built from.
type Config struct {
	Port      int
	Interface string

	DefaultDSNAddr     string
	DefaultDSNUser     string
	DefaultDSNPassword string

	RemoteDSNAddr     string
	RemoteDSNUser     string
	RemoteDSNPassword string

	Debug bool
}

// DefaultPort and DefaultInterface are spec.md §6's documented CLI
// defaults.
const (
	DefaultPort      = 23306
	DefaultInterface = "127.0.0.1"
)

// Resolve merges flags with whatever --config files it names (later files
// win over earlier ones, and flags always win over files, matching the
// usual CLI-overrides-file convention).
func Resolve(f Flags) (*Config, error) {
	cfg := &Config{
		Port:               DefaultPort,
		Interface:          DefaultInterface,
		DefaultDSNAddr:     f.DSN,
		DefaultDSNUser:     f.DSNUser,
		DefaultDSNPassword: f.DSNPassword,
		RemoteDSNAddr:      f.RemoteDSN,
		RemoteDSNUser:      f.RemoteDSNUser,
		RemoteDSNPassword:  f.RemoteDSNPassword,
		Debug:              f.Debug,
	}

	for _, path := range f.ConfigPaths {
		if err := applyFile(cfg, path); err != nil {
			return nil, errors.Annotatef(err, "conf: loading %s", path)
		}
	}

	if f.Port != 0 {
		cfg.Port = f.Port
	}
	if f.Interface != "" {
		cfg.Interface = f.Interface
	}
	for _, o := range []struct {
		dst  *string
		flag string
	}{
		{&cfg.DefaultDSNAddr, f.DSN},
		{&cfg.DefaultDSNUser, f.DSNUser},
		{&cfg.DefaultDSNPassword, f.DSNPassword},
		{&cfg.RemoteDSNAddr, f.RemoteDSN},
		{&cfg.RemoteDSNUser, f.RemoteDSNUser},
		{&cfg.RemoteDSNPassword, f.RemoteDSNPassword},
	} {
		if o.flag != "" {
			*o.dst = o.flag
		}
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := ini.Load(path)
	if err != nil {
		return errors.Trace(err)
	}

	if sec, err := raw.GetSection("server"); err == nil {
		if key, err := sec.GetKey("port"); err == nil {
			cfg.Port = key.MustInt(cfg.Port)
		}
		if key, err := sec.GetKey("interface"); err == nil {
			cfg.Interface = key.MustString(cfg.Interface)
		}
	}
	if sec, err := raw.GetSection("dsn"); err == nil {
		cfg.DefaultDSNAddr = sec.Key("addr").MustString(cfg.DefaultDSNAddr)
		cfg.DefaultDSNUser = sec.Key("user").MustString(cfg.DefaultDSNUser)
		cfg.DefaultDSNPassword = sec.Key("password").MustString(cfg.DefaultDSNPassword)
	}
	if sec, err := raw.GetSection("remote_dsn"); err == nil {
		cfg.RemoteDSNAddr = sec.Key("addr").MustString(cfg.RemoteDSNAddr)
		cfg.RemoteDSNUser = sec.Key("user").MustString(cfg.RemoteDSNUser)
		cfg.RemoteDSNPassword = sec.Key("password").MustString(cfg.RemoteDSNPassword)
	}
	return nil
}

// Addr renders the interface:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Interface, c.Port)
}
