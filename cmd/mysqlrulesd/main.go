// Command mysqlrulesd is a reference CLI around the rule-driven MySQL
// protocol frontend. Rule loading from disk is explicitly out of the
// core's scope; this binary wires a Loader interface so callers can supply
// their own, falling back to a handful of built-in demo rules.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/ruleserver/mysqlrules/internal/conf"
	"github.com/ruleserver/mysqlrules/internal/logging"
	"github.com/ruleserver/mysqlrules/internal/server"
	"github.com/ruleserver/mysqlrules/internal/state"
	"github.com/ruleserver/mysqlrules/rule"
)

// Loader produces the ordered rule list the dispatcher walks. A real
// deployment supplies one backed by whatever configuration format it
// likes; main falls back to demoRules when none is registered.
type Loader interface {
	Load() ([]rule.Rule, error)
}

// loaders, if non-empty, is consulted before the built-in demo rules.
// Another file added to this package can append to it from an init
// function.
var loaders []Loader

func main() {
	os.Exit(run())
}

func run() int {
	var flags conf.Flags
	var configPaths stringList

	fs := flag.NewFlagSet("mysqlrulesd", flag.ContinueOnError)
	fs.IntVar(&flags.Port, "port", 0, "listen port (default 23306)")
	fs.StringVar(&flags.Interface, "interface", "", "listen interface (default 127.0.0.1)")
	fs.StringVar(&flags.DSN, "dsn", "", "default upstream DSN address")
	fs.StringVar(&flags.DSNUser, "dsn_user", "", "default upstream DSN user")
	fs.StringVar(&flags.DSNPassword, "dsn_password", "", "default upstream DSN password")
	fs.StringVar(&flags.RemoteDSN, "remote_dsn", "", "remote upstream DSN address")
	fs.StringVar(&flags.RemoteDSNUser, "remote_dsn_user", "", "remote upstream DSN user")
	fs.StringVar(&flags.RemoteDSNPassword, "remote_dsn_password", "", "remote upstream DSN password")
	fs.Var(&configPaths, "config", "path to an INI config file (repeatable)")
	fs.BoolVar(&flags.Debug, "debug", false, "enable debug logging and packet dumps")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}
	flags.ConfigPaths = configPaths

	cfg, err := conf.Resolve(flags)
	if err != nil {
		logging.L().WithError(err).Error("mysqlrulesd: configuration error")
		return 1
	}
	logging.SetDebug(cfg.Debug)

	rules, err := loadRules()
	if err != nil {
		logging.L().WithError(err).Error("mysqlrulesd: rule loading error")
		return 1
	}

	srv := server.New(server.Options{
		Addr: cfg.Addr(),
		Default: state.Credentials{
			Addr:     cfg.DefaultDSNAddr,
			User:     cfg.DefaultDSNUser,
			Password: cfg.DefaultDSNPassword,
		},
		Remote: state.Credentials{
			Addr:     cfg.RemoteDSNAddr,
			User:     cfg.RemoteDSNUser,
			Password: cfg.RemoteDSNPassword,
		},
		Rules: rules,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.L().WithField("addr", cfg.Addr()).Info("mysqlrulesd: listening")
	if err := srv.Serve(ctx); err != nil {
		logging.L().WithError(err).Error("mysqlrulesd: server exited with error")
		return 1
	}
	return 0
}

func loadRules() ([]rule.Rule, error) {
	for _, l := range loaders {
		rules, err := l.Load()
		if err != nil {
			return nil, err
		}
		if len(rules) > 0 {
			return rules, nil
		}
	}
	return demoRules(), nil
}

// demoRules reproduces the end-to-end scenarios spec.md §8 describes, so a
// freshly started server is immediately useful for smoke-testing a client
// against it.
func demoRules() []rule.Rule {
	return []rule.Rule{
		{
			Match: regexp.MustCompile(`(?i)^\s*SET\s+SQL_AUTO_IS_NULL\s*=\s*0;?\s*$`),
			OK:    rule.Lit(true),
		},
		{
			Match: regexp.MustCompile(`^hello$`),
			Data:  rule.Lit([]interface{}{"world"}),
		},
		{
			Match: "SHOW STATUS",
			Data:  rule.Lit(map[string]interface{}{"uptime": "0", "threads_connected": "1"}),
		},
	}
}

// stringList implements flag.Value so --config can be passed more than
// once.
type stringList []string

func (s *stringList) String() string { return "" }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}
