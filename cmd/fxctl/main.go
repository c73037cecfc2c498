// fxctl inspects and administers storefront exchange rates and the local
// display-currency preference.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/richxcame/storefront/internal/cachemanager"
	"github.com/richxcame/storefront/internal/currency"
	"github.com/richxcame/storefront/pkg/config"
	"github.com/richxcame/storefront/pkg/httpclient"
	"github.com/richxcame/storefront/pkg/logger"
	pkgredis "github.com/richxcame/storefront/pkg/redis"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Build-time variables (set via -ldflags).
var version = "dev"

func main() {
	a := &app{v: viper.New(), out: os.Stdout}
	if err := run(a, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(a *app, args []string) error {
	defer func() {
		if err := a.close(); err != nil {
			a.logger().Warn("cleanup failed", zap.Error(err))
		}
	}()
	root := newRootCmd(a)
	root.SetArgs(args)
	return root.Execute()
}

// app carries settings and dependencies shared by every command
type app struct {
	v       *viper.Viper
	out     io.Writer
	storage cachemanager.Storage
	closers []func() error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "fxctl",
		Short:         "Inspect and administer storefront exchange rates",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadSettings(cmd)
		},
	}
	root.SetOut(a.out)

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default: ./fxctl.yaml or ~/.fxctl.yaml)")
	flags.String("server", "http://localhost:8080", "storefront API base URL")
	flags.Duration("timeout", 10*time.Second, "HTTP timeout")
	flags.Int("retries", 3, "attempts per rate fetch on 5xx or transport errors")
	flags.Duration("retry-backoff", time.Second, "initial backoff between rate fetch attempts")
	flags.String("redis-addr", "", "redis address for the local cache and preference (in-memory if empty)")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-db", 0, "redis database")
	flags.String("namespace", "storefront", "cache key namespace")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRatesCmd(a),
		newSetRatesCmd(a),
		newFormatCmd(a),
		newUseCmd(a),
		newWatchCmd(a),
	)
	return root
}

// loadSettings layers flags over FXCTL_* environment variables over the
// config file over defaults
func (a *app) loadSettings(cmd *cobra.Command) error {
	v := a.v
	v.SetEnvPrefix("FXCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", file, err)
		}
	} else {
		v.SetConfigName("fxctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	return a.initLogger(v.GetString("log-level"))
}

func (a *app) initLogger(level string) error {
	cfg := zap.NewDevelopmentConfig()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	logger.Set(l)
	a.closers = append(a.closers, func() error {
		_ = l.Sync()
		return nil
	})
	return nil
}

func (a *app) logger() *zap.Logger {
	return logger.Get()
}

func (a *app) client(opts ...httpclient.Option) *httpclient.Client {
	return httpclient.NewClient(strings.TrimRight(a.v.GetString("server"), "/"), a.v.GetDuration("timeout")).Apply(opts...)
}

// openStorage returns the shared durable storage, redis when configured
func (a *app) openStorage() (cachemanager.Storage, error) {
	if a.storage != nil {
		return a.storage, nil
	}

	addr := a.v.GetString("redis-addr")
	if addr == "" {
		a.logger().Warn("no redis configured, preferences will not survive this process")
		a.storage = cachemanager.NewMemoryStorage(0)
		return a.storage, nil
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis address %q: %w", addr, err)
	}
	client, err := pkgredis.NewRedisClient(&config.RedisConfig{
		Enabled:  true,
		Host:     host,
		Port:     port,
		Password: a.v.GetString("redis-password"),
		DB:       a.v.GetInt("redis-db"),
	})
	if err != nil {
		return nil, fmt.Errorf("redis at %s: %w", addr, err)
	}
	a.closers = append(a.closers, client.Close)
	a.storage = cachemanager.NewRedisStorage(client)
	return a.storage, nil
}

// newEngine builds and initializes a conversion engine over the configured
// server and storage
func (a *app) newEngine(ctx context.Context, opts ...currency.EngineOption) (*currency.Engine, error) {
	storage, err := a.openStorage()
	if err != nil {
		return nil, err
	}

	cache := cachemanager.NewManager(storage, a.v.GetString("namespace"), cachemanager.WithLogger(a.logger()))
	prefs := currency.NewStoragePreferenceStore(storage, "")
	opts = append([]currency.EngineOption{currency.WithEngineLogger(a.logger())}, opts...)

	rates := a.client(httpclient.WithRetryPolicy(a.v.GetInt("retries"), a.v.GetDuration("retry-backoff")))
	engine := currency.NewEngine(currency.NewHTTPRatesSource(rates), prefs, cache, opts...)
	if err := engine.Initialize(ctx); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		engine.Close()
		return nil
	})
	return engine, nil
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
