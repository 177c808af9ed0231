package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kass/go-geo-incidents/pkg/config"
	"github.com/kass/go-geo-incidents/pkg/store"
	"github.com/kass/go-geo-incidents/pkg/store/postgres"
	"github.com/kass/go-geo-incidents/pkg/store/sqlite"
	"github.com/spf13/cobra"
)

var (
	configFile string
	backend    string
	path       string
)

var rootCmd = &cobra.Command{
	Use:          "incidents",
	Short:        "Live geotagged incident reports",
	Long:         `Create, delete and watch incident reports kept in a shared keyed collection.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&backend, "backend", "b", "", "Store backend: memory, sqlite or postgres")
	rootCmd.PersistentFlags().StringVarP(&path, "path", "p", "", "Collection path")

	rootCmd.AddCommand(listCmd, addCmd, deleteCmd, seedCmd, watchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// backendStore is a store the command owns and must close
type backendStore interface {
	store.RemoteStore
	io.Closer
}

// loadConfig reads the config file and environment, then applies flags
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return cfg, err
	}
	if backend != "" {
		cfg.Store.Backend = backend
	}
	if path != "" {
		cfg.Store.Path = path
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func openStore(cfg config.Config) (backendStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	case config.BackendSQLite:
		log.Printf("Opening SQLite store %s", cfg.Store.SQLite.File)
		return sqlite.Open(cfg.Store.SQLite.File, sqlite.Options{PollInterval: cfg.Store.SQLite.PollInterval})
	case config.BackendPostgres:
		log.Printf("Connecting to PostgreSQL at %s:%d", cfg.Store.Postgres.Host, cfg.Store.Postgres.Port)
		return postgres.Open(cfg.PostgresDSN(), postgres.Options{MaxConnections: cfg.Store.Postgres.MaxConnections})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// setup loads the config and opens its store. One-shot commands pass
// persistent so the memory backend, which forgets everything on exit, is
// refused.
func setup(persistent bool) (config.Config, backendStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	if persistent && !cfg.Persistent() {
		return cfg, nil, fmt.Errorf("the %s backend keeps nothing between commands, use sqlite or postgres (memory only suits watch --seed)", cfg.Store.Backend)
	}
	st, err := openStore(cfg)
	if err != nil {
		return cfg, nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	return cfg, st, nil
}
