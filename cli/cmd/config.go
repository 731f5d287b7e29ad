package cmd

import (
	"context"
	"fmt"

	"github.com/tmc/rclindex/config"
	"github.com/tmc/rclindex/store"
	"github.com/tmc/rclindex/store/memstore"
	"github.com/tmc/rclindex/store/mssqlstore"
	"github.com/tmc/rclindex/store/pgstore"
)

// loadConfig reads rclindex.yaml from the --directory flag.
func loadConfig() (config.Config, error) {
	return config.LoadConfig(directory)
}

// openStore dispatches on cfg.Store.Driver to pick one of the three
// store.Store backends.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "memory":
		return memstore.New(), nil
	case "postgres":
		return pgstore.Open(ctx, cfg.Store.DSN)
	case "mssql":
		return mssqlstore.Open(ctx, cfg.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
