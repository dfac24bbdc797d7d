package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"medication-adherence-server/internal/config"
	"medication-adherence-server/internal/logger"
	"medication-adherence-server/internal/models"
)

// app holds what every command needs once the environment is loaded.
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "medication-adherence-server",
		Short:         "Medication scheduling and adherence tracking server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newGenerateCmd(a))
	return root
}

// load reads .env (when present), the configuration and builds the logger.
func (a *app) load() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// openDB connects to the configured database, optionally applying the schema contract.
func (a *app) openDB(migrate bool) (*gorm.DB, error) {
	dbConfig := models.DatabaseConfig{
		Driver: a.cfg.Database.Driver,
		DSN:    a.cfg.Database.DSN,
		Debug:  a.cfg.IsDevelopment() && a.cfg.LogLevel == "debug",
	}
	if migrate {
		return models.InitDB(dbConfig)
	}
	return models.Open(dbConfig)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
