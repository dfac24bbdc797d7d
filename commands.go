package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"medication-adherence-server/internal/datetime"
	"medication-adherence-server/internal/models"
	"medication-adherence-server/internal/routes"
	"medication-adherence-server/internal/services"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema contract and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.openDB(true); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.log.Info("schema up to date", zap.Int("schema_version", models.SchemaVersion))
			return nil
		},
	}
}

func newGenerateCmd(a *app) *cobra.Command {
	var userID, from, to string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Materialize reminders from a user's schedules",
		Long: "Creates one reminder per due schedule and date in [from, to]. Dates already " +
			"materialized are skipped, so the command is safe to run from cron.",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(true)
			if err != nil {
				return err
			}
			svc := services.New(db, a.log, a.cfg.Engine)
			if from == "" {
				from = datetime.Today(time.Now)
			}
			result, err := svc.Reminders.GenerateFromSchedules(cmd.Context(), userID, from, to)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id whose schedules are materialized")
	cmd.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD (default from)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// serve runs the HTTP API until SIGINT or SIGTERM.
func (a *app) serve(ctx context.Context) error {
	db, err := a.openDB(true)
	if err != nil {
		a.log.Error("could not connect to database", zap.String("driver", a.cfg.Database.Driver), zap.Error(err))
		return err
	}
	a.log.Info("connected to database",
		zap.String("driver", a.cfg.Database.Driver),
		zap.Int("schema_version", models.SchemaVersion))

	svc := services.New(db, a.log, a.cfg.Engine)

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{a.cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}

	router := routes.NewRouter(db, a.cfg, svc, a.log, cors.New(corsConfig))

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting HTTP server", zap.String("port", a.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}
