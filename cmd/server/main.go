package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"payments-portal/internal/auth"
	"payments-portal/internal/config"
	"payments-portal/internal/repository"
	"payments-portal/internal/server"
	"payments-portal/internal/service"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:           "portal",
		Short:         "Payments portal API for customers and bank employees",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd(logger))
	rootCmd.AddCommand(migrateCmd(logger))
	rootCmd.AddCommand(employeeCmd(logger))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func serveCmd(logger *slog.Logger) *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if migrateFirst {
				if err := repository.MigrateUp(cfg.GetDBConnectionString(), logger); err != nil {
					return err
				}
			}

			srv, err := server.NewServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}

			port, err := srv.Start(cfg.ServerPort)
			if err != nil {
				srv.Stop(context.Background())
				return fmt.Errorf("failed to listen: %w", err)
			}
			logger.Info("Server started successfully", "port", port)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Stop(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			logger.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func migrateCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return repository.MigrateUp(cfg.GetDBConnectionString(), logger)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return repository.MigrateDown(cfg.GetDBConnectionString(), steps, logger)
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	return cmd
}

func employeeCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "employee",
		Short: "Manage employee accounts",
	}

	var req service.EmployeeRequest
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an employee account with a role",
		Example: `  portal employee create --username sam --name "Sam Reviewer" \
    --id-code EMP001 --role supervisor --password 'change-me-now'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := repository.Open(cfg.GetDBConnectionString())
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			store := repository.NewStore(db, logger, cfg.DBTimeout)
			lockout := service.NewLockoutTracker(store, cfg.Lockout.MaxAttempts, cfg.Lockout.Duration, logger)
			tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
			accounts := service.NewAccountService(store, lockout, tokens, logger)

			acc, err := accounts.CreateEmployee(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created employee %s (%s) with role %s\n", acc.Username, acc.ID, acc.RoleName)
			return nil
		},
	}

	flags := create.Flags()
	flags.StringVar(&req.Username, "username", "", "login username")
	flags.StringVar(&req.FullName, "name", "", "full name")
	flags.StringVar(&req.IDCode, "id-code", "", "employee id code, usable as an alternate login")
	flags.StringVar(&req.Role, "role", "", "role name, e.g. verifier or supervisor")
	flags.StringVar(&req.Password, "password", "", "initial password")
	for _, name := range []string{"username", "name", "id-code", "role", "password"} {
		create.MarkFlagRequired(name)
	}
	cmd.AddCommand(create)

	return cmd
}
