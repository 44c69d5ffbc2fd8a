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

	"github.com/victornm/duelhub/internal/config"
	"github.com/victornm/duelhub/internal/notification"
	"github.com/victornm/duelhub/internal/server"
)

const envPrefix = "DUELHUB"

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "duelhub",
		Short: "Admin backend for the duel leaderboard game",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}

			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Config file (env: CONFIG_PATH)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newAdminCmd())

	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

			s, err := server.Init(c)
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}

			go s.Start()

			<-shutdown
			s.Shutdown()
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			if err := server.Migrate(ctx, c); err != nil {
				return err
			}

			slog.InfoContext(ctx, "migrate: schema applied")
			return nil
		},
	}
}

func newAdminCmd() *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin console accounts",
	}

	var email, password string

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account, e.g. the first one",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			u, err := server.CreateAdmin(ctx, c, email, password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "Email of the new admin")
	create.Flags().StringVar(&password, "password", "", "Initial password")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	admin.AddCommand(create)
	return admin
}

func loadConfig() (server.Config, error) {
	var c server.Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Storage.Driver = server.StoragePostgres
	c.Identity.Driver = server.IdentityGotrue
	c.Auth.SessionTTL = 24 * time.Hour
	c.Event.PoolSize = 1000
	c.Event.HandlerTimeout = 30 * time.Second
	c.Notification.Default = notification.ProviderFCM

	if configPath == "" {
		slog.Warn("config: no file given, loading from the environment only")
	}

	if err := config.Load(configPath, &c, config.WithEnvPrefix(envPrefix)); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
