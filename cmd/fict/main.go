package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fict-go/internal/app"
	"fict-go/internal/config"
	"fict-go/internal/database"
	"fict-go/internal/fict"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// openStore opens the record store without the schema currency check, for
// commands that administer the database itself.
func openStore() (*database.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.DataDir != "" {
		if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return database.NewStoreFromConfig(cfg.Database, nil)
}

var rootCmd = &cobra.Command{
	Use:   "fict",
	Short: "Collaborative fiction API server",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		return nil
	},
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the record store",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup <dest>",
	Short: "Write a complete copy of the database to <dest>",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.BackupTo(args[0]); err != nil {
			return err
		}
		fmt.Printf("Database backed up to %s\n", args[0])
		return nil
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and API tokens",
}

var (
	userAddName  string
	userAddEmail string
)

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		existing, err := store.UserByEmail(cmd.Context(), userAddEmail)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("a user with email %s already exists (id %d)", userAddEmail, existing.ID)
		}

		user, err := store.CreateUser(cmd.Context(), userAddName, userAddEmail)
		if err != nil {
			return err
		}
		fmt.Printf("Created user %d (%s <%s>)\n", user.ID, user.Name, user.Email)
		return nil
	},
}

var userTokenEmail string

var userTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		user, err := store.UserByEmail(cmd.Context(), userTokenEmail)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("no user with email %s", userTokenEmail)
		}

		token := fict.UUIDGenerator{}.New()
		if err := store.CreateSession(cmd.Context(), token, user.ID); err != nil {
			return err
		}
		fmt.Printf("Token for %s: %s\n", user.Email, token)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return a.Run(ctx)
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userAddName, "name", "", "display name")
	userAddCmd.Flags().StringVar(&userAddEmail, "email", "", "email address")
	userAddCmd.MarkFlagRequired("name")
	userAddCmd.MarkFlagRequired("email")

	userTokenCmd.Flags().StringVar(&userTokenEmail, "email", "", "email address")
	userTokenCmd.MarkFlagRequired("email")

	configCmd.AddCommand(configInitCmd)
	dbCmd.AddCommand(dbMigrateCmd, dbBackupCmd)
	userCmd.AddCommand(userAddCmd, userTokenCmd)
	rootCmd.AddCommand(configCmd, dbCmd, userCmd, serveCmd)
}
