package main

import (
	"fmt"
	"os"
	"time"

	"dripline/config"
	"dripline/utils"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dripline",
	Short: "Lead email sequence service",
	Long:  `Runs the lead drip-sequence API and its maintenance commands.`,
	RunE:  runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the recipients and send_records tables",
	RunE:  runMigrate,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an operator access token for the dashboard",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().String("operator", "", "operator id to embed in the token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("operator")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := utils.NewLogger(cfg.Environment, cfg.LogLevel)
	config.LogConfig(cfg, logger)

	srv, err := newServer(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	return srv.Run()
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := utils.NewLogger(cfg.Environment, cfg.LogLevel)

	db, err := config.ConnectDB(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("🔄 Starting database migration...")
	if err := migrate(cmd.Context(), db); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	logger.Info("✅ Database migration completed")
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	operator, _ := cmd.Flags().GetString("operator")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	token, err := utils.GenerateJWTToken(operator, cfg.JWTSecret, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
