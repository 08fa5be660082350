package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/botforge/botforge/internal/app"
	"github.com/botforge/botforge/internal/config"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "botforge",
	Short: "Hosting service for user-configured telegram bots",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the constructor API and all previously started bots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("loading env file %q: %w", envFile, err)
			}
		} else {
			// default .env is optional
			_ = godotenv.Load()
		}
		cfg, err := config.New()
		if err != nil {
			return err
		}
		a, err := app.New(cfg)
		if err != nil {
			return err
		}
		return a.Run(cmd.Context())
	},
}

func main() {
	serveCmd.Flags().StringVar(&envFile, "env-file", "", "Path to an env file to load before reading configuration")
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
