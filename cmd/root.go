package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "presence",
	Short: "A real-time face recognition attendance engine",
	Long: `Presence is an attendance engine that matches face embeddings from a
camera feed against a trained gallery and records who showed up. It serves
an HTTP API for training uploads, live recognition sessions, and event
streams.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
