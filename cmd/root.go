package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/config"
	"github.com/kozaktomas/photo-dedup/internal/logging"
)

var (
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "photo-dedup",
	Short: "Find near-duplicate images with perceptual hashes",
	Long: `Photo Dedup fingerprints image collections with a 64-bit DCT perceptual
hash and groups images whose hashes differ in only a few bits.

Hashing runs locally or is distributed to worker nodes over Redis Streams;
fingerprints are kept in SQLite, PostgreSQL or MariaDB.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default $"+config.FileEnv+")")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	log, err := logging.Setup(c.Log.Level, c.Log.Format)
	if err != nil {
		return err
	}

	cfg = c
	logger = log
	return nil
}
