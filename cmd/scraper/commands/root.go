package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rizkirmdhn/beasiswa/internal/common/config"
	"github.com/rizkirmdhn/beasiswa/internal/common/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "beasiswa",
	Short: "beasiswa scrapes scholarship listings from luarkampus.id.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.json)")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and builds the logger every command shares
func setup() (*config.Config, *logrus.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}

	log := logger.New(cfg)
	log.WithFields(logrus.Fields{
		"component": "scraper_main",
		"config":    fmt.Sprintf("%+v", cfg.Scraper),
	}).Debug("Scraper configuration loaded")
	return cfg, log, nil
}
