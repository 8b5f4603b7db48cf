package main

import (
	"os"

	"github.com/raihanakbr/consult-roles/internal/config"
	"github.com/raihanakbr/consult-roles/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool

	cfg *config.Root
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rolectl",
	Short: "Offline tools for doctor/patient role attribution",
	Long: `rolectl replays recorded recognizer batches through the role attribution
pipeline and manages the enrolled voice profiles used for profile matching.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func setup() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	log, err = logging.New(cfg.Log)
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
