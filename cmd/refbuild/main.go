// Command refbuild is the CLI surface for the postal reference build
// engine (§6): schema migration, supplemental ingest, bundle creation,
// and the build/verify/publish pipeline. Every subcommand prints exactly
// one JSON line and exits 0 (success), 1 (domain error), or 2 (argument
// parse failure).
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ukpostal/refbuild/internal/config"
	"github.com/ukpostal/refbuild/internal/dbutil"
	"github.com/ukpostal/refbuild/internal/logging"
)

var (
	cfgFile string
	dbDSN   string
	verbose bool

	logger *logrus.Logger
	cfg    *config.Config
	db     *dbutil.DB
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fail(err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:           "refbuild",
	Short:         "Build, verify, and publish the UK postal reference dataset",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logrus.New()
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("failed to load config, using defaults")
			cfg = config.Default()
		}
		if dbDSN != "" {
			cfg.Storage.PostgresDSN = dbDSN
		}

		db, err = dbutil.Open(context.Background(), cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./refbuild.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db-dsn", "", "postgres DSN, overrides config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &argError{msg: err.Error()}
	})

	dbCmd.AddCommand(dbMigrateCmd)
	ingestCmd.AddCommand(ingestSourceCmd)
	bundleCmd.AddCommand(bundleCreateCmd)
	buildCmd.AddCommand(buildRunCmd, buildVerifyCmd, buildPublishCmd, buildStatusCmd)

	rootCmd.AddCommand(dbCmd, ingestCmd, bundleCmd, buildCmd)
}

var dbCmd = &cobra.Command{Use: "db", Short: "Schema administration"}
var ingestCmd = &cobra.Command{Use: "ingest", Short: "Supplemental raw-row ingest"}
var bundleCmd = &cobra.Command{Use: "bundle", Short: "Bundle management"}
var buildCmd = &cobra.Command{Use: "build", Short: "Build pipeline"}

func newPassLogger() (*logging.Logger, error) {
	return logging.NewLogger(logging.DefaultConfig(verbose))
}
