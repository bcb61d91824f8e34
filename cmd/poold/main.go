// main.go - Shielded pool daemon.
//
// poold keeps the state of a shielded payment pool in a leveldb store and
// applies mint, private transfer and reclaim operations to it after checking
// their Groth16 proofs.
//
// Usage:
//
//	poold setup --pin               generate circuit keys and pin their checksums
//	poold issue 1 alice 1000        create asset 1 held by alice
//	poold transfer 1 alice bob 10   move a public balance
//	poold credit 1 alice 100        set a public balance
//	poold submit --from alice ops.json
//	                                apply operations from a file
//	poold status --nullifier <hex>  print the persisted pool state
//	poold health                    run the health checks
//	poold demo                      run a mint, transfer and reclaim end to end
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"shieldpool/internal/config"
	plog "shieldpool/internal/log"
)

var (
	configPath string

	cfg    *config.Config
	logger *plog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "poold",
	Short:         "Shielded payment pool daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger, err = plog.Setup(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "poold.toml", "path to the TOML configuration file")
}

// componentLogger returns the process logger tagged with a module name.
func componentLogger(module string) zerolog.Logger {
	return logger.With().Str("module", module).Logger()
}

// openAudit opens the configured audit log.
func openAudit() (*plog.Audit, error) {
	return plog.NewAudit(cfg.Log.Audit)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}
