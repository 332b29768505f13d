// Package cmd implements the lazarus admin CLI: inspection and maintenance
// of the evolution cache.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lazarus/internal/config"
	"github.com/xkilldash9x/lazarus/internal/observability"
)

type configKey struct{}

// NewRootCommand builds a fresh root command tree. Each invocation gets its
// own flag state so executions never leak flags into each other.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:     "lazarus",
		Short:   "Lazarus resurrects failing functions with validated, sandboxed replacements.",
		Version: Version,
		// Errors are logged once in Execute; cobra should not repeat them.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				// Fall back to a usable logger so the failure is visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "lazarus"})
				return err
			}
			observability.InitializeLogger(cfg.Logger)
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is built-in defaults plus LAZARUS_* env)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newShowCmd())
	root.AddCommand(newCleanCmd())
	return root
}

// getConfigFromContext retrieves the configuration stashed by the root's
// PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not initialized; was PersistentPreRunE skipped?")
	}
	return cfg, nil
}

// Execute runs the CLI with the given context and returns the command error
// after logging it.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}
