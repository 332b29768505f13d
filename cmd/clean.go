package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/lazarus/internal/cache"
	"github.com/xkilldash9x/lazarus/internal/observability"
)

// newCleanCmd creates the 'clean' command: remove cached candidates and
// their artifacts, scoped by namespace or a single function.
func newCleanCmd() *cobra.Command {
	var namespace string
	var function string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove cached replacements and diff artifacts.",
		Long: `Without flags, clean removes every artifact under the cache root.
--namespace limits removal to one namespace; add --function to target a
single function.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			dir, err := cfg.Evolution.ResolveCacheDir()
			if err != nil {
				return err
			}
			store := cache.NewStore(dir, observability.GetLogger())
			return runClean(cmd.OutOrStdout(), store, namespace, function)
		},
	}

	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "only remove artifacts in this namespace")
	cmd.Flags().StringVarP(&function, "function", "f", "", "only remove artifacts for this function (requires --namespace)")
	return cmd
}

// runClean contains the testable logic for the clean command.
func runClean(out io.Writer, store *cache.Store, namespace, function string) error {
	if function != "" && namespace == "" {
		return fmt.Errorf("--function requires --namespace")
	}

	removed, err := store.Clear(namespace, function)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %d cached artifact file(s).\n", removed)
	return nil
}
