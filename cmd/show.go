package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/lazarus/api/schemas"
	"github.com/xkilldash9x/lazarus/internal/cache"
	"github.com/xkilldash9x/lazarus/internal/observability"
)

// newShowCmd creates the 'show' command: print the stored diff for an
// identity, or the path of a specific artifact.
func newShowCmd() *cobra.Command {
	var artifact string
	var regen bool

	cmd := &cobra.Command{
		Use:   "show <namespace> <function>",
		Short: "Show the diff between the original function and its accepted replacement.",
		Args:  cobra.ExactArgs(2),
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
			return runShow(cmd.OutOrStdout(), store, args[0], args[1], artifact, regen)
		},
	}

	cmd.Flags().StringVarP(&artifact, "artifact", "a", "", "print the path of one artifact instead of the diff text: diff|md|html|meta")
	cmd.Flags().BoolVar(&regen, "regen", false, "regenerate diff artifacts from the stored sources first")
	return cmd
}

// runShow contains the testable logic for the show command.
func runShow(out io.Writer, store *cache.Store, namespace, function, artifact string, regen bool) error {
	id := schemas.FunctionIdentity{Namespace: namespace, Name: function}
	if err := id.Validate(); err != nil {
		return err
	}

	if regen {
		ok, err := store.RegenerateArtifacts(id)
		if err != nil {
			return fmt.Errorf("failed to regenerate artifacts for %s: %w", id, err)
		}
		if !ok {
			return fmt.Errorf("no cached candidate and original for %s; nothing to regenerate", id)
		}
	}

	if artifact != "" {
		paths := store.ArtifactPaths(id)
		var path string
		switch artifact {
		case "diff":
			path = paths.Diff
		case "md":
			path = paths.DiffMD
		case "html":
			path = paths.DiffHTML
		case "meta":
			path = paths.Meta
		default:
			return fmt.Errorf("unknown artifact %q; expected diff, md, html, or meta", artifact)
		}
		fmt.Fprintln(out, path)
		return nil
	}

	text, err := store.DiffText(id)
	if errors.Is(err, cache.ErrNoDiff) {
		return fmt.Errorf("no diff recorded for %s", id)
	}
	if err != nil {
		return err
	}
	fmt.Fprint(out, text)
	return nil
}
