package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/idbharness/internal/store"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "List stores with their version and containers",
		Long: `List every store in the data directory with its on-disk schema version
and the containers it holds.

Examples:
  idbharness inspect
  idbharness inspect --dir /tmp/stores --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectStores(cmd, rootOpts)
		},
	}
}

func inspectStores(cmd *cobra.Command, opts *RootOptions) error {
	factory, err := store.NewFactory(opts.Dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to prepare data directory", err)
	}

	infos, err := factory.Databases()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stores", err)
	}
	if infos == nil {
		infos = []store.Info{}
	}

	return opts.formatter(cmd).Result(true, infos, func(w io.Writer) {
		if len(infos) == 0 {
			fmt.Fprintf(w, "No stores in %s.\n", opts.Dir)
			return
		}
		for _, info := range infos {
			containers := "-"
			if len(info.Containers) > 0 {
				containers = strings.Join(info.Containers, ", ")
			}
			fmt.Fprintf(w, "%s\tversion %d\tcontainers: %s\n", info.Name, info.Version, containers)
		}
	})
}
