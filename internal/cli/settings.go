package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/idbharness/internal/settings"
)

// NewSettingsCommand creates the settings command and its subcommands.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change connection settings",
		Long: `Show or change the host, project and API key settings.

Unset values display as their placeholder. Setting a key to "" or to its
placeholder resets it. IDBH_HOST, IDBH_PROJECT and IDBH_API_KEY override
the stored values.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the resolved settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showSettings(cmd, rootOpts)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a setting (host, project, api_key)",
		Example: `  idbharness settings set host db.internal:8787
  idbharness settings set project ""`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setSetting(cmd, rootOpts, args[0], args[1])
		},
	})

	return cmd
}

func showSettings(cmd *cobra.Command, opts *RootOptions) error {
	resolved, err := settings.NewStore(opts.Dir).Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load settings", err)
	}

	display := make(map[string]string, len(settings.Keys))
	for _, key := range settings.Keys {
		v, err := resolved.Display(key)
		if err != nil {
			return err
		}
		display[key] = v
	}

	return opts.formatter(cmd).Result(true, display, func(w io.Writer) {
		for _, key := range settings.Keys {
			fmt.Fprintf(w, "%-8s %s\n", key, display[key])
		}
	})
}

func setSetting(cmd *cobra.Command, opts *RootOptions, key, value string) error {
	st := settings.NewStore(opts.Dir)
	if err := st.Set(key, value); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to set %s", key), err)
	}

	resolved, err := st.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load settings", err)
	}
	shown, err := resolved.Display(key)
	if err != nil {
		return err
	}

	return opts.formatter(cmd).Result(true, map[string]string{key: shown}, func(w io.Writer) {
		fmt.Fprintf(w, "%s = %s\n", key, shown)
	})
}
