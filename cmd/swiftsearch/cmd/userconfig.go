package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keerthi16/SwiftSearch/internal/config"
	"github.com/keerthi16/SwiftSearch/internal/configstore"
	bridgeerrors "github.com/keerthi16/SwiftSearch/internal/errors"
)

func newUserConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "userconfig",
		Short: "Read or write per-user search config",
		Long: `Operate on the per-user config document without running the mediator.

The same create-on-miss and corruption repair rules apply as for the
getSearchUserConfig and updateUserConfig commands.`,
	}

	cmd.AddCommand(newUserConfigGetCmd(opts))
	cmd.AddCommand(newUserConfigSetCmd(opts))

	return cmd
}

func newUserConfigGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <userId>",
		Short: "Print one user's config entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			entry, err := openStore(cfg).Get(cmd.Context(), args[0])
			if err != nil {
				if bridgeerrors.IsNotFound(err) {
					return fmt.Errorf("no config for user %q (an empty entry was created)", args[0])
				}
				return err
			}
			return printEntry(cmd, entry)
		},
	}
}

func newUserConfigSetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "set <userId> <json>",
		Short:   "Replace one user's config entry",
		Example: `  swiftsearch userconfig set u1 '{"language":"en"}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data configstore.UserConfig
			dec := json.NewDecoder(strings.NewReader(args[1]))
			dec.UseNumber()
			if err := dec.Decode(&data); err != nil {
				return fmt.Errorf("invalid config JSON: %w", err)
			}
			if data == nil {
				return fmt.Errorf("config must be a JSON object")
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			store := openStore(cfg)
			entry, err := store.Update(cmd.Context(), args[0], data)
			if bridgeerrors.IsNotFound(err) {
				// The document was missing and has been created with this entry.
				entry, err = store.Get(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			return printEntry(cmd, entry)
		},
	}
}

func openStore(cfg *config.Config) *configstore.Store {
	return configstore.New(cfg.UserConfigPath(), cfg.IndexVersion)
}

func printEntry(cmd *cobra.Command, entry configstore.UserConfig) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(entry)
}
