package main

import (
	"github.com/spf13/cobra"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
)

func (a *app) configCmd() *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Short: "User configuration operations"}

	// put
	var putFile string
	putCmd := &cobra.Command{
		Use:   "put",
		Short: `Store a configuration document read as JSON: {"id": "metrics"|"summaries", "value": ...}`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg model.Configuration
			if err := a.readJSON(putFile, &cfg); err != nil {
				return err
			}
			id, err := a.storage.StoreConfiguration(cmd.Context(), a.user, cfg)
			if err != nil {
				return err
			}
			return a.print(map[string]model.ConfigurationID{"id": id})
		},
	}
	putCmd.Flags().StringVarP(&putFile, "file", "f", "-", "JSON file with the configuration, - for stdin")
	configCmd.AddCommand(putCmd)

	// get
	configCmd.AddCommand(&cobra.Command{
		Use:       "get metrics|summaries",
		Short:     "Retrieve one configuration document",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(model.ConfigMetrics), string(model.ConfigSummaries)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.storage.RetrieveUserConfiguration(cmd.Context(), a.user, model.ConfigurationID(args[0]))
			if err != nil {
				return err
			}
			return a.print(cfg)
		},
	})

	// list
	configCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the user's configuration documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := a.storage.QueryUserConfiguration(cmd.Context(), a.user)
			if err != nil {
				return err
			}
			return a.print(out)
		},
	})

	// delete
	configCmd.AddCommand(&cobra.Command{
		Use:   "delete metrics|summaries",
		Short: "Delete one configuration document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.storage.DeleteUserConfiguration(cmd.Context(), a.user, model.ConfigurationID(args[0]))
			if err != nil {
				return err
			}
			return a.print(map[string]bool{"deleted": ok})
		},
	})

	return configCmd
}
