package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfooddiary/openfooddiary/server/internal/model"
)

func (a *app) logsCmd() *cobra.Command {
	logsCmd := &cobra.Command{Use: "logs", Short: "Food log operations"}

	// add
	var addFile string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Store a food log entry read as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in model.CreateFoodLogEntry
			if err := a.readJSON(addFile, &in); err != nil {
				return err
			}
			id, err := a.storage.StoreFoodLog(cmd.Context(), a.user, in)
			if err != nil {
				return err
			}
			return a.print(map[string]string{"id": id})
		},
	}
	addCmd.Flags().StringVarP(&addFile, "file", "f", "-", "JSON file with the entry, - for stdin")
	logsCmd.AddCommand(addCmd)

	// get
	logsCmd.AddCommand(&cobra.Command{
		Use:   "get LOG_ID",
		Short: "Retrieve a food log entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.storage.RetrieveFoodLog(cmd.Context(), a.user, args[0])
			if err != nil {
				return err
			}
			return a.print(e)
		},
	})

	// edit
	var editFile string
	editCmd := &cobra.Command{
		Use:   "edit",
		Short: "Apply a partial edit read as JSON; the id field selects the entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in model.EditFoodLogEntry
			if err := a.readJSON(editFile, &in); err != nil {
				return err
			}
			e, err := a.storage.EditFoodLog(cmd.Context(), a.user, in)
			if err != nil {
				return err
			}
			return a.print(e)
		},
	}
	editCmd.Flags().StringVarP(&editFile, "file", "f", "-", "JSON file with the edit, - for stdin")
	logsCmd.AddCommand(editCmd)

	// delete
	logsCmd.AddCommand(&cobra.Command{
		Use:   "delete LOG_ID",
		Short: "Delete a food log entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.storage.DeleteFoodLog(cmd.Context(), a.user, args[0])
			if err != nil {
				return err
			}
			return a.print(map[string]bool{"deleted": ok})
		},
	})

	// query
	var startFlag, endFlag string
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "List entries overlapping [start, end]",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseTime("start", startFlag)
			if err != nil {
				return err
			}
			end, err := parseTime("end", endFlag)
			if err != nil {
				return err
			}
			out, err := a.storage.QueryFoodLogs(cmd.Context(), a.user, start, end)
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}
	queryCmd.Flags().StringVar(&startFlag, "start", "", "Range start, RFC 3339 (required)")
	queryCmd.Flags().StringVar(&endFlag, "end", "", "Range end, RFC 3339 (required)")
	_ = queryCmd.MarkFlagRequired("start")
	_ = queryCmd.MarkFlagRequired("end")
	logsCmd.AddCommand(queryCmd)

	// purge
	logsCmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every food log entry of the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ok, err := a.storage.PurgeFoodLogs(cmd.Context(), a.user)
			if err != nil {
				return err
			}
			return a.print(map[string]bool{"purged": ok})
		},
	})

	// export
	logsCmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Write every entry of the user to a CSV file and print its path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.storage.BulkExportFoodLogs(cmd.Context(), a.user)
			if err != nil {
				return err
			}
			return a.print(map[string]string{"path": path})
		},
	})

	return logsCmd
}

func parseTime(name, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, model.NewValidationError(fmt.Sprintf("invalid --%s: %q", name, v))
	}
	return t, nil
}
