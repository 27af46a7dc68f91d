package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dreamware/poolswitch/internal/client"
	"github.com/dreamware/poolswitch/internal/migration"
)

func init() {
	migrateCmd.Flags().String("server", defaultLocalServerAPI, "The server whose API will be queried.")
	migrateCmd.Flags().Duration("timeout", 10*time.Minute, "How long to wait for the migration to finish.")
	migrateCmd.Flags().Bool("json", false, "Whether to print the full response as JSON.")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate <backend>",
	Short: "Migrate live traffic to another backend.",
	Args:  cobra.ExactArgs(1),
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		serverAddress, _ := command.Flags().GetString("server")
		timeout, _ := command.Flags().GetDuration("timeout")
		asJSON, _ := command.Flags().GetBool("json")

		ctx, cancel := context.WithTimeout(command.Context(), timeout)
		defer cancel()

		resp, err := client.New(serverAddress).Migrate(ctx, args[0])
		if err != nil {
			return errors.Wrap(err, "failed to request migration")
		}

		if asJSON {
			if err := printJSON(resp); err != nil {
				return err
			}
		} else {
			fmt.Println(resp.Message)
		}

		if resp.Outcome != string(migration.OutcomeSucceeded) {
			return errors.Errorf("migration %s %s", resp.ID, resp.Outcome)
		}
		return nil
	},
}
