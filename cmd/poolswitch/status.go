package main

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dreamware/poolswitch/internal/client"
)

func init() {
	statusCmd.Flags().String("server", defaultLocalServerAPI, "The server whose API will be queried.")
	statusCmd.Flags().Bool("table", false, "Whether to display the backends in a table or not.")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active backend and the state of every pool.",
	RunE: func(command *cobra.Command, args []string) error {
		command.SilenceUsage = true

		serverAddress, _ := command.Flags().GetString("server")
		backends, err := client.New(serverAddress).Backends(command.Context())
		if err != nil {
			return errors.Wrap(err, "failed to get backends")
		}

		outputToTable, _ := command.Flags().GetBool("table")
		if outputToTable {
			table := tablewriter.NewWriter(os.Stdout)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeader([]string{"BACKEND", "ACTIVE", "POOL", "DRIVER", "STATE", "IN USE", "IDLE", "OPEN", "REJECTED"})

			for _, b := range backends.Backends {
				table.Append([]string{
					b.ID,
					strconv.FormatBool(b.IsActive),
					b.Name,
					b.Driver,
					string(b.State),
					strconv.Itoa(b.Active),
					strconv.Itoa(b.Idle),
					strconv.Itoa(b.Open),
					strconv.FormatUint(b.Rejected, 10),
				})
			}
			table.Render()

			return nil
		}

		return printJSON(backends)
	},
}
