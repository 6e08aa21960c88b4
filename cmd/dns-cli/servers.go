package main

import (
	"strconv"

	"github.com/agentuity/go-stubdns/tui"
	"github.com/spf13/cobra"
)

func newServersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Show the nameservers lookups would use, in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			var rows [][]string
			for i, addr := range s.client.Servers() {
				rows = append(rows, []string{strconv.Itoa(i), addr.String(), strconv.Itoa(int(s.port))})
			}
			tui.Table(cmd.OutOrStdout(), []string{"#", "SERVER", "PORT"}, rows)
			return nil
		},
	}
}
