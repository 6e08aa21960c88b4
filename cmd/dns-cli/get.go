package main

import (
	"fmt"
	"io"
	"net/http"

	stubnet "github.com/agentuity/go-stubdns/net"
	"github.com/agentuity/go-stubdns/tui"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Fetch a URL with its host resolved by the stub resolver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			var opts []stubnet.DialOption
			if s.wait > 0 {
				opts = append(opts, stubnet.WithLookupTimeout(s.wait))
			}
			if ipv6, _ := cmd.Flags().GetBool("ipv6"); ipv6 {
				opts = append(opts, stubnet.WithIPv6First())
			}
			dialer, err := stubnet.New(s.client, opts...)
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, args[0], nil)
			if err != nil {
				return errors.Wrapf(err, "bad url %q", args[0])
			}
			resp, err := stubnet.NewHTTPClient(dialer).Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			fmt.Fprintln(cmd.ErrOrStderr(), tui.Muted(resp.Status))
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
	cmd.Flags().Bool("ipv6", false, "try the AAAA answer first")
	return cmd
}
