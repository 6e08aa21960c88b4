package main

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"time"

	"github.com/agentuity/go-stubdns/dns"
	"github.com/agentuity/go-stubdns/tui"
	"github.com/cockroachdb/errors"
	mdns "github.com/miekg/dns"
	"github.com/spf13/cobra"
)

var recordHeaders = []string{"TYPE", "VALUE", "GLUE"}

const (
	pollInterval      = 100 * time.Millisecond
	reverseBufferSize = 512
)

func newLookupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup <name>",
		Short: "Resolve a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typeFlag, _ := cmd.Flags().GetString("type")
			qtype, ok := mdns.StringToType[strings.ToUpper(typeFlag)]
			if !ok {
				return errors.Wrapf(dns.ErrInvalidParameter, "unknown record type %q", typeFlag)
			}
			size, _ := cmd.Flags().GetInt("buffer-size")
			poll, _ := cmd.Flags().GetBool("poll")

			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			buf := dns.NewRecordBuffer(size)
			if poll {
				err = pollLookup(cmd.Context(), s, args[0], qtype, buf)
			} else {
				err = s.client.Lookup(cmd.Context(), args[0], qtype, buf, s.wait)
			}
			if errors.Is(err, dns.ErrNeedMoreRecordBuffer) {
				fmt.Fprintln(cmd.ErrOrStderr(), tui.Warning("answer truncated, raise --buffer-size"))
				err = nil
			}
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), qtype, buf)
			return nil
		},
	}
	cmd.Flags().StringP("type", "t", "A", "record type: A, AAAA, CNAME, PTR, TXT, NS, MX, SRV or SOA")
	cmd.Flags().Int("buffer-size", 2048, "record buffer size in bytes")
	cmd.Flags().Bool("poll", false, "send once and poll for the answer")
	return cmd
}

// pollLookup runs a non-blocking lookup, polling until the configured wait
// has passed. An unanswered lookup is abandoned when the session closes.
func pollLookup(ctx context.Context, s *session, name string, qtype uint16, buf *dns.RecordBuffer) error {
	err := s.client.Lookup(ctx, name, qtype, buf, 0)
	deadline := time.Now().Add(s.wait)
	for errors.Is(err, dns.ErrInProgress) {
		if time.Now().After(deadline) {
			return errors.Wrapf(dns.ErrQueryFailed, "no answer within %s", s.wait)
		}
		s.log.Trace("waiting for %s", name)
		err = s.client.Complete(ctx, pollInterval)
	}
	return err
}

func newReverseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reverse <address>",
		Short: "Look up the host name of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			host, err := s.client.HostByAddress(cmd.Context(), addr, reverseBufferSize, s.wait)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), host)
			return nil
		},
	}
}

func glue(v4, v6 netip.Addr) string {
	var out []string
	for _, a := range []netip.Addr{v4, v6} {
		if a.IsValid() {
			out = append(out, a.String())
		}
	}
	return strings.Join(out, " ")
}

func recordRows(qtype uint16, buf *dns.RecordBuffer) [][]string {
	var rows [][]string
	for _, a := range buf.Addresses() {
		t := "A"
		if a.Is6() {
			t = "AAAA"
		}
		rows = append(rows, []string{t, a.String(), ""})
	}
	for _, n := range buf.Names() {
		rows = append(rows, []string{mdns.TypeToString[qtype], n, ""})
	}
	for _, e := range buf.NameServers() {
		rows = append(rows, []string{"NS", e.Host, glue(e.IPv4, e.IPv6)})
	}
	for _, e := range buf.MailExchanges() {
		rows = append(rows, []string{"MX", fmt.Sprintf("%d %s", e.Preference, e.Host), glue(e.IPv4, e.IPv6)})
	}
	for _, e := range buf.Services() {
		rows = append(rows, []string{"SRV", fmt.Sprintf("%d %d %d %s", e.Priority, e.Weight, e.Port, e.Target), glue(e.IPv4, e.IPv6)})
	}
	if soa := buf.ZoneStart(); soa != nil {
		rows = append(rows, []string{"SOA", fmt.Sprintf("%s %s %d %d %d %d %d",
			soa.Host, soa.Mailbox, soa.Serial, soa.Refresh, soa.Retry, soa.Expire, soa.Minimum), ""})
	}
	return rows
}

func printRecords(w io.Writer, qtype uint16, buf *dns.RecordBuffer) {
	tui.Table(w, recordHeaders, recordRows(qtype, buf))
}
