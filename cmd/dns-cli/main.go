package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"time"

	"github.com/agentuity/go-stubdns/cache"
	"github.com/agentuity/go-stubdns/dns"
	"github.com/agentuity/go-stubdns/env"
	"github.com/agentuity/go-stubdns/logger"
	"github.com/agentuity/go-stubdns/resilience"
	"github.com/agentuity/go-stubdns/telemetry"
	"github.com/agentuity/go-stubdns/tui"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var pingPolicy = resilience.RetryConfig{
	MaxRetries:        3,
	InitialBackoff:    250 * time.Millisecond,
	MaxBackoff:        2 * time.Second,
	BackoffMultiplier: 2,
	Jitter:            true,
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "dns-cli",
		Short:         "Query DNS servers with the stub resolver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "YAML client configuration")
	flags.String("server", "", "comma separated nameservers (default: $DNS_SERVERS, then /etc/resolv.conf)")
	flags.Uint16("port", 0, "destination port")
	flags.Int("retries", 0, "rounds over the server list")
	flags.Duration("timeout", 0, "wait for the first attempt")
	flags.Int("cache-size", 0, "answer cache size in bytes")
	flags.String("redis", "", "redis URL of a shared result store")
	flags.String("log-level", "", "trace, debug, info, warn or error (default: $DNS_LOG_LEVEL)")
	flags.String("log-file", "", "append debug logs to this file")
	flags.String("log-format", "", "console or json (default: $DNS_LOG_FORMAT, then console)")
	flags.String("otlp-url", "", "export logs and lookup spans to this OTLP/HTTP collector (default: $OTEL_EXPORTER_OTLP_ENDPOINT)")
	flags.String("otlp-token", "", "bearer token for the collector")

	root.AddCommand(newLookupCommand(), newReverseCommand(), newServersCommand(), newGetCommand())
	return root
}

// session is a client set up from the command line.
type session struct {
	client *dns.Client
	log    logger.Logger
	wait   time.Duration
	port   uint16
	close  func()
}

func loadConfig(cmd *cobra.Command) (dns.Config, error) {
	cfg := dns.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := dns.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if servers := env.List(cmd, "server", env.EnvServers); len(servers) > 0 {
		cfg.Servers = servers
	}
	if len(cfg.Servers) == 0 {
		addrs, err := dns.SystemNameservers(dns.DefaultResolvConf)
		if err != nil {
			return cfg, errors.Wrap(err, "no --server given")
		}
		for _, addr := range addrs {
			cfg.Servers = append(cfg.Servers, addr.String())
		}
	}
	if v, _ := cmd.Flags().GetUint16("port"); v != 0 {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetInt("retries"); v != 0 {
		cfg.Retries = v
	}
	if v, _ := cmd.Flags().GetDuration("timeout"); v != 0 {
		cfg.Timeout = v.String()
	}
	if v, _ := cmd.Flags().GetInt("cache-size"); v != 0 {
		cfg.CacheSize = v
	}
	return cfg, cfg.Validate()
}

// openStore connects to the shared result store named by --redis.
func openStore(ctx context.Context, log logger.Logger, url string) (cache.Cache, func(), error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parsing redis url")
	}
	rc := redis.NewClient(opts)
	err = resilience.Retry(ctx, pingPolicy, func() error {
		if err := rc.Ping(ctx).Err(); err != nil {
			log.Debug("redis ping: %v", err)
			return err
		}
		return nil
	})
	if err != nil {
		rc.Close()
		return nil, nil, errors.Wrapf(err, "connecting to redis at %s", opts.Addr)
	}
	store := cache.NewComposite(cache.NewInMemory(ctx), cache.NewRedis(rc, cache.WithPrefix("stubdns")))
	return store, func() {
		store.Close()
		rc.Close()
	}, nil
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	// the config file level applies when neither the flag nor the
	// environment chose one
	if _, ok := os.LookupEnv(logger.EnvLogLevel); !ok && !cmd.Flags().Changed("log-level") {
		_ = cmd.Flags().Set("log-level", cfg.LogLevel)
	}
	log, closeLog, err := env.NewLogger(cmd)
	if err != nil {
		return nil, err
	}
	wait, _ := cfg.WaitTimeout()

	ctx := cmd.Context()
	var extra []dns.Option
	shutdownTracing := func() {}
	if endpoint := env.FlagOrEnv(cmd, "otlp-url", "OTEL_EXPORTER_OTLP_ENDPOINT", ""); endpoint != "" {
		token, _ := cmd.Flags().GetString("otlp-token")
		otelLog, provider, shutdown, err := telemetry.New(ctx, endpoint, token, "dns-cli")
		if err != nil {
			closeLog()
			return nil, err
		}
		log = log.Stack(otelLog)
		extra = append(extra, dns.WithTracer(provider.Tracer("github.com/agentuity/go-stubdns/cmd/dns-cli")))
		shutdownTracing = shutdown
	}
	closeStore := func() {}
	if url, _ := cmd.Flags().GetString("redis"); url != "" {
		store, closer, err := openStore(ctx, log, url)
		if err != nil {
			shutdownTracing()
			closeLog()
			return nil, err
		}
		extra = append(extra, dns.WithResultStore(store))
		closeStore = closer
	}
	client, err := dns.NewFromConfig(ctx, log, cfg, extra...)
	if err != nil {
		closeStore()
		shutdownTracing()
		closeLog()
		return nil, err
	}
	return &session{
		client: client,
		log:    log,
		wait:   wait,
		port:   cfg.Port,
		close: func() {
			client.Close()
			closeStore()
			shutdownTracing()
			closeLog()
		},
	}, nil
}

func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return addr, errors.Wrapf(dns.ErrBadAddress, "%q: %v", s, err)
	}
	return addr, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, tui.Error("error: "+err.Error()))
		stop()
		os.Exit(1)
	}
}
