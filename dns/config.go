package dns

import (
	"context"
	"net/netip"
	"os"
	"time"

	"github.com/agentuity/go-stubdns/logger"
	"github.com/agentuity/go-stubdns/rrcache"
	"github.com/cockroachdb/errors"
	mdns "github.com/miekg/dns"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// DefaultResolvConf is where SystemNameservers looks by default.
const DefaultResolvConf = "/etc/resolv.conf"

// Config is the file form of a client's settings.
type Config struct {
	// Servers are nameserver addresses, IPv4 or IPv6, in the order they are tried.
	Servers []string `yaml:"servers"`
	// Port is the destination port of every query (default: 53)
	Port uint16 `yaml:"port"`
	// Retries is the number of rounds over the server list (default: 3)
	Retries int `yaml:"retries"`
	// Timeout is the wait for the first attempt; it doubles every round.
	Timeout string `yaml:"timeout"`
	// MaxRetransmitTimeout caps the doubling wait (default: 64s)
	MaxRetransmitTimeout string `yaml:"max_retransmit_timeout"`
	// LockTimeout bounds waits for the instance outside lookups. Empty waits forever.
	LockTimeout string `yaml:"lock_timeout"`
	// CacheSize is the answer cache block in bytes. Zero disables the cache.
	CacheSize int `yaml:"cache_size"`
	// PacketSize is the buffer size of the packet pool (default: 512)
	PacketSize int `yaml:"packet_size"`
	// LogLevel is one of trace, debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the settings of a client created without options.
func DefaultConfig() Config {
	return Config{
		Port:                 DefaultPort,
		Retries:              DefaultRetries,
		Timeout:              "2s",
		MaxRetransmitTimeout: "64s",
		PacketSize:           PacketSize,
		LogLevel:             "info",
	}
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "opening config %s", path)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrapf(err, "decoding config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidParameter, "%s: %v", field, err)
	}
	if d < 0 {
		return 0, errors.Wrapf(ErrInvalidParameter, "%s: negative duration %s", field, s)
	}
	return d, nil
}

// Validate checks the configuration for values a client would reject.
func (c Config) Validate() error {
	if len(c.Servers) > MaxServers {
		return errors.Wrapf(ErrInvalidParameter, "%d servers configured, at most %d allowed", len(c.Servers), MaxServers)
	}
	if _, err := c.ServerAddrs(); err != nil {
		return err
	}
	if c.Retries < 1 {
		return errors.Wrapf(ErrInvalidParameter, "retries must be at least 1, got %d", c.Retries)
	}
	if c.Port == 0 {
		return errors.Wrap(ErrInvalidParameter, "port must be set")
	}
	timeout, err := c.WaitTimeout()
	if err != nil {
		return err
	}
	if timeout == 0 {
		return errors.Wrap(ErrInvalidParameter, "timeout must be set")
	}
	if _, err := parseDuration("max_retransmit_timeout", c.MaxRetransmitTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("lock_timeout", c.LockTimeout); err != nil {
		return err
	}
	if c.CacheSize != 0 && c.CacheSize < rrcache.MinSize {
		return errors.Wrapf(ErrCacheSize, "cache_size %d is below %d", c.CacheSize, rrcache.MinSize)
	}
	if c.PacketSize != 0 && c.PacketSize < minPacketSize {
		return errors.Wrapf(ErrInvalidParameter, "packet_size %d is below %d", c.PacketSize, minPacketSize)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return errors.Mark(err, ErrInvalidParameter)
	}
	return nil
}

// ServerAddrs parses Servers.
func (c Config) ServerAddrs() ([]netip.Addr, error) {
	addrs := make([]netip.Addr, 0, len(c.Servers))
	for _, s := range c.Servers {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, errors.Wrapf(ErrBadAddress, "server %q: %v", s, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// WaitTimeout is the parsed Timeout.
func (c Config) WaitTimeout() (time.Duration, error) {
	return parseDuration("timeout", c.Timeout)
}

// Options converts the configuration into client options.
func (c Config) Options() ([]Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opts := []Option{
		WithRetries(c.Retries),
		WithPort(c.Port),
		WithCache(c.CacheSize),
	}
	if d, _ := parseDuration("max_retransmit_timeout", c.MaxRetransmitTimeout); d > 0 {
		opts = append(opts, WithMaxRetransmitTimeout(d))
	}
	if d, _ := parseDuration("lock_timeout", c.LockTimeout); d > 0 {
		opts = append(opts, WithLockTimeout(d))
	}
	if c.PacketSize > 0 {
		opts = append(opts, WithPacketPool(NewPacketPool(c.PacketSize)))
	}
	return opts, nil
}

// NewFromConfig creates a client from cfg and adds its servers. Extra
// options are applied after the configured ones.
func NewFromConfig(ctx context.Context, log logger.Logger, cfg Config, extra ...Option) (*Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	c, err := New(ctx, log, append(opts, extra...)...)
	if err != nil {
		return nil, err
	}
	addrs, _ := cfg.ServerAddrs()
	for _, addr := range addrs {
		if err := c.AddServer(addr); err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "adding server %s", addr)
		}
	}
	return c, nil
}

// SystemNameservers returns the nameservers listed in a resolv.conf file,
// skipping entries that are not plain unscoped addresses.
func SystemNameservers(path string) ([]netip.Addr, error) {
	cc, err := mdns.ClientConfigFromFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var addrs []netip.Addr
	for _, s := range cc.Servers {
		if addr, err := netip.ParseAddr(s); err == nil && addr.Zone() == "" && len(addrs) < MaxServers {
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.Wrapf(ErrNoServer, "no usable nameserver in %s", path)
	}
	return addrs, nil
}
