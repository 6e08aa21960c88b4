// Package env resolves command settings from flags and the environment.
package env

import (
	"log"
	"os"
	"strings"

	"github.com/agentuity/go-stubdns/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

const (
	// EnvServers lists nameservers, comma separated, when no flag gives them.
	EnvServers = "DNS_SERVERS"
	// EnvLogFormat selects console or json output when no flag gives it.
	EnvLogFormat = "DNS_LOG_FORMAT"
)

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// List splits a comma separated flag or environment value.
func List(cmd *cobra.Command, flagName string, envName string) []string {
	var out []string
	for _, v := range strings.Split(FlagOrEnv(cmd, flagName, envName, ""), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LogLevel reads the log-level flag, then DNS_LOG_LEVEL, and falls back to
// info for anything it does not recognize.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	level, err := logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"))
	if err != nil {
		return logger.LevelInfo
	}
	return level
}

// NewLogger returns a console or JSON logger, per the log-format flag, at
// LogLevel(cmd). When the log-file flag names a file, every debug and higher
// entry is appended to it as well; the returned function closes that file.
func NewLogger(cmd *cobra.Command) (logger.Logger, func() error, error) {
	var l logger.SinkLogger
	switch format := FlagOrEnv(cmd, "log-format", EnvLogFormat, "console"); strings.ToLower(format) {
	case "console", "":
		log.SetFlags(0)
		l = logger.NewConsoleLogger(LogLevel(cmd))
	case "json":
		log.SetFlags(0)
		l = logger.NewJSONLogger(LogLevel(cmd))
	default:
		return nil, nil, errors.Newf("unknown log format %q, want console or json", format)
	}
	path, _ := cmd.Flags().GetString("log-file")
	if path == "" {
		return l, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening log file %s", path)
	}
	l.SetSink(f, logger.LevelDebug)
	return l, f.Close, nil
}
