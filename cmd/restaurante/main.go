// Command restaurante runs the WhatsApp booking assistant.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/smartpymes/restaurante/internal/config"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

// processFlags holds command line overrides for process wiring. Empty values
// leave the environment setting in place.
type processFlags struct {
	stateDir    string
	dbDSN       string
	apiAddr     string
	provider    string
	logLevel    string
	qrOutput    string
	numericCode bool
}

func newRootCmd() *cobra.Command {
	f := &processFlags{}
	root := &cobra.Command{
		Use:           "restaurante",
		Short:         "WhatsApp reservation assistant backed by Google Calendar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.stateDir, "state-dir", "", "state directory (overrides RESTAURANTE_STATE_DIR)")
	pf.StringVar(&f.dbDSN, "db-dsn", "", "database DSN, SQLite path or PostgreSQL URL (overrides DATABASE_DSN)")
	pf.StringVar(&f.apiAddr, "api-addr", "", "HTTP listen address (overrides API_ADDR)")
	pf.StringVar(&f.provider, "provider", "", "messaging provider: twilio or whatsmeow (overrides MESSAGING_PROVIDER)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides LOG_LEVEL)")
	pf.StringVar(&f.qrOutput, "qr-output", "", "write the whatsmeow login QR code to this file")
	pf.BoolVar(&f.numericCode, "numeric-code", false, "print the whatsmeow login code instead of a QR code")

	root.AddCommand(newServeCmd(f))
	root.AddCommand(newRemindCmd(f))
	root.AddCommand(newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initializeLogger installs a text handler on stdout at the given level.
func initializeLogger(level string) {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLogLevel(level)})
	slog.SetDefault(slog.New(handler))
}

// loadConfig reads the environment, applies flag overrides and derives the
// state directory defaults.
func loadConfig(f *processFlags) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	f.apply(&cfg.Process)
	cfg.Process.ApplyStateDirDefaults()
	initializeLogger(cfg.Process.LogLevel)

	switch cfg.Process.Provider {
	case config.ProviderTwilio, config.ProviderWhatsmeow:
	default:
		return config.Config{}, fmt.Errorf("unknown messaging provider %q", cfg.Process.Provider)
	}

	slog.Debug("loadConfig: final configuration",
		"state_dir", cfg.Process.StateDir,
		"dsn_set", cfg.Process.DBDSN != "",
		"api_addr", cfg.Process.APIAddr,
		"provider", cfg.Process.Provider)
	return cfg, nil
}

func (f *processFlags) apply(p *config.Process) {
	if f.stateDir != "" {
		p.StateDir = f.stateDir
	}
	if f.dbDSN != "" {
		p.DBDSN = f.dbDSN
	}
	if f.apiAddr != "" {
		p.APIAddr = f.apiAddr
	}
	if f.provider != "" {
		p.Provider = f.provider
	}
	if f.logLevel != "" {
		p.LogLevel = f.logLevel
	}
}
