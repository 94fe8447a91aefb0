package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"introskip/internal/store"
)

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	debug  bool
	dbPath string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	root := &cobra.Command{
		Use:   "introskip",
		Short: "Automatically skip intros on Plex players",
		Long: `introskip watches playback on a Plex server and seeks players past
intro markers the moment playback enters one. Link it to your Plex
account with "introskip auth", then keep "introskip run" going
somewhere near your server.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.debug {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
		},
	}

	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("DB_PATH", "./data/introskip.db"), "path to the settings database")

	root.AddCommand(
		newAuthCmd(&opts),
		newRunCmd(&opts),
		newInfoCmd(&opts),
		newVersionCmd(),
	)

	return root
}

// openStore opens the settings database, creating its directory on the
// first run. SECRET_KEY, when set, seals the auth token at rest.
func openStore(o *rootOptions) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(o.dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	var opts []store.Option
	if pass := os.Getenv("SECRET_KEY"); pass != "" {
		opts = append(opts, store.WithPassphrase(pass))
	}
	st, err := store.New(o.dbPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return st, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
