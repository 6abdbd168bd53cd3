// Package cli implements the revsync command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/revsync/internal/checkpoint"
	"github.com/roach88/revsync/internal/config"
	"github.com/roach88/revsync/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	Database   string // overrides the configured database

	// Settings is resolved on first use; tests may preset it.
	Settings *config.Settings
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the revsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "revsync",
		Short: "revsync - replicated document store",
		Long: `A local document store with MVCC revision trees that replicates
with peers over HTTP and converges on the same winner everywhere.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewDocCommand(opts))
	cmd.AddCommand(NewChangesCommand(opts))
	cmd.AddCommand(NewReplicateCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// settings loads the configuration once and applies flag overrides.
func (o *RootOptions) settings() (*config.Settings, error) {
	if o.Settings == nil {
		s, err := config.Load(o.ConfigFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		o.Settings = s
	}
	if o.Database != "" {
		o.Settings.Database = o.Database
	}
	return o.Settings, nil
}

// logger returns a text logger on w honoring --verbose and log_level.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Settings != nil {
		level = o.Settings.Level()
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openStore opens the configured database, creating it if needed.
func (o *RootOptions) openStore() (*store.Store, error) {
	s, err := o.settings()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(s.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// openTracker opens the checkpoint tracker sharing st's database.
func openTracker(st *store.Store) (*checkpoint.Tracker, error) {
	tr, err := checkpoint.New(st.DB())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open checkpoints", err)
	}
	return tr, nil
}
