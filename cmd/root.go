// Package cmd provides the ttrace command-line interface.
package cmd

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/jnesss/ttrace/config"
)

// errUsage marks a failure that has already been reported to the user.
var errUsage = errors.New("usage")

// app is the state shared by all subcommands of one invocation.
type app struct {
	envFile string
	verbose bool
	cfg     config.Config

	stderr io.Writer

	// openTasks builds the task table the heap report walks. It is replaced
	// in tests.
	openTasks func(cfg config.Config) (tasks taskSource, done func() error, err error)
}

func newApp() *app {
	return &app{
		envFile:   ".env",
		cfg:       config.Default(),
		stderr:    os.Stderr,
		openTasks: openHostTasks,
	}
}

// setup configures logging and loads the configuration.
func (a *app) setup() error {
	level := zerolog.InfoLevel
	if a.verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: a.stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// NewRootCmd builds the ttrace command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(newApp())
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ttrace",
		Short: "Record, decode and inspect fixed-layout trace packets and task heap usage.",
		Long: `ttrace records trace packets from a pinned BPF buffer or a dump file, ` +
			`stores them in SQLite, runs Sigma rules over them and reports per-task ` +
			`heap usage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.stderr = cmd.ErrOrStderr()
			return a.setup()
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env", a.envFile, "environment file to load")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newHeapinfoCmd(a),
		newDumpCmd(a),
		newEmitCmd(a),
		newTagsCmd(a),
		newRecordCmd(a),
		newServeCmd(a),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure. Exit
// handlers, such as pending packet batches, run either way.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errUsage) {
			log.Error().Err(err).Msg("ttrace failed")
		}
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
