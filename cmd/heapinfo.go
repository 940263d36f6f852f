package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jnesss/ttrace/config"
	"github.com/jnesss/ttrace/database"
	"github.com/jnesss/ttrace/heapinfo"
	"github.com/jnesss/ttrace/process"
)

// taskSource is what the heap report needs from a task table.
type taskSource interface {
	heapinfo.TaskTable
	heapinfo.HeapAccessor
}

// openHostTasks samples the host's processes into a fresh table, with peak
// counters carried over from the database. done saves the peaks back.
func openHostTasks(cfg config.Config) (taskSource, func() error, error) {
	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	table := process.NewTaskTable(0)
	sampler := process.NewHostSampler(table, db, cfg.SampleInterval)
	if err := sampler.Sample(); err != nil {
		db.Close()
		return nil, nil, err
	}

	done := func() error {
		defer db.Close()
		return sampler.Persist()
	}
	return table, done, nil
}

func newHeapinfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "heapinfo [-i | -a | -p PID | -f]",
		Short: "Display information of heap memory",
		// Options are parsed in order so the last mode given wins, except
		// that -i clears at once. --help is a usage error like any other
		// bad option.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runHeapinfo(args, cmd.OutOrStdout())
		},
	}
}

// errClearPeaks stops option parsing once -i is seen.
var errClearPeaks = errors.New("clear peaks")

func (a *app) runHeapinfo(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("heapinfo", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolP("init", "i", false, "Initialize the heapinfo")
	fs.BoolP("all", "a", false, "Show the all allocation details")
	fs.StringP("pid", "p", "", "Show the specific PID allocation details")
	fs.BoolP("free", "f", false, "Show the free list")
	fs.BoolP("help", "h", false, "Show usage")
	pprofPath := fs.String("pprof", "", "also write the report as a pprof profile")
	fs.StringVar(&a.envFile, "env", a.envFile, "environment file to load")
	fs.BoolVarP(&a.verbose, "verbose", "v", a.verbose, "enable debug logging")

	mode := heapinfo.Simple()
	err := fs.ParseAll(args, func(f *pflag.Flag, value string) error {
		if err := fs.Set(f.Name, value); err != nil {
			return err
		}
		switch f.Name {
		case "init":
			// Clearing is immediate; options after -i are not looked at.
			mode = heapinfo.ClearPeak()
			return errClearPeaks
		case "all":
			mode = heapinfo.ShowAll()
		case "free":
			mode = heapinfo.ShowFreeList()
		case "pid":
			pid, err := heapinfo.ParsePID(value)
			if err != nil {
				return err
			}
			mode = heapinfo.ShowOnePid(pid)
		case "help":
			return pflag.ErrHelp
		}
		return nil
	})
	if errors.Is(err, errClearPeaks) {
		err = nil
	} else if err == nil && fs.NArg() > 0 {
		err = fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	if err != nil {
		log.Debug().Err(err).Msg("Bad heapinfo options")
		heapinfo.RenderUsage(out)
		return errUsage
	}

	if fs.Changed("env") || fs.Changed("verbose") {
		if err := a.setup(); err != nil {
			return err
		}
	}

	tasks, done, err := a.openTasks(a.cfg)
	if err != nil {
		return fmt.Errorf("opening task table: %w", err)
	}

	reporter := heapinfo.NewReporter(tasks, tasks, heapinfo.Config{
		IdleStackSize: a.cfg.IdleStackSize,
		ShowParent:    a.cfg.SchedHaveParent,
	})

	report, err := reporter.Run(mode)
	if err != nil {
		done()
		return err
	}
	if err := heapinfo.Render(out, report, reporter.Config()); err != nil {
		done()
		return err
	}

	if *pprofPath != "" {
		if err := writeProfileFile(*pprofPath, report); err != nil {
			done()
			return err
		}
		log.Info().Str("file", *pprofPath).Msg("Wrote heap profile")
	}

	return done()
}

func writeProfileFile(path string, report *heapinfo.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating profile: %w", err)
	}
	if err := heapinfo.WriteProfile(f, report); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
