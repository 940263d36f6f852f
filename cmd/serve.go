package cmd

import (
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jnesss/ttrace/database"
	"github.com/jnesss/ttrace/heapinfo"
	"github.com/jnesss/ttrace/platform"
	"github.com/jnesss/ttrace/process"
	"github.com/jnesss/ttrace/sigma"
	"github.com/jnesss/ttrace/web"
)

const sigmaPollInterval = 2 * time.Second

type serveOptions struct {
	open   bool
	record bool
	file   string
}

func newServeCmd(a *app) *cobra.Command {
	var o serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sample host tasks, run Sigma rules and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var reader platform.Reader
			if o.record {
				r, err := a.openReader(o.file)
				if err != nil {
					return err
				}
				reader = r
				defer r.Close()
			}

			if err := platform.DropPrivileges(); err != nil {
				return err
			}

			db, err := database.NewDB(a.cfg.DataDir)
			if err != nil {
				return err
			}
			defer db.Close()

			names, err := process.NewNameCache(a.cfg.NameCacheSize)
			if err != nil {
				return err
			}

			tasks := process.NewTaskTable(0)
			sampler := process.NewHostSampler(tasks, db, a.cfg.SampleInterval)

			detector, err := sigma.NewDetector(a.cfg.RulesDir, db)
			if err != nil {
				log.Warn().Err(err).Str("dir", a.cfg.RulesDir).Msg("Sigma detection disabled")
				detector = nil
			}

			server := web.NewServer(db, tasks, a.cfg.ListenAddr, web.Options{
				Detector: detector,
				Names:    names,
				Tags:     a.cfg.Tags,
				Heap: heapinfo.Config{
					IdleStackSize: a.cfg.IdleStackSize,
					ShowParent:    a.cfg.SchedHaveParent,
				},
			})

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				sampler.Start(ctx)
				if err := sampler.Persist(); err != nil {
					log.Error().Err(err).Msg("Error saving peak counters")
				}
			}()

			if detector != nil {
				defer detector.StopPolling()
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := detector.StartPolling(ctx, sigmaPollInterval); err != nil {
						log.Error().Err(err).Msg("Sigma polling failed")
					}
				}()
			}

			if reader != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, _, err := a.record(ctx, reader, db, names, nil, 100); err != nil {
						log.Error().Err(err).Msg("Recording failed")
					}
				}()
			}

			err = server.Start(ctx, func(addr string) {
				url := "http://" + browserAddr(addr)
				log.Info().Str("url", url).Msg("Web interface available")
				if o.open {
					if err := browser.OpenURL(url); err != nil {
						log.Warn().Err(err).Msg("Could not open browser")
					}
				}
			})
			stop()
			wg.Wait()
			return err
		},
	}

	cmd.Flags().BoolVar(&o.open, "open", false, "open the web interface in a browser")
	cmd.Flags().BoolVar(&o.record, "record", false, "also record packets from the pinned buffer")
	cmd.Flags().StringVar(&o.file, "file", "", "with --record, replay a dump file instead")
	return cmd
}

// browserAddr turns a listener address into one a browser can reach.
func browserAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
