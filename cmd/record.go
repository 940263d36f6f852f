package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jnesss/ttrace/database"
	"github.com/jnesss/ttrace/platform"
	"github.com/jnesss/ttrace/process"
)

type recordOptions struct {
	file      string
	print     bool
	batchSize int
}

func newRecordCmd(a *app) *cobra.Command {
	var o recordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Store packets from the pinned BPF buffer (or a dump file) in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reader, err := a.openReader(o.file)
			if err != nil {
				return err
			}
			defer reader.Close()

			// The reader needs root; the data directory does not.
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

			var printer io.Writer
			if o.print {
				printer = cmd.OutOrStdout()
			}
			session, batch, err := a.record(ctx, reader, db, names, printer, o.batchSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s: %d packets stored\n", session, batch.Written())
			return nil
		},
	}

	cmd.Flags().StringVar(&o.file, "file", "", "replay a dump file instead of the pinned buffer")
	cmd.Flags().BoolVar(&o.print, "print", false, "print every packet as it is stored")
	cmd.Flags().IntVar(&o.batchSize, "batch", 100, "packets per database transaction")
	return cmd
}

func (a *app) openReader(file string) (platform.Reader, error) {
	if file != "" {
		return platform.NewFileReader(file), nil
	}
	return platform.OpenReader(platform.ReaderConfig{PinPath: a.cfg.RingBufPin})
}

// record runs one monitoring session until the reader is exhausted or ctx
// is done.
func (a *app) record(ctx context.Context, reader platform.Reader, db *database.DB, names *process.NameCache, printer io.Writer, batchSize int) (string, *database.PacketBatch, error) {
	codec := a.cfg.Codec()
	session := xid.New().String()
	batch := database.NewPacketBatch(db, codec, session, batchSize)

	log.Info().Str("session", session).Str("layout", codec.Layout.String()).Msg("Recording packets")

	monitor := platform.NewMonitor(platform.MonitorConfig{
		Reader:  reader,
		Codec:   codec,
		Store:   batch,
		Names:   names,
		Printer: printer,
	})
	if err := monitor.Run(ctx); err != nil {
		return session, batch, fmt.Errorf("recording session %s: %w", session, err)
	}
	return session, batch, nil
}
