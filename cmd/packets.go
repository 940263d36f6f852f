package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jnesss/ttrace/packet"
	"github.com/jnesss/ttrace/tags"
	"github.com/jnesss/ttrace/tracer"
	"github.com/jnesss/ttrace/types"
)

// codecFor returns the configured codec, or the one named by a --layout
// flag when it was given.
func (a *app) codecFor(layout string) (packet.Codec, error) {
	if layout == "" {
		return a.cfg.Codec(), nil
	}
	l, err := packet.ParseLayout(layout)
	if err != nil {
		return packet.Codec{}, err
	}
	return packet.Codec{Layout: l}, nil
}

func newDumpCmd(a *app) *cobra.Command {
	var layout string
	var detail bool

	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Decode a packet stream and print every packet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, err := a.codecFor(layout)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return dumpStream(cmd.OutOrStdout(), f, codec, detail)
		},
	}

	cmd.Flags().StringVar(&layout, "layout", "", "packet layout (packed or aligned), defaults to the configured one")
	cmd.Flags().BoolVar(&detail, "detail", false, "print every header field")
	return cmd
}

func dumpStream(out io.Writer, r io.Reader, codec packet.Codec, detail bool) error {
	scanner := packet.NewScanner(r, codec)
	n := 0
	for scanner.Scan() {
		d := scanner.Packet()
		n++
		if detail {
			if n > 1 {
				fmt.Fprintln(out)
			}
			if err := d.WriteDetail(out, codec); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintln(out, d.String()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("after %d packets at offset %d: %w", n, scanner.Offset(), err)
	}
	log.Debug().Int("packets", n).Msg("Dumped stream")
	return nil
}

type emitOptions struct {
	tag       string
	eventType string
	pid       int16
	text      string
	code      int
	layout    string

	prevPID   int16
	prevPrio  uint8
	prevState uint8
	prevName  string
	nextPID   int16
	nextPrio  uint8
	nextName  string
}

func newEmitCmd(a *app) *cobra.Command {
	var o emitOptions

	cmd := &cobra.Command{
		Use:   "emit FILE",
		Short: "Append one packet to a stream file",
		Long: `Append one packet to a stream file. Scheduler markers (b, e) take the ` +
			`--prev-* and --next-* flags, --code emits a unique code and --text a message. ` +
			`Packets whose tag is not enabled are dropped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.emit(cmd, args[0], o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.tag, "tag", "apps", "trace tag")
	f.StringVar(&o.eventType, "type", "i", "event marker or name")
	f.Int16Var(&o.pid, "pid", 0, "producer pid (trace pids are 16 bit)")
	f.StringVar(&o.text, "text", "", "message text")
	f.IntVar(&o.code, "code", 0, "unique code (0-127)")
	f.StringVar(&o.layout, "layout", "", "packet layout (packed or aligned)")
	f.Int16Var(&o.prevPID, "prev-pid", 0, "previous task pid")
	f.Uint8Var(&o.prevPrio, "prev-prio", 0, "previous task priority")
	f.Uint8Var(&o.prevState, "prev-state", 0, "previous task state")
	f.StringVar(&o.prevName, "prev-name", "", "previous task name")
	f.Int16Var(&o.nextPID, "next-pid", 0, "next task pid")
	f.Uint8Var(&o.nextPrio, "next-prio", 0, "next task priority")
	f.StringVar(&o.nextName, "next-name", "", "next task name")
	cmd.MarkFlagsMutuallyExclusive("text", "code")
	return cmd
}

func (a *app) emit(cmd *cobra.Command, path string, o emitOptions) error {
	codec, err := a.codecFor(o.layout)
	if err != nil {
		return err
	}
	tag, ok := tags.Lookup(o.tag)
	if !ok {
		return fmt.Errorf("%w: %s", tags.ErrUnknownTag, o.tag)
	}
	ev, err := types.ParseEventType(o.eventType)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	t := tracer.New(packet.NewWriter(f, codec), o.pid, a.cfg.Tags,
		tracer.WithCodec(codec),
		tracer.WithTruncation(a.cfg.TruncateMessages))

	if ev.IsScheduler() {
		tag, _ = tags.Lookup("task")
	}
	if !t.Enabled(tag.Bit) {
		log.Info().Str("tag", tag.Name).Str("enabled", a.cfg.Tags.String()).Msg("Tag disabled, packet dropped")
		return nil
	}

	switch {
	case ev.IsScheduler():
		err = t.Switch(ev,
			packet.PrevTask{PID: o.prevPID, Priority: o.prevPrio, State: o.prevState, Name: o.prevName},
			packet.NextTask{PID: o.nextPID, Priority: o.nextPrio, Name: o.nextName})
	case cmd.Flags().Changed("code"):
		err = t.Code(tag.Bit, ev, o.code)
	default:
		err = t.Message(tag.Bit, ev, o.text)
	}
	if err != nil {
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}
	log.Debug().Str("file", path).Str("event", ev.Name()).Msg("Emitted packet")
	return nil
}

func newTagsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List the trace tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, d := range tags.All() {
				state := "disabled"
				if a.cfg.Tags.Has(d) {
					state = "enabled"
				}
				if _, err := fmt.Fprintf(out, "%-5s %-13s 0x%02x %s\n", d.Name, d.LongName, uint32(d.Bit), state); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
