package packet

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/ttrace/types"
)

var testTS = Timestamp{Sec: 1700000000, Usec: 123456}

func TestLayoutSizes(t *testing.T) {
	assert.Equal(t, 44, LayoutPacked.Size())
	assert.Equal(t, 12, LayoutPacked.HeaderSize())
	assert.Equal(t, 48, LayoutAligned.Size())
	assert.Equal(t, 16, LayoutAligned.HeaderSize())
	assert.Equal(t, PackedSize, LayoutPacked.Size())
	assert.Equal(t, AlignedSize, LayoutAligned.Size())
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("aligned")
	require.NoError(t, err)
	assert.Equal(t, LayoutAligned, l)

	l, err = ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, LayoutPacked, l)

	_, err = ParseLayout("sparse")
	assert.Error(t, err)
}

func TestMessageEndToEnd(t *testing.T) {
	p, err := EncodeMessage(testTS, 42, types.EventStart, "boot")
	require.NoError(t, err)

	d, err := Decode(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, int16(42), d.PID)
	assert.Equal(t, types.EventStart, d.EventType)
	assert.Equal(t, testTS, d.Timestamp)
	assert.Equal(t, Message{Text: "boot"}, d.Payload)
}

func TestEncodeMessageWireBytes(t *testing.T) {
	p, err := EncodeMessage(Timestamp{Sec: 1, Usec: 2}, 3, types.EventInfo, "hi")
	require.NoError(t, err)

	raw := p.Bytes()
	require.Len(t, raw, PackedSize)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(raw[0:]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(raw[4:]))
	assert.Equal(t, uint16(3), binary.LittleEndian.Uint16(raw[8:]))
	assert.Equal(t, byte('i'), raw[10])
	assert.Equal(t, byte(2), raw[11])
	assert.Equal(t, []byte("hi"), raw[12:14])
}

func TestAlignedPaddingIsZero(t *testing.T) {
	codec := Codec{Layout: LayoutAligned}
	p, err := codec.EncodeMessage(testTS, 7, types.EventPrint, "padded")
	require.NoError(t, err)

	raw := p.Bytes()
	require.Len(t, raw, AlignedSize)
	assert.Equal(t, []byte{0, 0, 0, 0}, raw[12:16])
	assert.Equal(t, []byte("padded"), raw[16:22])

	d, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Message{Text: "padded"}, d.Payload)
}

func TestAlignedDecodeIgnoresPadding(t *testing.T) {
	codec := Codec{Layout: LayoutAligned}
	p, err := codec.EncodeCode(testTS, 7, types.EventFinish, 9)
	require.NoError(t, err)

	raw := p.Bytes()
	copy(raw[12:16], []byte{0xde, 0xad, 0xbe, 0xef})

	d, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Code{Value: 9}, d.Payload)
}

func TestEncodeMessageLimits(t *testing.T) {
	text := strings.Repeat("x", MaxMessageLen)
	p, err := EncodeMessage(testTS, 1, types.EventInfo, text)
	require.NoError(t, err)

	d, err := Decode(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, Message{Text: text}, d.Payload)

	_, err = EncodeMessage(testTS, 1, types.EventInfo, text+"y")
	assert.ErrorIs(t, err, ErrTruncated)

	p, err = EncodeMessage(testTS, 1, types.EventInfo, TruncateMessage(text+"y"))
	require.NoError(t, err)
	d, err = Decode(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, Message{Text: text}, d.Payload)
}

func TestEncodeRejectsSchedulerMarkers(t *testing.T) {
	_, err := EncodeMessage(testTS, 1, types.EventSchedEnd, "x")
	assert.ErrorIs(t, err, ErrInvalidEventType)

	_, err = EncodeCode(testTS, 1, types.EventSchedBegin, 1)
	assert.ErrorIs(t, err, ErrInvalidEventType)

	_, err = EncodeMessage(testTS, 1, types.EventType('z'), "x")
	assert.ErrorIs(t, err, ErrInvalidEventType)

	_, err = EncodeSchedulerSwitch(testTS, 1, types.EventStart, PrevTask{}, NextTask{})
	assert.ErrorIs(t, err, ErrInvalidEventType)
}

func TestEncodeCodeRange(t *testing.T) {
	_, err := EncodeCode(testTS, 1, types.EventStart, 127)
	assert.NoError(t, err)

	_, err = EncodeCode(testTS, 1, types.EventStart, 128)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = EncodeCode(testTS, 1, types.EventStart, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestCodeRoundTripAllValues(t *testing.T) {
	for _, codec := range []Codec{{Layout: LayoutPacked}, {Layout: LayoutAligned}} {
		for code := 0; code <= MaxCode; code++ {
			p, err := codec.EncodeCode(testTS, 5, types.EventFuncTag, code)
			require.NoError(t, err)
			assert.True(t, p.Unique())

			d, err := codec.Decode(p.Bytes())
			require.NoError(t, err)
			assert.Equal(t, Code{Value: uint8(code)}, d.Payload, "layout %s code %d", codec.Layout, code)
		}
	}
}

func TestSchedulerRoundTrip(t *testing.T) {
	prev := PrevTask{PID: 12, Priority: 100, State: 3, Name: "appmain"}
	next := NextTask{PID: -2, Priority: 255, Name: "exactly12chr"}

	for _, ev := range []types.EventType{types.EventSchedBegin, types.EventSchedEnd} {
		p, err := EncodeSchedulerSwitch(testTS, 12, ev, prev, next)
		require.NoError(t, err)
		assert.False(t, p.Unique())

		d, err := Decode(p.Bytes())
		require.NoError(t, err)
		assert.Equal(t, ev, d.EventType)
		assert.Equal(t, SchedulerSwitch{Prev: prev, Next: next}, d.Payload)
	}
}

func TestSchedulerNameTooLong(t *testing.T) {
	_, err := EncodeSchedulerSwitch(testTS, 1, types.EventSchedBegin,
		PrevTask{Name: "thirteen_char"}, NextTask{Name: "idle"})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestSchedulerWinsOverUniqueFlag(t *testing.T) {
	p, err := EncodeSchedulerSwitch(testTS, 1, types.EventSchedBegin,
		PrevTask{PID: 1, Name: "a"}, NextTask{PID: 2, Name: "b"})
	require.NoError(t, err)

	raw := p.Bytes()
	raw[offCodeLen] = codeUnique | 5

	d, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindScheduler, d.Payload.Kind())

	n, err := ConsumedLength(raw)
	require.NoError(t, err)
	assert.Equal(t, PackedSize, n)
}

func TestConsumedLength(t *testing.T) {
	for _, codec := range []Codec{{Layout: LayoutPacked}, {Layout: LayoutAligned}} {
		msg, err := codec.EncodeMessage(testTS, 1, types.EventInfo, "m")
		require.NoError(t, err)
		code, err := codec.EncodeCode(testTS, 1, types.EventInfo, 1)
		require.NoError(t, err)
		sched, err := codec.EncodeSchedulerSwitch(testTS, 1, types.EventSchedEnd, PrevTask{}, NextTask{})
		require.NoError(t, err)

		tests := []struct {
			name string
			p    Packet
			want int
		}{
			{"message", msg, codec.Layout.Size()},
			{"code", code, codec.Layout.Size() - PayloadSize},
			{"scheduler", sched, codec.Layout.Size()},
		}
		for _, tt := range tests {
			t.Run(codec.Layout.String()+"/"+tt.name, func(t *testing.T) {
				n, err := codec.ConsumedLength(tt.p.Bytes())
				require.NoError(t, err)
				assert.Equal(t, tt.want, n)
				assert.Equal(t, tt.want, tt.p.ConsumedLength())
				assert.Len(t, tt.p.Frame(), tt.want)
			})
		}
	}
}

func TestDecodeTooShort(t *testing.T) {
	p, err := EncodeMessage(testTS, 1, types.EventInfo, "short")
	require.NoError(t, err)
	raw := p.Bytes()

	for n := 0; n < PackedSize; n++ {
		_, err := Decode(raw[:n])
		assert.ErrorIs(t, err, ErrTooShort, "length %d", n)
	}

	_, err = ConsumedLength(raw[:11])
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestMessageWithNULRoundTrip(t *testing.T) {
	for _, text := range []string{"ab\x00cd", "\x00", "\x00\x00tail", strings.Repeat("\x00", MaxMessageLen), "end\x00"} {
		p, err := EncodeMessage(testTS, 7, types.EventInfo, text)
		require.NoError(t, err)

		d, err := Decode(p.Bytes())
		require.NoError(t, err)
		assert.Equal(t, Message{Text: text}, d.Payload, "%q", text)

		d, err = Codec{Layout: LayoutAligned}.Decode(mustAligned(t, text))
		require.NoError(t, err)
		assert.Equal(t, Message{Text: text}, d.Payload, "aligned %q", text)
	}
}

func mustAligned(t *testing.T, text string) []byte {
	t.Helper()
	p, err := Codec{Layout: LayoutAligned}.EncodeMessage(testTS, 7, types.EventInfo, text)
	require.NoError(t, err)
	return p.Bytes()
}

func TestDecodeClampsLength(t *testing.T) {
	raw := make([]byte, PackedSize)
	raw[offEvent] = byte(types.EventInfo)
	raw[offCodeLen] = 0x7f
	copy(raw[12:], strings.Repeat("a", PayloadSize))

	d, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, Message{Text: strings.Repeat("a", PayloadSize)}, d.Payload)
}

func TestDecodedString(t *testing.T) {
	ts := Timestamp{Sec: 1, Usec: 2}

	p, err := EncodeMessage(ts, 42, types.EventStart, "boot")
	require.NoError(t, err)
	d, err := Decode(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "[000001.000002] 042: s|boot", d.String())

	p, err = EncodeCode(ts, 3, types.EventFinish, 17)
	require.NoError(t, err)
	d, err = Decode(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "[000001.000002] 003: f|uid=17", d.String())

	p, err = EncodeSchedulerSwitch(ts, 3, types.EventSchedBegin,
		PrevTask{PID: 3, Priority: 100, State: 2, Name: "worker"},
		NextTask{PID: 0, Priority: 0, Name: "idle"})
	require.NoError(t, err)
	d, err = Decode(p.Bytes())
	require.NoError(t, err)
	assert.Equal(t,
		"[000001:000002] 003: b|prev_comm=worker prev_pid=3 prev_prio=100 prev_state=2 ==> next_comm=idle next_pid=0 next_prio=0",
		d.String())
}

func TestWriteDetail(t *testing.T) {
	p, err := EncodeCode(Timestamp{Sec: 1, Usec: 2}, 3, types.EventFinish, 17)
	require.NoError(t, err)
	d, err := Decode(p.Bytes())
	require.NoError(t, err)

	var sb strings.Builder
	require.NoError(t, d.WriteDetail(&sb, Default))
	out := sb.String()
	assert.Contains(t, out, "unique code? 1\n")
	assert.Contains(t, out, "uid: 17\n")
	assert.Contains(t, out, "codelen: 145\n")
	assert.Contains(t, out, "consumed: 12\n")
}

func TestEncodeFromDecoded(t *testing.T) {
	p, err := EncodeMessage(testTS, 9, types.EventDump, "again")
	require.NoError(t, err)
	d, err := Decode(p.Bytes())
	require.NoError(t, err)

	again, err := Default.Encode(d)
	require.NoError(t, err)
	assert.Equal(t, p.Bytes(), again.Bytes())
}

func TestTimestampConversion(t *testing.T) {
	ts := Timestamp{Sec: 1700000000, Usec: 999999}
	assert.Equal(t, ts, TimestampOf(ts.Time()))
}
