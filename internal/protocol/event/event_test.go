package event

import (
	"sync"
	"testing"
	"time"

	"github.com/danmuck/debugrelay/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func fixedFactory() *Factory {
	n := 0
	return NewFactory(&Sequencer{}).
		WithClock(func() time.Time { return time.UnixMilli(1760000000000) }).
		WithIDs(func() string {
			n++
			return "evt." + string(rune('a'+n-1))
		})
}

func TestFactoryDefaults(t *testing.T) {
	testlog.Start(t)
	f := fixedFactory()

	ev := f.New("", map[string]any{"k": "v"})
	require.Equal(t, DefaultVendor, ev.Vendor)
	require.Equal(t, TypeGeneric, ev.Type)
	require.Equal(t, "evt.a", ev.ID)
	require.Equal(t, int64(1760000000000), ev.Timestamp)
	require.Equal(t, uint32(1), ev.Sequence)

	ev2 := f.NewWithVendor("acme", TypeLog, nil)
	require.Equal(t, "acme", ev2.Vendor)
	require.Equal(t, uint32(2), ev2.Sequence)
}

func TestSequenceStrictlyIncreasesUnderContention(t *testing.T) {
	testlog.Start(t)
	f := NewFactory(nil)

	const workers, perWorker = 8, 250
	out := make(chan uint32, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				out <- f.New(TypeGeneric, nil).Sequence
			}
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[uint32]struct{}, workers*perWorker)
	for seq := range out {
		_, dup := seen[seq]
		require.False(t, dup, "duplicate sequence %d", seq)
		seen[seq] = struct{}{}
	}
	require.Len(t, seen, workers*perWorker)
}

func TestControlAccessors(t *testing.T) {
	testlog.Start(t)
	f := fixedFactory()

	ctl := f.Control(DefaultVendor, CommandConfigUpdate, map[string]any{"flag": true})
	cmd, ok := ctl.ControlType()
	require.True(t, ok)
	require.Equal(t, CommandConfigUpdate, cmd)
	detail, ok := ctl.ControlDetail()
	require.True(t, ok)
	require.Equal(t, true, detail["flag"])

	bare := f.Control(DefaultVendor, CommandScreenshot, nil)
	_, ok = bare.ControlDetail()
	require.False(t, ok)

	notControl := f.New(TypeGeneric, map[string]any{"type": "config-update"})
	_, ok = notControl.ControlType()
	require.False(t, ok)

	empty := Event{Type: TypeControl}
	_, ok = empty.ControlType()
	require.False(t, ok)

	require.True(t, f.Control(DefaultVendor, CommandStartForwarding, nil).IsStartForwarding())
	require.True(t, f.Control(DefaultVendor, CommandStartForwardingShort, nil).IsStartForwarding())
	require.False(t, bare.IsStartForwarding())
}

func TestWireDecodeIgnoresRemoteEventNumber(t *testing.T) {
	testlog.Start(t)
	f := fixedFactory()

	raw := []byte(`{"eventID":"remote.1","type":"control","timestamp":42,"payload":{"type":"screenshot"},"eventNumber":999}`)
	ev, err := Decode(raw, f)
	require.NoError(t, err)
	require.Equal(t, "remote.1", ev.ID)
	require.Equal(t, DefaultVendor, ev.Vendor)
	require.Equal(t, uint32(1), ev.Sequence)
	require.Equal(t, int64(42), ev.Timestamp)
}

func TestWireEncodeDecode(t *testing.T) {
	testlog.Start(t)
	f := fixedFactory()

	in := f.NewWithVendor("acme", TypeBlob, map[string]any{"n": float64(3), "s": "x"})
	in.Metadata = map[string]any{"chunkId": "c1"}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data, f)
	require.NoError(t, err)
	require.Equal(t, in.ID, out.ID)
	require.Equal(t, in.Vendor, out.Vendor)
	require.Equal(t, in.Type, out.Type)
	require.Equal(t, in.Payload, out.Payload)
	require.Equal(t, in.Metadata, out.Metadata)
	require.Greater(t, out.Sequence, in.Sequence)
}

func TestWireDecodeRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{`not json`, `{"eventID":"x"}`, `[]`} {
		_, err := Decode([]byte(raw), nil)
		require.ErrorIs(t, err, ErrInvalidWireEvent, "input %q", raw)
	}
}
