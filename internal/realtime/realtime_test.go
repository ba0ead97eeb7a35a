package realtime

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/boolpae/vrstt-dispatch/internal/engine"
)

func pcmBytes(n int) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(100+i))
	}
	return b
}

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	pool, err := engine.NewInstancePool(1)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(pool, opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestChannelLifecycleFirstMidLast(t *testing.T) {
	m := newTestManager(t, Options{MiniBatch: 4, FeatureDim: 1, ResetPeriod: 1000})

	raw1 := append([]byte("c1|FIRS|"), pcmBytes(8)...)
	if _, err := m.HandleFrame(context.Background(), raw1, false, ""); err != nil {
		t.Fatal(err)
	}
	if m.ChannelCount() != 1 {
		t.Fatalf("channel count = %d, want 1 after FIRST", m.ChannelCount())
	}

	raw2 := append([]byte("c1||"), pcmBytes(8)...)
	if _, err := m.HandleFrame(context.Background(), raw2, false, ""); err != nil {
		t.Fatal(err)
	}
	if m.ChannelCount() != 1 {
		t.Fatalf("channel count = %d, want 1 after MID", m.ChannelCount())
	}

	raw3 := append([]byte("c1|LAST|"), pcmBytes(3)...)
	if _, err := m.HandleFrame(context.Background(), raw3, false, ""); err != nil {
		t.Fatal(err)
	}
	if m.ChannelCount() != 0 {
		t.Fatalf("channel count = %d, want 0 after LAST (baseline restored)", m.ChannelCount())
	}
}

func TestSpeakerSeparationHeaderPrepended(t *testing.T) {
	m := newTestManager(t, Options{MiniBatch: 4, FeatureDim: 1, ResetPeriod: 1000})
	raw := append([]byte("c1|FIRS|"), pcmBytes(4)...)
	out, err := m.HandleFrame(context.Background(), raw, true, "node-a")
	if err != nil {
		t.Fatal(err)
	}
	want := `{"spk_flag":"true","spk_node":"node-a"}` + "\n"
	if len(out) < len(want) || string(out[:len(want)]) != want {
		t.Fatalf("reply = %q, want prefix %q", out, want)
	}
}

func TestParseFrameCmdVariants(t *testing.T) {
	cases := []struct {
		raw   string
		state PacketState
	}{
		{"c1|FIRS|", StateFirst},
		{"c1||", StateMid},
		{"c1|LAST|", StateLast},
	}
	for _, c := range cases {
		callID, state, _, err := ParseFrame([]byte(c.raw))
		if err != nil {
			t.Fatalf("ParseFrame(%q): %v", c.raw, err)
		}
		if callID != "c1" {
			t.Fatalf("callID = %q, want c1", callID)
		}
		if state != c.state {
			t.Fatalf("ParseFrame(%q) state = %s, want %s", c.raw, state, c.state)
		}
	}
}

func TestPooledModeReusesFixedChannels(t *testing.T) {
	pool, err := engine.NewInstancePool(1)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(pool, Options{Pooled: true, PoolSize: 1, MiniBatch: 4, FeatureDim: 1}, nil)
	if err != nil {
		t.Fatal(err)
	}

	raw1 := append([]byte("a|FIRS|"), pcmBytes(4)...)
	if _, err := m.HandleFrame(context.Background(), raw1, false, ""); err != nil {
		t.Fatal(err)
	}

	raw2 := append([]byte("b|FIRS|"), pcmBytes(4)...)
	if _, err := m.HandleFrame(context.Background(), raw2, false, ""); err == nil {
		t.Fatal("expected pooled manager to reject a second concurrent call when pool size is 1")
	}

	last := append([]byte("a|LAST|"), pcmBytes(1)...)
	if _, err := m.HandleFrame(context.Background(), last, false, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := m.HandleFrame(context.Background(), raw2, false, ""); err != nil {
		t.Fatalf("expected pooled channel to be reusable after release: %v", err)
	}
}
