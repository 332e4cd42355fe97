package audio

import (
	"log/slog"
	"math/rand"
	"testing"
)

// stubDecode maps each packet to len(packet) samples valued by the packet's
// first byte, which makes duplicated or dropped samples visible in output.
func stubDecode(packets [][]byte) ([]float32, error) {
	var out []float32
	for _, pkt := range packets {
		v := float32(pkt[0])
		for range pkt {
			out = append(out, v)
		}
	}
	return out, nil
}

func newTestDecoder() *StreamDecoder {
	d := NewStreamDecoder(slog.Default())
	d.decode = stubDecode
	return d
}

func TestStreamDecoder_NoDuplicatePCM(t *testing.T) {
	t.Parallel()

	frames := [][]byte{
		[]byte{1, 1, 1, 1},
		[]byte{2, 2, 2},
		[]byte{3, 3, 3, 3, 3},
		[]byte{4, 4},
		[]byte{5, 5, 5, 5},
	}
	stream := buildWebM(frames...)

	want, err := stubDecode(frames)
	if err != nil {
		t.Fatal(err)
	}

	// Feed the identical byte stream with random chunk boundaries many times;
	// the aggregated output must always equal the one-shot decode exactly.
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		dec := newTestDecoder()

		var got []float32
		pos := 0
		for pos < len(stream) {
			n := 1 + rng.Intn(19)
			if pos+n > len(stream) {
				n = len(stream) - pos
			}
			fresh, err := dec.Ingest(stream[pos : pos+n])
			if err != nil {
				t.Fatalf("trial %d: Ingest error: %v", trial, err)
			}
			got = append(got, fresh...)
			pos += n
		}

		if len(got) != len(want) {
			t.Fatalf("trial %d: got %d samples, want %d", trial, len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("trial %d: sample %d = %v, want %v", trial, i, got[i], want[i])
			}
		}
	}
}

func TestStreamDecoder_HeaderRefreshResets(t *testing.T) {
	t.Parallel()

	first := buildWebM([]byte{10, 10, 10})
	second := buildWebM([]byte{20, 20, 20, 20})

	dec := newTestDecoder()

	got1, err := dec.Ingest(first)
	if err != nil {
		t.Fatalf("Ingest(first) error: %v", err)
	}
	if len(got1) != 3 {
		t.Fatalf("first stream: got %d samples, want 3", len(got1))
	}

	// The restarted encoder sends a brand-new container from its header on.
	got2, err := dec.Ingest(second)
	if err != nil {
		t.Fatalf("Ingest(second) error: %v", err)
	}
	if len(got2) != 4 {
		t.Fatalf("second stream: got %d samples, want 4", len(got2))
	}
	for _, s := range got2 {
		if s != 20 {
			t.Fatalf("second stream leaked samples from the first: %v", got2)
		}
	}
}

func TestStreamDecoder_ResyncAfterCorruption(t *testing.T) {
	t.Parallel()

	dec := newTestDecoder()

	// Garbage that is not a container: swallowed silently.
	out, err := dec.Ingest([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("Ingest(garbage) error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("garbage produced %d samples", len(out))
	}

	// A header arriving behind more garbage is found by the resync probe.
	tail := append([]byte{0x00, 0x00}, buildWebM([]byte{9, 9, 9})...)
	out, err = dec.Ingest(tail)
	if err != nil {
		t.Fatalf("Ingest(stream) error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("resynced stream: got %d samples, want 3", len(out))
	}
}

func TestStreamDecoder_EmptyChunk(t *testing.T) {
	t.Parallel()

	dec := newTestDecoder()
	out, err := dec.Ingest(nil)
	if err != nil || out != nil {
		t.Fatalf("Ingest(nil) = %v, %v; want nil, nil", out, err)
	}
	if dec.BufferedBytes() != 0 {
		t.Fatalf("BufferedBytes() = %d, want 0", dec.BufferedBytes())
	}
}
