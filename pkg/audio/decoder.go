package audio

import (
	"bytes"
	"fmt"
	"log/slog"

	"layeh.com/gopus"
)

const (
	// opusSampleRate is the Opus decoder output rate. WebM Opus is always
	// decoded at 48 kHz; the pipeline rate is reached by decimation.
	opusSampleRate = 48000

	// maxOpusFrameSize is the largest possible Opus frame: 120 ms at 48 kHz.
	maxOpusFrameSize = 5760

	// PipelineSampleRate is the rate of all PCM flowing through the session
	// engine.
	PipelineSampleRate = 16000
)

// StreamDecoder incrementally decodes a growing Opus-in-WebM byte stream into
// 16 kHz mono float32 PCM. The container header is only valid from byte zero,
// so each Ingest re-parses the accumulated prefix and returns just the
// samples not yet handed out; a sample is never returned twice within the
// life of one encoded stream.
//
// Clients restart their encoder on a fixed cadence. The decoder detects the
// fresh container header (directly, or by probing after a parse failure) and
// resets itself, so the O(N²) cost of full re-parses stays bounded.
//
// A StreamDecoder is owned by a single connection's read loop and is not safe
// for concurrent use.
type StreamDecoder struct {
	buf             []byte
	samplesReturned int
	log             *slog.Logger

	// decode is swappable so tests can exercise the tail-delta bookkeeping
	// without hand-crafting valid Opus packets.
	decode func([][]byte) ([]float32, error)
}

// NewStreamDecoder creates a decoder for one encoded stream. logger may be
// nil, in which case slog.Default() is used.
func NewStreamDecoder(logger *slog.Logger) *StreamDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamDecoder{log: logger, decode: decodePackets}
}

// Reset discards the accumulated container bytes and the returned-sample
// counter. Call it when the client signals a new encoded stream.
func (d *StreamDecoder) Reset() {
	d.buf = nil
	d.samplesReturned = 0
}

// BufferedBytes reports the size of the accumulated container prefix.
func (d *StreamDecoder) BufferedBytes() int { return len(d.buf) }

// Ingest appends encoded bytes and returns the contiguous run of new PCM
// samples they unlock, which may be empty while the container header is still
// arriving. A malformed mid-stream payload yields an empty slice and a logged
// warning; the decoder recovers on the next header refresh.
func (d *StreamDecoder) Ingest(chunk []byte) ([]float32, error) {
	if len(chunk) == 0 {
		return nil, nil
	}

	// A fresh EBML header mid-session means the client restarted its encoder.
	if len(d.buf) > 0 && bytes.HasPrefix(chunk, ebmlMagic) {
		d.Reset()
	}
	d.buf = append(d.buf, chunk...)

	packets, err := ExtractOpusPackets(d.buf)
	if err != nil {
		if !d.resync() {
			d.log.Warn("audio stream decode failed, awaiting header refresh", "error", err, "buffered", len(d.buf))
			return nil, nil
		}
		packets, err = ExtractOpusPackets(d.buf)
		if err != nil {
			d.log.Warn("audio stream decode failed after resync", "error", err, "buffered", len(d.buf))
			return nil, nil
		}
	}
	if len(packets) == 0 {
		return nil, nil
	}

	pcm16k, err := d.decode(packets)
	if err != nil {
		d.log.Warn("opus decode failed, awaiting header refresh", "error", err)
		return nil, nil
	}

	if d.samplesReturned > len(pcm16k) {
		// The decode length regressed, which only happens when the stream was
		// re-primed behind our back. Start over rather than replaying.
		d.samplesReturned = len(pcm16k)
		return nil, nil
	}
	fresh := pcm16k[d.samplesReturned:]
	d.samplesReturned = len(pcm16k)
	return fresh, nil
}

// resync probes the accumulated buffer for a later EBML header and, when one
// is found, restarts the stream from it. Reports whether a restart happened.
func (d *StreamDecoder) resync() bool {
	idx := bytes.Index(d.buf[1:], ebmlMagic)
	if idx < 0 {
		return false
	}
	d.buf = d.buf[idx+1:]
	d.samplesReturned = 0
	return true
}

// decodePackets runs every Opus packet through a fresh decoder and returns
// the full decimated 16 kHz mono stream. A fresh decoder matches the
// from-scratch re-parse semantics: packet N always sees the predictor state
// left by packets 0..N-1 of the same pass.
func decodePackets(packets [][]byte) ([]float32, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}

	pcm48 := make([]int16, 0, len(packets)*960)
	for i, pkt := range packets {
		frame, err := dec.Decode(pkt, maxOpusFrameSize, false)
		if err != nil {
			return nil, fmt.Errorf("audio: opus decode packet %d: %w", i, err)
		}
		pcm48 = append(pcm48, frame...)
	}
	return DecimateBy3(pcm48), nil
}
