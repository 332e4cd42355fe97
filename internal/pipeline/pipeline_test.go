package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/lingopair/lingopair/internal/observe"
	"github.com/lingopair/lingopair/internal/pipeline"
	asrmock "github.com/lingopair/lingopair/pkg/provider/asr/mock"
	mtmock "github.com/lingopair/lingopair/pkg/provider/mt/mock"
	ttsmock "github.com/lingopair/lingopair/pkg/provider/tts/mock"
	"github.com/lingopair/lingopair/pkg/provider/vad"
	vadmock "github.com/lingopair/lingopair/pkg/provider/vad/mock"
	"github.com/lingopair/lingopair/pkg/types"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}
	return m
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() pipeline.Config {
	return pipeline.Config{
		SourceLanguage: "en",
		TargetLanguage: "es",
		TTSEnabled:     true,
		PartialMin:     time.Second,
		ASRTimeout:     2 * time.Second,
		MTTimeout:      2 * time.Second,
		TTSTimeout:     2 * time.Second,
	}
}

func newTestPipeline(t *testing.T, cfg pipeline.Config, a *asrmock.Provider, sess *vadmock.Session) *pipeline.Pipeline {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	seg := pipeline.NewSegmenter(sess, 500*time.Millisecond)
	p := pipeline.New(ctx, cfg, pipeline.Providers{
		ASR: a, ASRName: "mock",
		MT: &mtmock.Provider{}, MTName: "mock",
		TTS: &ttsmock.Provider{}, TTSName: "mock",
	}, seg, pipeline.NewWorkers(4), testMetrics(t), testLogger())
	t.Cleanup(func() { p.Close() })
	return p
}

// feedUtterance pushes n speech windows followed by enough silence to close
// the utterance.
func feedUtterance(t *testing.T, p *pipeline.Pipeline, speechWindows int, sess *vadmock.Session) {
	t.Helper()
	sess.Script = append(sess.Script, speechResults(speechWindows)...)
	sess.Script = append(sess.Script, make([]vad.Result, 20)...)
	for range speechWindows + 20 {
		if err := p.Ingest(make([]float32, pipeline.WindowSize)); err != nil {
			t.Fatalf("Ingest() error: %v", err)
		}
	}
}

func speechResults(n int) []vad.Result {
	out := make([]vad.Result, n)
	for i := range out {
		out[i] = vad.Result{Speech: true, Probability: 0.9}
	}
	return out
}

func waitResult(t *testing.T, p *pipeline.Pipeline, want pipeline.ResultKind) pipeline.Result {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case res := <-p.Results():
			if res.Kind == want {
				return res
			}
		case <-deadline:
			t.Fatalf("timed out waiting for result kind %v", want)
		}
	}
}

func TestPipeline_FinalTranscriptTranslatedAndSynthesized(t *testing.T) {
	t.Parallel()

	a := &asrmock.Provider{Result: types.Transcript{Text: "hello there", Language: "en"}}
	sess := &vadmock.Session{}
	p := newTestPipeline(t, testConfig(), a, sess)

	feedUtterance(t, p, 10, sess)

	res := waitResult(t, p, pipeline.KindFinal)
	if res.Transcript.Text != "hello there" {
		t.Errorf("text = %q, want %q", res.Transcript.Text, "hello there")
	}
	if !res.Transcript.Final {
		t.Error("Transcript.Final = false, want true")
	}
	if res.Translation != "hello there [es]" {
		t.Errorf("translation = %q, want %q", res.Translation, "hello there [es]")
	}
	if res.TargetLang != "es" {
		t.Errorf("target = %q, want es", res.TargetLang)
	}
	if len(res.Audio) == 0 {
		t.Error("Audio is empty, want synthesized WAV")
	}
	if res.SpeechDuration != 10*32*time.Millisecond {
		t.Errorf("SpeechDuration = %v, want %v", res.SpeechDuration, 10*32*time.Millisecond)
	}
}

func TestPipeline_MonotonicGenerations(t *testing.T) {
	t.Parallel()

	a := &asrmock.Provider{Result: types.Transcript{Text: "words", Language: "en"}}
	sess := &vadmock.Session{}
	p := newTestPipeline(t, testConfig(), a, sess)

	feedUtterance(t, p, 5, sess)
	feedUtterance(t, p, 5, sess)
	feedUtterance(t, p, 5, sess)

	var gens []uint64
	for range 3 {
		res := waitResult(t, p, pipeline.KindFinal)
		gens = append(gens, res.Generation)
	}
	for i := 1; i < len(gens); i++ {
		if gens[i] <= gens[i-1] {
			t.Fatalf("generations not strictly increasing: %v", gens)
		}
	}
}

func TestPipeline_AtMostOnePartialInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	a := &asrmock.Provider{
		TranscribeFunc: func(ctx context.Context, _ []float32, _ string) (types.Transcript, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return types.Transcript{Text: "partial words", Language: "en"}, nil
		},
	}
	sess := &vadmock.Session{Default: vad.Result{Speech: true, Probability: 0.9}}

	cfg := testConfig()
	cfg.PartialMin = 100 * time.Millisecond
	p := newTestPipeline(t, cfg, a, sess)

	// 100 windows = 3.2 s of speech; far past PartialMin on every window,
	// but the first partial never completes.
	for range 100 {
		if err := p.Ingest(make([]float32, pipeline.WindowSize)); err != nil {
			t.Fatalf("Ingest() error: %v", err)
		}
	}

	// Give the pool a moment to start the job.
	time.Sleep(50 * time.Millisecond)
	if got := len(a.Calls()); got != 1 {
		t.Errorf("in-flight partials = %d, want 1", got)
	}
	close(release)
}

func TestPipeline_StalePartialDiscarded(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	first := make(chan struct{}, 1)
	a := &asrmock.Provider{
		TranscribeFunc: func(ctx context.Context, _ []float32, _ string) (types.Transcript, error) {
			select {
			case first <- struct{}{}:
				// Partial: block until the utterance has already closed.
				select {
				case <-release:
				case <-ctx.Done():
				}
				return types.Transcript{Text: "stale partial", Language: "en"}, nil
			default:
				return types.Transcript{Text: "final words", Language: "en"}, nil
			}
		},
	}
	sess := &vadmock.Session{}

	cfg := testConfig()
	cfg.PartialMin = 100 * time.Millisecond
	p := newTestPipeline(t, cfg, a, sess)

	feedUtterance(t, p, 50, sess)
	close(release)

	res := waitResult(t, p, pipeline.KindFinal)
	if res.Transcript.Text != "final words" {
		t.Errorf("final text = %q, want %q", res.Transcript.Text, "final words")
	}

	// The stale partial must not surface after the final.
	select {
	case late := <-p.Results():
		if late.Kind == pipeline.KindPartial {
			t.Errorf("stale partial delivered: %+v", late)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPipeline_ASRTimeoutEmitsStageError(t *testing.T) {
	t.Parallel()

	a := &asrmock.Provider{
		Delay: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	sess := &vadmock.Session{}

	cfg := testConfig()
	cfg.ASRTimeout = 50 * time.Millisecond
	p := newTestPipeline(t, cfg, a, sess)

	feedUtterance(t, p, 10, sess)

	res := waitResult(t, p, pipeline.KindStageError)
	if res.Stage != "asr" {
		t.Errorf("stage = %q, want asr", res.Stage)
	}
	if res.Err == nil {
		t.Error("Err is nil, want deadline error")
	}
}

func TestPipeline_MTFailureStillDeliversTranscript(t *testing.T) {
	t.Parallel()

	a := &asrmock.Provider{Result: types.Transcript{Text: "hola", Language: "es"}}
	sess := &vadmock.Session{}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := testConfig()
	cfg.SourceLanguage = "es"
	cfg.TargetLanguage = "en"
	seg := pipeline.NewSegmenter(sess, 500*time.Millisecond)
	p := pipeline.New(ctx, cfg, pipeline.Providers{
		ASR: a, ASRName: "mock",
		MT: &mtmock.Provider{Err: context.DeadlineExceeded}, MTName: "mock",
		TTS: &ttsmock.Provider{}, TTSName: "mock",
	}, seg, pipeline.NewWorkers(4), testMetrics(t), testLogger())
	t.Cleanup(func() { p.Close() })

	feedUtterance(t, p, 10, sess)

	res := waitResult(t, p, pipeline.KindFinal)
	if res.Transcript.Text != "hola" {
		t.Errorf("text = %q, want hola", res.Transcript.Text)
	}
	if res.Translation != "" {
		t.Errorf("translation = %q, want empty on MT failure", res.Translation)
	}
	if len(res.Audio) != 0 {
		t.Error("Audio present, want none when translation failed")
	}
}

func TestPipeline_ResetDropsCurrentUtterance(t *testing.T) {
	t.Parallel()

	a := &asrmock.Provider{Result: types.Transcript{Text: "noise", Language: "en"}}
	sess := &vadmock.Session{Default: vad.Result{Speech: true, Probability: 0.9}}
	p := newTestPipeline(t, testConfig(), a, sess)

	for range 10 {
		if err := p.Ingest(make([]float32, pipeline.WindowSize)); err != nil {
			t.Fatalf("Ingest() error: %v", err)
		}
	}
	before := p.Generation()
	if err := p.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if p.Generation() <= before {
		t.Error("Reset should advance the generation")
	}
	if p.Speaking() {
		t.Error("Speaking() = true after Reset")
	}
}
