package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/lingopair/lingopair/internal/observe"
	"github.com/lingopair/lingopair/pkg/audio"
	"github.com/lingopair/lingopair/pkg/provider/asr"
	"github.com/lingopair/lingopair/pkg/provider/mt"
	"github.com/lingopair/lingopair/pkg/provider/tts"
	"github.com/lingopair/lingopair/pkg/types"
)

// preRollSamples is how much audio before a detected speech onset is kept,
// so the first syllable is not clipped (~300 ms).
const preRollSamples = 4800

// finalQueueSize bounds the number of closed utterances awaiting the worker
// pool per participant.
const finalQueueSize = 8

// ResultKind distinguishes the outputs a [Pipeline] can produce.
type ResultKind int

const (
	// KindPartial is an interim transcript for an utterance in progress.
	KindPartial ResultKind = iota
	// KindFinal is the completed transcript, translation, and audio for a
	// closed utterance.
	KindFinal
	// KindStageError reports a model stage that failed or timed out. The
	// utterance it belonged to has been discarded.
	KindStageError
)

// Result is one pipeline output. Consumers read these from [Pipeline.Results]
// and map them onto wire messages.
type Result struct {
	Kind       ResultKind
	Generation uint64

	Transcript  types.Transcript
	Translation string
	TargetLang  string
	Audio       []byte // RIFF WAV, nil unless synthesis ran

	// SpeechDuration is the captured utterance length. Final results only.
	SpeechDuration time.Duration

	// Stage and Err describe a KindStageError ("asr", "mt", "tts").
	Stage string
	Err   error
}

// Config tunes one participant's pipeline.
type Config struct {
	// SourceLanguage is the speaker's language, or [asr.LanguageAuto].
	SourceLanguage string

	// TargetLanguage is the listener's language. Empty disables translation
	// and synthesis.
	TargetLanguage string

	// TTSEnabled controls whether finals are synthesized.
	TTSEnabled bool

	// PartialMin is the minimum accumulated speech before the first interim
	// transcript is attempted.
	PartialMin time.Duration

	// PartialTranslation also translates interim transcripts.
	PartialTranslation bool

	// Per-stage deadlines.
	ASRTimeout time.Duration
	MTTimeout  time.Duration
	TTSTimeout time.Duration
}

// Providers bundles the model capabilities a pipeline calls, with the
// configured provider names used as metric labels.
type Providers struct {
	ASR     asr.Provider
	ASRName string
	MT      mt.Provider
	MTName  string
	TTS     tts.Provider
	TTSName string
}

type finalJob struct {
	generation uint64
	pcm        []float32
	duration   time.Duration
}

// Pipeline moves one participant's utterances through recognition,
// translation, and synthesis. [Pipeline.Ingest] is driven by the
// participant's read pump and never blocks on a model call; results are
// delivered asynchronously on [Pipeline.Results].
type Pipeline struct {
	cfg       Config
	providers Providers
	seg       *Segmenter
	workers   *Workers
	metrics   *observe.Metrics
	log       *slog.Logger

	generation  atomic.Uint64
	partialBusy atomic.Bool

	// Owned by the ingest goroutine.
	buf []float32

	finals    chan finalJob
	out       chan Result
	done      chan struct{}
	closeOnce sync.Once
}

// New assembles a pipeline and starts its utterance worker. Cancel ctx or
// call [Pipeline.Close] to stop it.
func New(ctx context.Context, cfg Config, providers Providers, seg *Segmenter, workers *Workers, metrics *observe.Metrics, log *slog.Logger) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		providers: providers,
		seg:       seg,
		workers:   workers,
		metrics:   metrics,
		log:       log,
		finals:    make(chan finalJob, finalQueueSize),
		out:       make(chan Result, 16),
		done:      make(chan struct{}),
	}
	go p.finalLoop(ctx)
	return p
}

// Results delivers partials, finals, and stage errors. The channel stays
// open for the life of the pipeline; consumers should select against their
// own context. Results emitted after the pipeline stops are dropped.
func (p *Pipeline) Results() <-chan Result {
	return p.out
}

// Generation returns the current utterance generation.
func (p *Pipeline) Generation() uint64 {
	return p.generation.Load()
}

// Speaking reports whether the segmenter is inside an utterance.
func (p *Pipeline) Speaking() bool {
	return p.seg.Speaking()
}

// Ingest consumes decoded PCM from the participant's stream. It advances the
// segmenter, accumulates utterance audio, and hands closed utterances to the
// worker pool. Must be called from a single goroutine.
func (p *Pipeline) Ingest(pcm []float32) error {
	events, err := p.seg.Push(pcm)
	if err != nil {
		return err
	}

	p.buf = append(p.buf, pcm...)

	for _, ev := range events {
		if ev.Kind == EventSpeechEnd {
			p.finishUtterance(ev.Duration)
		}
	}

	if p.seg.Speaking() {
		p.maybePartial()
	} else if n := len(p.buf); n > preRollSamples {
		p.buf = p.buf[n-preRollSamples:]
	}
	return nil
}

// Reset drops the current utterance and segmenter state. The generation is
// bumped so any in-flight partial for the abandoned utterance is discarded.
func (p *Pipeline) Reset() error {
	p.buf = p.buf[:0]
	p.generation.Add(1)
	return p.seg.Reset()
}

// Close stops the utterance worker and releases the segmenter. In-flight
// jobs finish in the background and their results are dropped.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return p.seg.Close()
}

func (p *Pipeline) finishUtterance(duration time.Duration) {
	gen := p.generation.Add(1) - 1
	frozen := slices.Clone(p.buf)
	p.buf = p.buf[:0]

	ctx := context.Background()
	p.metrics.UtterancesTotal.Add(ctx, 1)
	p.metrics.UtteranceDuration.Record(ctx, duration.Seconds())

	select {
	case p.finals <- finalJob{generation: gen, pcm: frozen, duration: duration}:
	default:
		p.metrics.DroppedTotal.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", "final_queue_full")))
		p.log.Warn("utterance queue full, dropping utterance", "generation", gen)
	}
}

// maybePartial launches an interim transcription when enough speech has
// accumulated and no partial is already in flight.
func (p *Pipeline) maybePartial() {
	speech := time.Duration(len(p.buf)) * time.Second / audio.PipelineSampleRate
	if speech < p.cfg.PartialMin {
		return
	}
	if !p.partialBusy.CompareAndSwap(false, true) {
		return
	}

	gen := p.generation.Load()
	snapshot := slices.Clone(p.buf)
	started := p.workers.TryGo(func() {
		defer p.partialBusy.Store(false)
		p.runPartial(gen, snapshot)
	})
	if !started {
		p.partialBusy.Store(false)
	}
}

func (p *Pipeline) runPartial(gen uint64, pcm []float32) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ASRTimeout)
	defer cancel()

	start := time.Now()
	tr, err := p.providers.ASR.Transcribe(ctx, pcm, p.cfg.SourceLanguage)
	p.metrics.RecordStage(ctx, "asr", p.providers.ASRName, time.Since(start).Seconds(), err)
	if err != nil {
		// Partials are droppable; the final pass will retry the audio.
		p.log.Debug("partial transcription failed", "error", err)
		return
	}
	if tr.Text == "" || p.generation.Load() != gen {
		return
	}

	res := Result{Kind: KindPartial, Generation: gen, Transcript: tr}
	if p.cfg.PartialTranslation && p.translatable(tr.Language) {
		mtCtx, mtCancel := context.WithTimeout(context.Background(), p.cfg.MTTimeout)
		translated, mtErr := p.providers.MT.Translate(mtCtx, tr.Text, tr.Language, p.cfg.TargetLanguage)
		mtCancel()
		if mtErr == nil {
			res.Translation = translated
			res.TargetLang = p.cfg.TargetLanguage
		}
	}

	if p.generation.Load() != gen {
		return
	}
	p.metrics.PartialsTotal.Add(ctx, 1)
	p.emitDroppable(res)
}

// finalLoop serializes final utterance processing so one participant's
// transcripts are delivered in utterance order.
func (p *Pipeline) finalLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case job := <-p.finals:
			finished := make(chan struct{})
			p.workers.Go(func() {
				defer close(finished)
				p.runFinal(ctx, job)
			})
			select {
			case <-finished:
			case <-ctx.Done():
				return
			case <-p.done:
				return
			}
		}
	}
}

func (p *Pipeline) runFinal(ctx context.Context, job finalJob) {
	pipelineStart := time.Now()

	asrCtx, cancel := context.WithTimeout(ctx, p.cfg.ASRTimeout)
	tr, err := p.providers.ASR.Transcribe(asrCtx, job.pcm, p.cfg.SourceLanguage)
	cancel()
	p.metrics.RecordStage(ctx, "asr", p.providers.ASRName, time.Since(pipelineStart).Seconds(), err)
	if err != nil {
		p.dropUtterance(ctx, "asr", job.generation, err)
		return
	}
	if tr.Text == "" {
		p.metrics.DroppedTotal.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", "empty_transcript")))
		return
	}
	tr.Final = true

	res := Result{
		Kind:           KindFinal,
		Generation:     job.generation,
		Transcript:     tr,
		SpeechDuration: job.duration,
	}

	if p.translatable(tr.Language) {
		start := time.Now()
		mtCtx, cancel := context.WithTimeout(ctx, p.cfg.MTTimeout)
		translated, mtErr := p.providers.MT.Translate(mtCtx, tr.Text, tr.Language, p.cfg.TargetLanguage)
		cancel()
		p.metrics.RecordStage(ctx, "mt", p.providers.MTName, time.Since(start).Seconds(), mtErr)
		if mtErr != nil {
			// The transcript is still worth delivering untranslated.
			p.log.Warn("translation failed", "generation", job.generation, "error", mtErr)
			p.emitStageError(ctx, "mt", mtErr)
		} else {
			res.Translation = translated
			res.TargetLang = p.cfg.TargetLanguage
		}
	}

	if p.cfg.TTSEnabled && res.Translation != "" && p.providers.TTS != nil {
		start := time.Now()
		ttsCtx, cancel := context.WithTimeout(ctx, p.cfg.TTSTimeout)
		wav, ttsErr := p.providers.TTS.Synthesize(ttsCtx, res.Translation, p.cfg.TargetLanguage)
		cancel()
		p.metrics.RecordStage(ctx, "tts", p.providers.TTSName, time.Since(start).Seconds(), ttsErr)
		if ttsErr != nil {
			p.log.Warn("synthesis failed", "generation", job.generation, "error", ttsErr)
			p.emitStageError(ctx, "tts", ttsErr)
		} else {
			res.Audio = wav
		}
	}

	p.metrics.PipelineDuration.Record(ctx, time.Since(pipelineStart).Seconds())
	p.emit(ctx, res)
}

func (p *Pipeline) translatable(sourceLang string) bool {
	return p.providers.MT != nil &&
		p.cfg.TargetLanguage != "" &&
		p.cfg.TargetLanguage != sourceLang
}

func (p *Pipeline) dropUtterance(ctx context.Context, stage string, gen uint64, err error) {
	reason := stage + "_error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = stage + "_timeout"
	}
	p.metrics.DroppedTotal.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", reason)))
	p.log.Warn("utterance discarded", "stage", stage, "generation", gen, "error", err)
	p.emitStageError(ctx, stage, err)
}

func (p *Pipeline) emitStageError(ctx context.Context, stage string, err error) {
	p.emit(ctx, Result{Kind: KindStageError, Stage: stage, Err: err})
}

// emit delivers a result, giving up when the pipeline stops.
func (p *Pipeline) emit(ctx context.Context, res Result) {
	select {
	case p.out <- res:
	case <-ctx.Done():
	case <-p.done:
	}
}

// emitDroppable delivers a partial result unless the consumer is behind or
// the pipeline has stopped.
func (p *Pipeline) emitDroppable(res Result) {
	select {
	case <-p.done:
	case p.out <- res:
	default:
	}
}
