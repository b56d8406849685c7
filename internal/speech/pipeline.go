package speech

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/beakylabs/beaky/pkg/audio/playback"
	"github.com/beakylabs/beaky/pkg/provider/tts"
)

const (
	// defaultLookahead is how many chunks may be synthesising (or synthesised
	// and waiting to play) ahead of the chunk currently playing.
	defaultLookahead = 3

	// jobQueueBuf is the depth of the ordered playback queue. A full reply
	// rarely exceeds a few dozen sentences.
	jobQueueBuf = 128
)

// ErrPipelineClosed is returned by Speak after Close.
var ErrPipelineClosed = errors.New("speech: pipeline is closed")

// job is one sentence chunk moving through the pipeline. ready is closed when
// synthesis finishes (successfully or not).
type job struct {
	epoch    int64
	text     string
	ready    chan struct{}
	audio    *tts.Audio
	err      error
	slotHeld bool
}

// Pipeline converts sentence chunks into audio on the sink. Chunks play in
// the exact order they were enqueued even when a later chunk finishes
// synthesis first. Safe for concurrent use, though in practice one
// orchestrator goroutine drives it.
type Pipeline struct {
	synth tts.Provider
	sink  playback.Sink

	jobs  chan *job
	slots chan struct{}

	mu          sync.Mutex
	cond        *sync.Cond
	epoch       int64
	epochCtx    context.Context
	epochCancel context.CancelFunc
	outstanding map[int64]int
	closed      bool

	playbackDone chan struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLookahead sets how many chunks may be in synthesis ahead of playback.
func WithLookahead(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.slots = make(chan struct{}, n)
		}
	}
}

// NewPipeline creates a Pipeline and starts its playback goroutine.
func NewPipeline(synth tts.Provider, sink playback.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		synth:        synth,
		sink:         sink,
		jobs:         make(chan *job, jobQueueBuf),
		slots:        make(chan struct{}, defaultLookahead),
		outstanding:  make(map[int64]int),
		playbackDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, o := range opts {
		o(p)
	}
	p.epochCtx, p.epochCancel = context.WithCancel(context.Background())

	go p.playbackLoop()
	return p
}

// Speak enqueues one sentence chunk for synthesis and playback. Enqueue order
// is playback order. While the lookahead window is full, Speak blocks until a
// queued chunk finishes playing, so the caller's token loop is naturally
// paced to playback.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	epoch := p.epoch
	epochCtx := p.epochCtx
	p.outstanding[epoch]++
	p.mu.Unlock()

	j := &job{
		epoch: epoch,
		text:  text,
		ready: make(chan struct{}),
	}

	// Claim the lookahead slot here, before queueing, so slots are granted in
	// enqueue order. The head chunk always holds a slot and the playback loop
	// can never be starved by later chunks winning the slot race.
	select {
	case p.slots <- struct{}{}:
		j.slotHeld = true
	case <-ctx.Done():
		p.finishJob(j)
		return ctx.Err()
	case <-epochCtx.Done():
		p.finishJob(j)
		return epochCtx.Err()
	}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		<-p.slots
		p.finishJob(j)
		return ctx.Err()
	}

	go p.synthesizeJob(epochCtx, j)
	return nil
}

// synthesizeJob runs synthesis and marks the job ready. The job's lookahead
// slot was claimed in Speak; it is released by the playback loop.
func (p *Pipeline) synthesizeJob(epochCtx context.Context, j *job) {
	defer close(j.ready)

	audio, err := p.synth.Synthesize(epochCtx, j.text)
	if err != nil {
		j.err = err
		return
	}
	j.audio = audio
}

// playbackLoop drains jobs strictly in order, writing each finished chunk to
// the sink. Stale-epoch jobs (cancelled turns) are discarded.
func (p *Pipeline) playbackLoop() {
	defer close(p.playbackDone)

	for j := range p.jobs {
		<-j.ready

		p.mu.Lock()
		current := p.epoch
		epochCtx := p.epochCtx
		p.mu.Unlock()

		if j.epoch == current && j.err == nil && j.audio != nil {
			if err := p.sink.Write(epochCtx, j.audio.PCM); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("speech playback write failed", "error", err)
			}
		} else if j.err != nil && j.epoch == current && !errors.Is(j.err, context.Canceled) {
			slog.Warn("sentence synthesis failed, skipping chunk", "error", j.err)
		}

		if j.slotHeld {
			<-p.slots
		}
		p.finishJob(j)
	}
}

// finishJob decrements the outstanding count for the job's epoch.
func (p *Pipeline) finishJob(j *job) {
	p.mu.Lock()
	p.outstanding[j.epoch]--
	if p.outstanding[j.epoch] <= 0 {
		delete(p.outstanding, j.epoch)
	}
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Wait blocks until every chunk enqueued in the current epoch has been played
// (or dropped) and the sink has drained, or until ctx is cancelled.
func (p *Pipeline) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	epoch := p.epoch
	for p.outstanding[epoch] > 0 {
		if err := ctx.Err(); err != nil {
			p.mu.Unlock()
			return err
		}
		if p.epoch != epoch {
			// Cancelled mid-wait: nothing left to wait for.
			p.mu.Unlock()
			return context.Canceled
		}
		p.cond.Wait()
	}
	p.mu.Unlock()

	return p.sink.Drain(ctx)
}

// Cancel implements barge-in: current playback is silenced immediately,
// unplayed and in-synthesis chunks are dropped, and the pipeline is ready for
// the next turn.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	p.epochCancel()
	p.epoch++
	p.epochCtx, p.epochCancel = context.WithCancel(context.Background())
	p.cond.Broadcast()
	p.mu.Unlock()

	p.sink.Flush()
}

// Close cancels any in-flight work and stops the playback goroutine.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.epochCancel()
	p.cond.Broadcast()
	p.mu.Unlock()

	p.sink.Flush()
	close(p.jobs)
	<-p.playbackDone
	return nil
}

// QueueDepth reports how many chunks are pending in the current epoch.
// Exposed for the synthesis-queue metric.
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding[p.epoch]
}
