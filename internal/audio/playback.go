package audio

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWatchdog bounds how long one clip may play before the player
// force-emits its completion signal.
const DefaultWatchdog = 30 * time.Second

// OutputSink is the platform audio output the player drives. Play starts
// playback of one continuous encoded clip and returns once playback has
// been handed off; the natural end of the clip is reported back to the
// player via Finish.
type OutputSink interface {
	Play(clip []byte) error
	Suspended() bool
	Resume() error
	Close() error
}

// PlayerCallbacks represents a playerCallbacks.
type PlayerCallbacks struct {
	// OnDone is the completion signal. It fires exactly once per
	// PlayStream call, via one of natural end, watchdog timeout, or
	// resume/start error.
	OnDone func()
	// OnNotice surfaces a recoverable playback failure to the user.
	OnNotice func(message string)
}

// Player owns one output sink and plays one continuous clip at a time,
// assembled from ordered chunks.
type Player struct {
	sink      OutputSink
	watchdog  time.Duration
	callbacks PlayerCallbacks
	logger    *zap.Logger

	mu      sync.Mutex
	playing bool
	gen     uint64
	timer   *time.Timer
	closed  bool
}

// NewPlayer executes the newPlayer function.
func NewPlayer(sink OutputSink, watchdog time.Duration, callbacks PlayerCallbacks, logger *zap.Logger) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	if watchdog <= 0 {
		watchdog = DefaultWatchdog
	}
	return &Player{
		sink:      sink,
		watchdog:  watchdog,
		callbacks: callbacks,
		logger:    logger,
	}
}

// PlayStream concatenates the chunks in order into one clip and plays
// it. An empty chunk set emits the completion signal immediately with no
// audio. Resume and start failures are caught, surfaced as a notice, and
// converted into the completion signal rather than propagated.
func (p *Player) PlayStream(chunks [][]byte) {
	clip := concat(chunks)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.stopTimerLocked()
	p.gen++
	gen := p.gen

	if len(clip) == 0 {
		p.playing = false
		p.mu.Unlock()
		p.emitDone()
		return
	}
	p.playing = true
	p.mu.Unlock()

	if p.sink.Suspended() {
		if err := p.sink.Resume(); err != nil {
			p.logger.Warn("audio resume failed", zap.Error(err))
			p.fail(gen, err)
			return
		}
	}

	p.mu.Lock()
	if p.closed || p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.timer = time.AfterFunc(p.watchdog, func() {
		if p.finish(gen) {
			p.logger.Warn("audio playback watchdog fired", zap.Duration("watchdog", p.watchdog))
		}
	})
	p.mu.Unlock()

	if err := p.sink.Play(clip); err != nil {
		p.logger.Warn("audio playback start failed", zap.Error(err))
		p.fail(gen, err)
	}
}

// Finish reports the natural end of the current clip. Stale calls from
// an abandoned playback are no-ops.
func (p *Player) Finish() {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()
	p.finish(gen)
}

// Playing executes the playing method.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// OnVisible proactively resumes a suspended sink when the page regains
// visibility, independent of any in-flight playback.
func (p *Player) OnVisible() {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	if p.sink.Suspended() {
		if err := p.sink.Resume(); err != nil {
			p.logger.Warn("audio resume on visibility failed", zap.Error(err))
		}
	}
}

// Close releases the sink. A later completion signal for an in-flight
// clip becomes a no-op.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.playing = false
	p.stopTimerLocked()
	p.mu.Unlock()
	return p.sink.Close()
}

// finish emits the completion signal for the given generation exactly
// once. It reports whether this call was the one that emitted it.
func (p *Player) finish(gen uint64) bool {
	p.mu.Lock()
	if p.closed || p.gen != gen || !p.playing {
		p.mu.Unlock()
		return false
	}
	p.playing = false
	p.stopTimerLocked()
	p.mu.Unlock()
	p.emitDone()
	return true
}

func (p *Player) fail(gen uint64, err error) {
	if p.finish(gen) && p.callbacks.OnNotice != nil {
		p.callbacks.OnNotice(fmt.Sprintf("audio playback failed (%v); tap the page to re-enable audio", err))
	}
}

func (p *Player) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Player) emitDone() {
	if p.callbacks.OnDone != nil {
		p.callbacks.OnDone()
	}
}

func concat(chunks [][]byte) []byte {
	size := 0
	for _, chunk := range chunks {
		size += len(chunk)
	}
	clip := make([]byte, 0, size)
	for _, chunk := range chunks {
		clip = append(clip, chunk...)
	}
	return clip
}
