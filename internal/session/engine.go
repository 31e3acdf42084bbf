package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/parlo-ai/voice-gateway/internal/session/fsm"
	"github.com/parlo-ai/voice-gateway/pkg/chat"
)

const defaultMaxTurns = 10

var (
	// ErrSessionEnded is returned for user intents after the session
	// completed or was blocked.
	ErrSessionEnded = errors.New("session already ended")
	// ErrAwaitingDifficulty is returned for audio submissions while a
	// difficulty selection is still pending.
	ErrAwaitingDifficulty = errors.New("difficulty selection pending")
	// ErrNoDifficultyPrompt is returned for a difficulty selection when
	// none was requested.
	ErrNoDifficultyPrompt = errors.New("no difficulty selection pending")
)

// Sender is the outgoing half of the chat socket the engine drives.
type Sender interface {
	SendInit(ctx context.Context, fingerprint string, difficulty string) error
	SendAudio(ctx context.Context, clip []byte) error
}

// Options represents a options.
type Options struct {
	DifficultyGate bool
	Suggestions    bool
	MaxTurns       int
	Fingerprint    string
	AvatarURL      string
	Greeting       string
}

// StartInfo represents a startInfo.
type StartInfo struct {
	SessionID     string
	CharacterName string
	MaxTurns      int
}

// Callbacks represents a callbacks.
type Callbacks struct {
	OnStarted           func(info StartInfo)
	OnDifficultyRequest func()
	OnMessage           func(index int, msg Message)
	OnImage             func(index int, imageURL string)
	OnTurn              func(turn int, max int)
	OnSuggestions       func(suggestions []string)
	OnStatus            func(message string)
	OnPlay              func(chunks [][]byte)
	OnCompleted         func(sessionID string)
	OnBlocked           func(message string)
	OnError             func(message string)
}

// Engine consumes inbound chat events and drives the transcript, turn
// counter, chunk accumulators, and completion latch for one session.
// Side effects are delegated through Callbacks; playback completion is
// reported back via PlaybackFinished.
type Engine struct {
	opts      Options
	sender    Sender
	callbacks Callbacks
	logger    *zap.Logger
	machine   *fsm.Machine

	mu sync.Mutex

	transcript Transcript
	initAcc    Accumulator
	mainAcc    Accumulator

	sessionID     string
	characterName string
	maxTurns      int
	turnCount     int

	loading            bool
	awaitingReply      bool
	awaitingDifficulty bool

	completed          bool
	blocked            bool
	completedSession   string
	streamOpen         bool
	playing            bool
	completionNotified bool
}

// NewEngine executes the newEngine function.
func NewEngine(opts Options, sender Sender, callbacks Callbacks, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultMaxTurns
	}
	return &Engine{
		opts:      opts,
		sender:    sender,
		callbacks: callbacks,
		logger:    logger,
		machine:   fsm.New(),
		maxTurns:  opts.MaxTurns,
	}
}

// SetSender wires the outgoing socket half. It must be set before the
// socket connects; events that trigger sends fail with an error log
// otherwise.
func (e *Engine) SetSender(sender Sender) {
	e.mu.Lock()
	e.sender = sender
	e.mu.Unlock()
}

func (e *Engine) currentSender() Sender {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sender
}

// HandleEvent processes one inbound chat event. Events must be handed
// over in arrival order; callbacks fire synchronously in that order.
func (e *Engine) HandleEvent(ev chat.Event) {
	var fire []func()

	e.mu.Lock()
	switch ev.Type {
	case chat.EventConnected:
		fire = e.handleConnectedLocked(ev)

	case chat.EventInitStreamStart:
		e.initAcc.Reset()
		e.streamOpen = true

	case chat.EventInitChunk:
		e.appendChunkLocked(&e.initAcc, ev)

	case chat.EventInitStreamEnd:
		fire = e.finishStreamLocked(&e.initAcc, false)

	case chat.EventAudioStreamStart:
		e.mainAcc.Reset()
		e.streamOpen = true

	case chat.EventAudioChunk:
		e.appendChunkLocked(&e.mainAcc, ev)

	case chat.EventAudioStreamEnd:
		fire = e.finishStreamLocked(&e.mainAcc, true)

	case chat.EventSTTResult:
		fire = e.appendMessageLocked(Message{Speaker: SpeakerUser, Text: ev.Text})

	case chat.EventLLMResult:
		fire = e.appendMessageLocked(Message{Speaker: SpeakerAI, Text: ev.Text})

	case chat.EventCharacterImage:
		if idx, ok := e.transcript.AttachImage(ev.ImageURL); ok {
			if cb := e.callbacks.OnImage; cb != nil {
				url := ev.ImageURL
				fire = append(fire, func() { cb(idx, url) })
			}
		}

	case chat.EventTurnCountUpdate:
		fire = e.handleTurnUpdateLocked(ev.TurnCount)

	case chat.EventSessionCompleted:
		e.completed = true
		e.completedSession = ev.SessionID
		if e.completedSession == "" {
			e.completedSession = e.sessionID
		}
		e.loading = false
		e.machine.OnComplete()
		fire = e.appendNotifyLocked(fire)

	case chat.EventSuggestedResponses:
		if e.opts.Suggestions {
			if cb := e.callbacks.OnSuggestions; cb != nil {
				suggestions := ev.Suggestions
				fire = append(fire, func() { cb(suggestions) })
			}
		}

	case chat.EventStatus:
		if cb := e.callbacks.OnStatus; cb != nil {
			msg := ev.Message
			fire = append(fire, func() { cb(msg) })
		}

	case chat.EventBlocked:
		e.blocked = true
		e.loading = false
		e.machine.OnComplete()
		if cb := e.callbacks.OnBlocked; cb != nil {
			msg := ev.Message
			fire = append(fire, func() { cb(msg) })
		}

	case chat.EventError:
		e.loading = false
		e.awaitingReply = false
		if cb := e.callbacks.OnError; cb != nil {
			msg := ev.Message
			fire = append(fire, func() { cb(msg) })
		}
		fire = e.appendNotifyLocked(fire)

	case chat.EventPong:
		// Keepalive only.

	default:
		e.logger.Debug("session unknown event", zap.String("event_type", ev.Type))
	}
	e.mu.Unlock()

	for _, f := range fire {
		f()
	}
}

func (e *Engine) handleConnectedLocked(ev chat.Event) []func() {
	var fire []func()

	e.sessionID = ev.SessionID
	e.characterName = ev.CharacterName
	if ev.MaxTurns > 0 {
		e.maxTurns = ev.MaxTurns
	}

	if cb := e.callbacks.OnStarted; cb != nil {
		info := StartInfo{
			SessionID:     e.sessionID,
			CharacterName: e.characterName,
			MaxTurns:      e.maxTurns,
		}
		fire = append(fire, func() { cb(info) })
	}

	greeting := ev.InitMessage
	if greeting == "" {
		greeting = e.opts.Greeting
	}
	if greeting != "" {
		fire = append(fire, e.appendMessageLocked(Message{
			Speaker:  SpeakerAI,
			Text:     greeting,
			ImageURL: e.opts.AvatarURL,
		})...)
	}

	if ev.RequestDifficulty && e.opts.DifficultyGate {
		e.awaitingDifficulty = true
		if cb := e.callbacks.OnDifficultyRequest; cb != nil {
			fire = append(fire, func() { cb() })
		}
		return fire
	}

	fingerprint := e.opts.Fingerprint
	fire = append(fire, func() {
		sender := e.currentSender()
		if sender == nil {
			e.logger.Warn("session init send skipped, no sender wired")
			return
		}
		if err := sender.SendInit(context.Background(), fingerprint, ""); err != nil {
			e.logger.Warn("session init send failed", zap.Error(err))
		}
	})
	return fire
}

func (e *Engine) appendChunkLocked(acc *Accumulator, ev chat.Event) {
	chunk, err := ev.DecodeChunk()
	if err != nil {
		e.logger.Debug("session chunk decode failed",
			zap.String("event_type", ev.Type),
			zap.Error(err),
		)
		return
	}
	acc.Append(chunk)
}

func (e *Engine) finishStreamLocked(acc *Accumulator, clearLoading bool) []func() {
	e.streamOpen = false
	if clearLoading {
		e.loading = false
		e.awaitingReply = false
	}
	if acc.Empty() {
		return e.appendNotifyLocked(nil)
	}
	chunks := acc.Take()
	e.playing = true
	e.machine.OnSpeakStart()
	if cb := e.callbacks.OnPlay; cb != nil {
		return []func(){func() { cb(chunks) }}
	}
	return nil
}

func (e *Engine) appendMessageLocked(msg Message) []func() {
	idx := e.transcript.Append(msg)
	if cb := e.callbacks.OnMessage; cb != nil {
		return []func(){func() { cb(idx, msg) }}
	}
	return nil
}

func (e *Engine) handleTurnUpdateLocked(value int) []func() {
	if value > e.maxTurns {
		value = e.maxTurns
	}
	if value > e.turnCount {
		e.turnCount = value
	}
	if cb := e.callbacks.OnTurn; cb != nil {
		turn, max := e.turnCount, e.maxTurns
		return []func(){func() { cb(turn, max) }}
	}
	return nil
}

// appendNotifyLocked arms the exactly-once completion notification when
// the latch is set and no playback is pending or in flight. A reply
// stream still owed for a submitted clip counts as pending: the backend
// sends session_completed just before the final audio stream, and the
// user must hear the closing line before any navigation.
func (e *Engine) appendNotifyLocked(fire []func()) []func() {
	if !e.completed || e.completionNotified || e.streamOpen || e.playing || e.awaitingReply {
		return fire
	}
	e.completionNotified = true
	if cb := e.callbacks.OnCompleted; cb != nil {
		sessionID := e.completedSession
		fire = append(fire, func() { cb(sessionID) })
	}
	return fire
}

// PlaybackFinished reports that the playback engine emitted its
// completion signal for the most recent clip.
func (e *Engine) PlaybackFinished() {
	e.mu.Lock()
	e.playing = false
	e.machine.OnSpeakStop()
	fire := e.appendNotifyLocked(nil)
	e.mu.Unlock()
	for _, f := range fire {
		f()
	}
}

// RecordStarted moves the phase machine into recording.
func (e *Engine) RecordStarted() {
	e.machine.OnRecordStart()
}

// SelectDifficulty resolves a pending difficulty prompt and sends the
// init message carrying the fingerprint and the chosen difficulty.
func (e *Engine) SelectDifficulty(ctx context.Context, value string) error {
	e.mu.Lock()
	if !e.awaitingDifficulty {
		e.mu.Unlock()
		return ErrNoDifficultyPrompt
	}
	e.awaitingDifficulty = false
	fingerprint := e.opts.Fingerprint
	sender := e.sender
	e.mu.Unlock()
	if sender == nil {
		return errors.New("no sender wired")
	}
	return sender.SendInit(ctx, fingerprint, value)
}

// SubmitAudio sends one recorded clip to the backend and sets the
// loading flag until the reply stream ends.
func (e *Engine) SubmitAudio(ctx context.Context, clip []byte) error {
	e.mu.Lock()
	if e.completed || e.blocked {
		e.mu.Unlock()
		return ErrSessionEnded
	}
	if e.awaitingDifficulty {
		e.mu.Unlock()
		return ErrAwaitingDifficulty
	}
	e.loading = true
	e.awaitingReply = true
	sender := e.sender
	e.mu.Unlock()
	if sender == nil {
		e.clearPending()
		return errors.New("no sender wired")
	}

	e.machine.OnUtteranceSubmit()
	if err := sender.SendAudio(ctx, clip); err != nil {
		e.clearPending()
		return err
	}
	return nil
}

func (e *Engine) clearPending() {
	e.mu.Lock()
	e.loading = false
	e.awaitingReply = false
	e.mu.Unlock()
}

// CanRecord reports whether a new recording may start.
func (e *Engine) CanRecord() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.completed && !e.blocked && !e.awaitingDifficulty && !e.loading
}

// Completed reports the one-way completion latch.
func (e *Engine) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// Blocked reports whether the backend blocked the session.
func (e *Engine) Blocked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocked
}

// SessionID executes the sessionID method.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// CharacterName executes the characterName method.
func (e *Engine) CharacterName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.characterName
}

// TurnCount executes the turnCount method.
func (e *Engine) TurnCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turnCount
}

// MaxTurns executes the maxTurns method.
func (e *Engine) MaxTurns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxTurns
}

// Phase returns the current conversation phase.
func (e *Engine) Phase() fsm.State {
	return e.machine.State()
}

// Messages returns a copy of the transcript so far.
func (e *Engine) Messages() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.Messages()
}
