package audio

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrAlreadyRecording is returned when Start is called while a
	// recording is active.
	ErrAlreadyRecording = errors.New("recording already active")
	// ErrNotRecording is returned for chunk or stop calls with no
	// active recording.
	ErrNotRecording = errors.New("no active recording")
)

// CaptureDevice is the platform microphone the recorder drives. Start
// may fail on permission denial; Stop releases the underlying stream so
// the OS recording indicator clears.
type CaptureDevice interface {
	Start() error
	Stop() error
}

// Recorder records one utterance at a time into a single encoded clip.
// Encoded chunks arrive in order via Append; Stop finalizes them and
// hands the clip to the completion callback.
type Recorder struct {
	device CaptureDevice
	onClip func(clip []byte)
	logger *zap.Logger

	mu        sync.Mutex
	recording bool
	chunks    [][]byte
}

// NewRecorder executes the newRecorder function.
func NewRecorder(device CaptureDevice, onClip func(clip []byte), logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		device: device,
		onClip: onClip,
		logger: logger,
	}
}

// Start begins a new recording. Permission denial is reported to the
// caller, not retried.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.mu.Unlock()

	if err := r.device.Start(); err != nil {
		return fmt.Errorf("capture start: %w", err)
	}

	r.mu.Lock()
	r.recording = true
	r.chunks = nil
	r.mu.Unlock()
	return nil
}

// Append buffers one encoded chunk in arrival order.
func (r *Recorder) Append(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return ErrNotRecording
	}
	r.chunks = append(r.chunks, chunk)
	return nil
}

// Stop finalizes the buffered chunks into one clip, releases the device,
// and invokes the completion callback. A device release failure is
// logged but does not lose the clip.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.recording = false
	clip := concat(r.chunks)
	r.chunks = nil
	r.mu.Unlock()

	if err := r.device.Stop(); err != nil {
		r.logger.Warn("capture release failed", zap.Error(err))
	}
	if r.onClip != nil {
		r.onClip(clip)
	}
	return nil
}

// Recording reports whether a recording is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}
