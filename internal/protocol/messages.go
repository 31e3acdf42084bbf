package protocol

// Intent names accepted from the browser.
const (
	IntentStartSession     = "start-session"
	IntentSelectDifficulty = "select-difficulty"
	IntentRecordStart      = "record-start"
	IntentRecordChunk      = "record-chunk"
	IntentRecordStop       = "record-stop"
	IntentPlaybackComplete = "playback-complete"
	IntentVisibilityChange = "visibility-change"
	IntentHeartbeat        = "heartbeat"
)

// Frame names delivered to the browser.
const (
	FrameSessionStarted     = "session-started"
	FrameDifficultyRequest  = "difficulty-request"
	FrameTranscriptMessage  = "transcript-message"
	FrameTranscriptImage    = "transcript-image"
	FrameTurnUpdate         = "turn-update"
	FrameSuggestedResponses = "suggested-responses"
	FrameStatus             = "status"
	FrameAudioPlay          = "audio-play"
	FrameAudioResume        = "audio-resume"
	FrameCaptureStart       = "capture-start"
	FrameCaptureStop        = "capture-stop"
	FrameSessionComplete    = "session-complete"
	FrameBlocked            = "blocked"
	FrameConnectionState    = "connection-state"
	FrameError              = "error"
	FramePong               = "pong"
)

// DeviceAttributes carries the browser-side traits used for
// fingerprinting. The pixel signature is base64-encoded canvas output.
type DeviceAttributes struct {
	PixelSignature  string `json:"pixel_signature,omitempty"`
	Locale          string `json:"locale,omitempty"`
	Platform        string `json:"platform,omitempty"`
	ScreenWidth     int    `json:"screen_width,omitempty"`
	ScreenHeight    int    `json:"screen_height,omitempty"`
	ColorDepth      int    `json:"color_depth,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	DeviceMemoryGB  int    `json:"device_memory_gb,omitempty"`
	HardwareThreads int    `json:"hardware_threads,omitempty"`
}

// ClientIntent represents a command sent from the browser to the gateway.
// One struct covers every intent; unused fields stay empty on the wire.
type ClientIntent struct {
	Type        string            `json:"type"`
	CharacterID string            `json:"character_id,omitempty"`
	Difficulty  string            `json:"difficulty,omitempty"`
	Data        string            `json:"data,omitempty"`
	Visible     *bool             `json:"visible,omitempty"`
	Device      *DeviceAttributes `json:"device,omitempty"`
}
