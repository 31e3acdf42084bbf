package chat

import "encoding/base64"

// Inbound event tags pushed by the backend over the chat socket.
const (
	EventConnected          = "connected"
	EventInitStreamStart    = "init_audio_stream_start"
	EventInitChunk          = "init_audio_chunk"
	EventInitStreamEnd      = "init_audio_stream_end"
	EventAudioStreamStart   = "audio_stream_start"
	EventAudioChunk         = "audio_chunk"
	EventAudioStreamEnd     = "audio_stream_end"
	EventSTTResult          = "stt_result"
	EventLLMResult          = "llm_result"
	EventCharacterImage     = "character_image"
	EventTurnCountUpdate    = "turn_count_update"
	EventSessionCompleted   = "session_completed"
	EventSuggestedResponses = "suggested_responses"
	EventStatus             = "status"
	EventBlocked            = "blocked"
	EventError              = "error"
	EventPong               = "pong"
)

// Event represents one inbound tagged frame.
type Event struct {
	Type              string   `json:"type"`
	SessionID         string   `json:"session_id,omitempty"`
	CharacterID       string   `json:"character_id,omitempty"`
	CharacterName     string   `json:"character_name,omitempty"`
	InitMessage       string   `json:"init_message,omitempty"`
	MaxTurns          int      `json:"max_turns,omitempty"`
	RequestDifficulty bool     `json:"request_difficulty,omitempty"`
	Data              string   `json:"data,omitempty"`
	Text              string   `json:"text,omitempty"`
	ImageURL          string   `json:"image_url,omitempty"`
	Emotion           string   `json:"emotion,omitempty"`
	TurnCount         int      `json:"turn_count,omitempty"`
	Suggestions       []string `json:"suggestions,omitempty"`
	Message           string   `json:"message,omitempty"`
}

// DecodeChunk base64-decodes the audio payload of a chunk event.
func (e Event) DecodeChunk() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Data)
}

// Terminal reports whether the event ends the session for good.
func (e Event) Terminal() bool {
	return e.Type == EventSessionCompleted || e.Type == EventBlocked
}
