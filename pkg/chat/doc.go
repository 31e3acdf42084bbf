// Package chat provides a reusable websocket client for the voice-chat
// backend.
//
// It opens one duplex connection per character selection, serializes
// outgoing init/audio messages as JSON, dispatches inbound tagged event
// frames in arrival order, and reconnects once after a fixed delay unless
// the session has reached a terminal state.
package chat
