package session

// Speaker identifies who produced a transcript message.
type Speaker string

const (
	SpeakerUser Speaker = "user"
	SpeakerAI   Speaker = "ai"
)

// Message represents a message.
type Message struct {
	Speaker  Speaker `json:"speaker"`
	Text     string  `json:"text"`
	ImageURL string  `json:"image_url,omitempty"`
}

// Transcript is an append-only ordered message list for one session.
// It is not safe for concurrent use; the engine serializes access.
type Transcript struct {
	messages []Message
}

// Append adds a message and returns its index.
func (t *Transcript) Append(msg Message) int {
	t.messages = append(t.messages, msg)
	return len(t.messages) - 1
}

// AttachImage backfills the most recent ai message that has no image yet.
// It returns the index of the updated message, or false when every ai
// message already carries an image.
func (t *Transcript) AttachImage(imageURL string) (int, bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Speaker != SpeakerAI {
			continue
		}
		if t.messages[i].ImageURL != "" {
			continue
		}
		t.messages[i].ImageURL = imageURL
		return i, true
	}
	return 0, false
}

// Messages returns a copy of the transcript in append order.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len executes the len method.
func (t *Transcript) Len() int {
	return len(t.messages)
}
