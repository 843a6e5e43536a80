package conversation

import (
	"errors"
	"sync"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

type Message struct {
	ID     string `json:"id"`
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

var ErrNotReplaceable = errors.New("message is not the pending assistant placeholder")

// Transcript is append-only, except that the latest assistant message may
// be rewritten once.
type Transcript struct {
	mu          sync.Mutex
	newID       func() string
	messages    []Message
	replaceable string
}

func NewTranscript(newID func() string) *Transcript {
	return &Transcript{newID: newID}
}

func (t *Transcript) Append(sender Sender, text string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(sender, text)
}

// AppendIfEmpty appends only to an empty transcript.
func (t *Transcript) AppendIfEmpty(sender Sender, text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) > 0 {
		return false
	}
	t.appendLocked(sender, text)
	return true
}

func (t *Transcript) appendLocked(sender Sender, text string) Message {
	m := Message{ID: t.newID(), Sender: sender, Text: text}
	t.messages = append(t.messages, m)
	t.replaceable = ""
	if sender == SenderAssistant {
		t.replaceable = m.ID
	}
	return m
}

// Replace rewrites the text of the latest message if it is the assistant
// message with id and has not been replaced yet.
func (t *Transcript) Replace(id, text string) (Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.messages)
	if n == 0 || t.replaceable != id || t.messages[n-1].ID != id {
		return Message{}, ErrNotReplaceable
	}
	t.messages[n-1].Text = text
	t.replaceable = ""
	return t.messages[n-1], nil
}

func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}
