package models

import "time"

// Sender identifies who wrote a conversation message.
type Sender string

const (
	SenderUser  Sender = "USER"
	SenderAgent Sender = "AGENT"
)

// ConversationMessage is one chat turn about a scanned product.
type ConversationMessage struct {
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSession is the ordered chat history for one scan.
type ConversationSession struct {
	ScanID   string                `json:"scan_id"`
	Messages []ConversationMessage `json:"messages"`
}

// Append returns a new session with msgs added at the end. The receiver is
// left untouched.
func (s ConversationSession) Append(msgs ...ConversationMessage) ConversationSession {
	out := make([]ConversationMessage, 0, len(s.Messages)+len(msgs))
	out = append(out, s.Messages...)
	out = append(out, msgs...)
	return ConversationSession{ScanID: s.ScanID, Messages: out}
}
