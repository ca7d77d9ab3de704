package chat

import (
	"time"

	"github.com/google/uuid"

	"cebus/internal/agent"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusSent      MessageStatus = "sent"
	StatusError     MessageStatus = "error"
)

// Terminal reports whether a message in this status will never change again.
func (s MessageStatus) Terminal() bool {
	return s == StatusComplete || s == StatusSent || s == StatusError
}

// Message is one entry in the session conversation. It is mutated in place
// while streaming and frozen once its status turns terminal.
type Message struct {
	ID       string
	SenderID string
	Content  string
	Status   MessageStatus
	Created  time.Time

	// Seq is a store-assigned creation counter; DispatchSeq is the position
	// of this message's participant in its turn's fan-out. Together with
	// Created they fix the promotion order.
	Seq         int64
	DispatchSeq int64

	Usage   *agent.Usage
	ErrKind agent.ErrorKind
	ErrText string
}

// MessageStore holds every message of the session. Mutations go through the
// coordinator only; readers take snapshots and tolerate staleness.
type MessageStore struct {
	seq      int64
	messages []*Message
	byID     map[string]*Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byID: make(map[string]*Message)}
}

func (s *MessageStore) New(senderID string, status MessageStatus, dispatchSeq int64) *Message {
	s.seq++
	msg := &Message{
		ID:          uuid.NewString(),
		SenderID:    senderID,
		Status:      status,
		Created:     time.Now(),
		Seq:         s.seq,
		DispatchSeq: dispatchSeq,
	}
	s.messages = append(s.messages, msg)
	s.byID[msg.ID] = msg
	return msg
}

func (s *MessageStore) Get(id string) (*Message, bool) {
	msg, ok := s.byID[id]
	return msg, ok
}

// All returns the live message slice in creation order. Callers must not
// append to it.
func (s *MessageStore) All() []*Message {
	return s.messages
}

func (s *MessageStore) Len() int {
	return len(s.messages)
}
