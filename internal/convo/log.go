// Package convo holds the shared conversation log. The log is the single
// source of truth for message ordering: appends are serialized under one
// mutex, sequence numbers are assigned at append time and are strictly
// increasing without gaps, and entries are never mutated or removed.
package convo

import (
	"sync"
	"time"

	"mafiasim/internal/domain"
)

// Candidate is an utterance that has won arbitration and is ready to be
// committed. Seq and CreatedAt are assigned by the log.
type Candidate struct {
	Round    int
	Tick     int
	Kind     domain.MessageKind
	AuthorID int
	Author   string
	Body     string
}

type Log struct {
	mu       sync.Mutex
	messages []domain.Message
	Now      func() time.Time
}

func NewLog() *Log {
	return &Log{Now: time.Now}
}

func (l *Log) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Append commits a candidate, assigning the next sequence number. Atomic
// with respect to concurrent appends and snapshots.
func (l *Log) Append(c Candidate) domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := domain.Message{
		Seq:       len(l.messages) + 1,
		Round:     c.Round,
		Tick:      c.Tick,
		Kind:      c.Kind,
		AuthorID:  c.AuthorID,
		Author:    c.Author,
		Body:      c.Body,
		CreatedAt: l.now().UTC().Format(time.RFC3339),
	}
	l.messages = append(l.messages, m)
	return m
}

// System appends an engine-authored message.
func (l *Log) System(round int, body string) domain.Message {
	return l.Append(Candidate{
		Round:    round,
		Kind:     domain.MessageSystem,
		AuthorID: domain.SystemAuthorID,
		Author:   "System",
		Body:     body,
	})
}

// Snapshot returns a point-in-time copy of the log. The copy never observes
// a partially written message and is safe to read without locking.
func (l *Log) Snapshot() []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Since returns messages with sequence numbers greater than seq.
func (l *Log) Since(seq int) []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(l.messages) {
		return nil
	}
	out := make([]domain.Message, len(l.messages)-seq)
	copy(out, l.messages[seq:])
	return out
}

// Len reports the number of committed messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
