// Package mail dispatches outbound messages. A Send either delivers the
// whole message or fails; there is no partial delivery.
package mail

import (
	"context"
	"fmt"
	"io"
	"sync"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ConsoleSender prints messages to a writer. It is meant for development,
// where nothing picks up the outbox.
type ConsoleSender struct {
	mu   sync.Mutex
	from string
	w    io.Writer
}

func NewConsoleSender(from string, w io.Writer) *ConsoleSender {
	return &ConsoleSender{from: from, w: w}
}

func (s *ConsoleSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := fmt.Fprintf(s.w, "From: %s\nTo: %s\nSubject: %s\n\n%s\n\n", s.from, msg.To, msg.Subject, msg.Body)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
