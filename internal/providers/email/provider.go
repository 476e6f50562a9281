package email

import (
	"context"
	"errors"
)

var (
	ErrNoRecipients = errors.New("email_without_recipients")
	ErrNoSender     = errors.New("email_without_sender")
)

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Message struct {
	To          []string
	Cc          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Recipients returns To and Cc deduplicated, preserving order.
func (m Message) Recipients() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(m.To)+len(m.Cc))
	for _, list := range [][]string{m.To, m.Cc} {
		for _, addr := range list {
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return nil
}
