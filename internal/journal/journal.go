// Package journal records one Exchange per request handled by a fixture.
//
// Recording is best effort: fixtures log journal errors and carry on, so a
// slow or missing backend never changes what the device under test sees.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"netfixture/internal/command"
)

type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// Exchange is one handled request.
type Exchange struct {
	ID        string        `json:"id"`
	Protocol  Protocol      `json:"protocol"`
	Command   command.Kind  `json:"command"`
	Peer      string        `json:"peer"`
	BytesIn   int           `json:"bytes_in"`
	BytesOut  int           `json:"bytes_out"`
	Replies   int           `json:"replies"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// NewExchange starts an exchange record for a request from peer.
func NewExchange(proto Protocol, peer string) *Exchange {
	return &Exchange{
		ID:        uuid.NewString(),
		Protocol:  proto,
		Peer:      peer,
		StartedAt: time.Now(),
	}
}

// Finish stamps the duration and error of the exchange.
func (e *Exchange) Finish(err error) {
	e.Duration = time.Since(e.StartedAt)
	if err != nil {
		e.Error = err.Error()
	}
}

// Recorder persists exchanges.
type Recorder interface {
	Record(ctx context.Context, ex Exchange) error
}

// Nop discards every exchange.
type Nop struct{}

func (Nop) Record(context.Context, Exchange) error { return nil }

// Multi fans an exchange out to several recorders.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ex Exchange) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, ex); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
