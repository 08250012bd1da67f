package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// Publisher moves one broadcast payload to one operator.
type Publisher interface {
	Publish(ctx context.Context, operator string, payload []byte) error
	Close() error
}

// BroadcastMessage is the payload each operator receives.
type BroadcastMessage struct {
	Operator string `json:"operator"`
	Notification
}

type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// Broadcast sends a notification to every registered operator. It succeeds
// only when every operator publish succeeds.
type Broadcast struct {
	Operators []string
	Publisher Publisher
	breaker   *gobreaker.CircuitBreaker
}

func NewBroadcast(operators []string, publisher Publisher, bs BreakerSettings) *Broadcast {
	if bs.ConsecutiveFailures == 0 {
		bs.ConsecutiveFailures = 5
	}
	if bs.MaxRequests == 0 {
		bs.MaxRequests = 1
	}
	if bs.Timeout == 0 {
		bs.Timeout = 30 * time.Second
	}
	trip := bs.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "broadcast",
		MaxRequests: bs.MaxRequests,
		Interval:    bs.Interval,
		Timeout:     bs.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
	})
	return &Broadcast{Operators: operators, Publisher: publisher, breaker: cb}
}

func (b *Broadcast) Name() string { return "broadcast" }

func (b *Broadcast) Send(ctx context.Context, n Notification) error {
	if len(b.Operators) == 0 {
		return errors.New("no operators registered for broadcast")
	}
	var errs []error
	for _, operator := range b.Operators {
		payload, err := json.Marshal(BroadcastMessage{Operator: operator, Notification: n})
		if err != nil {
			return fmt.Errorf("encode broadcast: %w", err)
		}
		_, err = b.breaker.Execute(func() (interface{}, error) {
			return nil, b.Publisher.Publish(ctx, operator, payload)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("operator %s: %w", operator, err))
		}
	}
	return errors.Join(errs...)
}

// State reports the circuit breaker state.
func (b *Broadcast) State() string {
	return b.breaker.State().String()
}
