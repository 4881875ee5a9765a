// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"

	"github.com/ronnieholm/spo-analytics/internal/domain"
)

// Message is anything the agent can receive.
type Message interface {
	Kind() string
}

type VisitMessage struct {
	Visit domain.Visit
}

func (VisitMessage) Kind() string { return "visit" }

// Handler processes one message at a time. The agent never calls Handle
// concurrently.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
