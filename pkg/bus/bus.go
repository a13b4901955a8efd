// Package bus carries every message between the constellation, the pipelines'
// script and layout workers and the compositor. Endpoints are addressed by
// subject; MemoryBus serves a single-process engine and NATSBus lets content
// hosts run in other processes.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/constellation/pkg/protocol"
)

var (
	ErrTimeout      = errors.New("bus: request timed out")
	ErrNoResponders = errors.New("bus: no responders")
	ErrClosed       = errors.New("bus: closed")
)

// MessageBus is safe for concurrent use.
type MessageBus interface {
	// Publish is fire and forget.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe runs handler for each message on subject, one at a time and
	// in publish order. "*" matches one token and ">" the rest, so
	// "constellation.pipeline.*.script" reaches every script worker.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe hands each message to exactly one member of queue.
	QueueSubscribe(ctx context.Context, subject, queue string, handler MessageHandler) (Subscription, error)

	// Request returns the first reply. It fails with ErrNoResponders when
	// nothing is subscribed and ErrTimeout when nothing answers in time.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	Close() error
}

// MessageHandler returns the reply for a request, or nil.
type MessageHandler func(msg *Message) []byte

type Message struct {
	Subject string
	Data    []byte
	ReplyTo string
}

// Subscription is an endpoint's registration. Unsubscribe may be called from
// inside its own handler.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config selects the NATS server a NATSBus dials.
type Config struct {
	URL     string
	Name    string
	Timeout time.Duration // default request timeout
}

const defaultRequestTimeout = 5 * time.Second

// Subjects used by the engine.
const (
	// SubjectInbox receives every script worker -> constellation message.
	SubjectInbox = "constellation.inbox"
	// SubjectCompositor receives layout worker frame updates.
	SubjectCompositor = "constellation.compositor"
	// SubjectSpawn is the queue-subscribed subject content hosts listen on.
	SubjectSpawn = "constellation.spawn"
	// SpawnQueue is the queue group content hosts join.
	SpawnQueue = "content-hosts"
)

// ScriptSubject is the subject a pipeline's script worker listens on.
func ScriptSubject(id protocol.PipelineID) string {
	return fmt.Sprintf("constellation.pipeline.%d.script", uint64(id))
}

// LayoutSubject is the subject a pipeline's layout worker listens on.
func LayoutSubject(id protocol.PipelineID) string {
	return fmt.Sprintf("constellation.pipeline.%d.layout", uint64(id))
}
