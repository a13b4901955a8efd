package transport

import (
	"context"

	"github.com/odvcencio/constellation/pkg/bus"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// Handler processes one envelope on the receiving side of a channel. A non-nil
// error refuses the envelope; the sender sees a Nack and breaks the channel.
type Handler func(env *protocol.Envelope) error

// Serve subscribes handler to subject and acknowledges every envelope it
// accepts. Envelopes are handled one at a time, in send order.
func Serve(ctx context.Context, b bus.MessageBus, subject string, handler Handler) (bus.Subscription, error) {
	return b.Subscribe(ctx, subject, func(msg *bus.Message) []byte {
		env, err := protocol.Unmarshal(msg.Data)
		if err != nil {
			recordMalformed()
			return encodeReply(protocol.Nack("", err.Error()))
		}
		if err := handler(env); err != nil {
			return encodeReply(protocol.Nack(env.RequestID, err.Error()))
		}
		return encodeReply(protocol.Ack(env.RequestID))
	})
}

// Listen subscribes fn to one-way envelopes published on subject, such as
// the constellation inbox. Undecodable messages are counted and skipped.
func Listen(ctx context.Context, b bus.MessageBus, subject string, fn func(env *protocol.Envelope)) (bus.Subscription, error) {
	return b.Subscribe(ctx, subject, func(msg *bus.Message) []byte {
		env, err := protocol.Unmarshal(msg.Data)
		if err != nil {
			recordMalformed()
			return nil
		}
		fn(env)
		return nil
	})
}

// Publish sends a one-way envelope. Workers use it to report to the
// constellation and the compositor, which never acknowledge.
func Publish(ctx context.Context, b bus.MessageBus, subject string, env *protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	return b.Publish(ctx, subject, data)
}

func encodeReply(env *protocol.Envelope) []byte {
	data, _ := protocol.Marshal(env)
	return data
}
