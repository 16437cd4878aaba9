package redis

import (
	"context"

	"github.com/jdziat/simple-flow-queue/pkg/core"
)

// Subscribe streams the events of queue until ctx is done. Events published
// while no subscriber listens are lost.
func (s *Store) Subscribe(ctx context.Context, queue string) (<-chan core.Event, error) {
	ps := s.client.Subscribe(ctx, s.eventsChannel(queue))
	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, wrapErr("subscribe", err)
	}

	out := make(chan core.Event, 100)
	msgs := ps.Channel()
	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := core.DecodeEvent([]byte(msg.Payload))
				if err != nil {
					s.logger.Warn("dropping malformed event", "queue", queue, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
