package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"wedding-bet-service/internal/app"
	"wedding-bet-service/internal/domain"
)

// DefaultChannel carries collection changes between instances.
const DefaultChannel = "wedding-bets:changes"

// ChangeBus publishes collection changes over Redis pub/sub and relays changes
// from every instance (this one included) into the local notifier.
type ChangeBus struct {
	client  *redis.Client
	channel string
	local   app.Notifier
	log     zerolog.Logger
	ready   chan struct{}
}

func NewChangeBus(client *redis.Client, channel string, local app.Notifier, log zerolog.Logger) *ChangeBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &ChangeBus{
		client:  client,
		channel: channel,
		local:   local,
		log:     log.With().Str("component", "change-bus").Logger(),
		ready:   make(chan struct{}),
	}
}

// Publish implements app.Notifier. If Redis is unreachable the change is
// still delivered to local subscribers.
func (b *ChangeBus) Publish(ctx context.Context, change domain.Change) {
	data, err := json.Marshal(change)
	if err == nil {
		err = b.client.Publish(ctx, b.channel, data).Err()
	}
	if err != nil {
		b.log.Warn().Err(err).Str("collection", change.Collection).Msg("publish change failed, delivering locally")
		b.local.Publish(ctx, change)
	}
}

// Ready is closed once Run is subscribed.
func (b *ChangeBus) Ready() <-chan struct{} {
	return b.ready
}

// Run relays bus messages to the local notifier until ctx is done.
func (b *ChangeBus) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	close(b.ready)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var change domain.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.log.Warn().Err(err).Msg("dropping malformed change")
				continue
			}
			b.local.Publish(ctx, change)
		}
	}
}
