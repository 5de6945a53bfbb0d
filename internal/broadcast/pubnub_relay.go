package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pubnub "github.com/pubnub/go"

	"temple-safety/monitoring"
	"temple-safety/utils"
)

// Publisher sends one message to an external realtime channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

type PubNubConfig struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
}

func NewPubNubPublisher(cfg PubNubConfig) Publisher {
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PublishKey
	pnConfig.SubscribeKey = cfg.SubscribeKey
	pnConfig.SecretKey = cfg.SecretKey

	return &pubnubPublisher{pn: pubnub.NewPubNub(pnConfig)}
}

func (p *pubnubPublisher) Publish(_ context.Context, channel string, message any) error {
	_, _, err := p.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	return err
}

// Relay mirrors every bus topic onto PubNub channels so browser clients that
// cannot hold a websocket to this process still get updates. The breaker
// skips PubNub while it is failing instead of stalling the relay loop.
type Relay struct {
	bus       *Bus
	publisher Publisher
	breaker   *utils.CircuitBreaker
	prefix    string
	monitor   *monitoring.Monitor
}

func NewRelay(bus *Bus, publisher Publisher, breaker *utils.CircuitBreaker, prefix string, monitor *monitoring.Monitor) *Relay {
	if breaker == nil {
		breaker = utils.NewCircuitBreaker("pubnub")
	}
	return &Relay{bus: bus, publisher: publisher, breaker: breaker, prefix: prefix, monitor: monitor}
}

// Channel maps a bus topic to a PubNub channel name, e.g. site:somnath ->
// temple-safety-site-somnath.
func (r *Relay) Channel(topic string) string {
	name := strings.ReplaceAll(topic, ":", "-")
	if r.prefix == "" {
		return name
	}
	return fmt.Sprintf("%s-%s", r.prefix, name)
}

// Run forwards bus events until ctx is cancelled or the bus closes.
func (r *Relay) Run(ctx context.Context) {
	sub := r.bus.SubscribeAll()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			r.forward(ctx, env)
		}
	}
}

func (r *Relay) forward(ctx context.Context, env Envelope) {
	channel := r.Channel(env.Topic)
	_, err := r.breaker.Execute(ctx, func() (any, error) {
		return nil, r.publisher.Publish(ctx, channel, env.Event)
	})
	r.monitor.TrackRelayPublish(err)
	if err != nil {
		slog.Debug("relay publish failed", "channel", channel, "event", env.Event.Name, "error", err)
	}
}
