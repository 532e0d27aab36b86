// ABOUTME: AMQP bridge mirroring hub events across gateway instances
// ABOUTME: Publishes to a topic exchange and feeds consumed events into the local broadcaster

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// envelope is the wire format for bridged events. Origin carries the
// publishing instance ID so a bridge never re-delivers its own events.
type envelope struct {
	Origin  string          `json:"origin"`
	Channel string          `json:"channel"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge replicates broadcaster events through a RabbitMQ topic exchange so
// that subscribers connected to one gateway instance see events published on
// another. Delivery keeps the hub's at-least-once, no-replay contract.
type Bridge struct {
	conn       *amqp091.Connection
	pubCh      *amqp091.Channel
	exchange   string
	instanceID string
	local      *Broadcaster
	logger     *slog.Logger
}

// NewBridge connects to the broker, declares the topic exchange, binds an
// exclusive queue for this instance, and attaches itself as the
// broadcaster's mirror. The consume loop runs until ctx is cancelled.
func NewBridge(ctx context.Context, url, exchange string, local *Broadcaster, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hub-bridge")

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening publish channel: %w", err)
	}

	if err := pubCh.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}

	b := &Bridge{
		conn:       conn,
		pubCh:      pubCh,
		exchange:   exchange,
		instanceID: uuid.New().String(),
		local:      local,
		logger:     logger,
	}

	if err := b.startConsumer(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	local.SetMirror(b.mirror)
	logger.Info("AMQP bridge connected", "exchange", exchange, "instance_id", b.instanceID)
	return b, nil
}

// startConsumer binds an exclusive auto-deleted queue to every routing key
// and pumps remote events into the local broadcaster.
func (b *Bridge) startConsumer(ctx context.Context) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening consume channel: %w", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declaring queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "#", b.exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue: %w", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consume: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				ch.Close()
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				b.handleDelivery(d)
			}
		}
	}()

	return nil
}

func (b *Bridge) handleDelivery(d amqp091.Delivery) {
	var env envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		b.logger.Warn("dropping malformed bridged event", "error", err)
		return
	}

	// Skip events this instance published itself
	if env.Origin == b.instanceID {
		return
	}

	b.local.deliver(&Event{
		Channel: env.Channel,
		Name:    env.Name,
		Payload: env.Payload,
	})
}

// mirror publishes a locally originated event to the exchange.
// Best-effort: a broker hiccup must never fail the triggering operation.
func (b *Bridge) mirror(event *Event) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		b.logger.Warn("marshaling event payload", "event", event.Name, "error", err)
		return
	}

	body, err := json.Marshal(envelope{
		Origin:  b.instanceID,
		Channel: event.Channel,
		Name:    event.Name,
		Payload: payload,
	})
	if err != nil {
		b.logger.Warn("marshaling event envelope", "event", event.Name, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = b.pubCh.PublishWithContext(
		ctx, b.exchange, event.Channel, false, false,
		amqp091.Publishing{
			ContentType: "application/json",
			MessageId:   uuid.NewString(),
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		b.logger.Warn("publishing bridged event", "event", event.Name, "error", err)
	}
}

// Close detaches the bridge and closes the broker connection.
func (b *Bridge) Close() error {
	b.local.SetMirror(nil)
	return b.conn.Close()
}
