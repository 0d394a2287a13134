package changefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/CUknot/locshare/config"
	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/metrics"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("changefeed: bus closed")

// Bus carries events between sources and subscribers. The in-process
// variant serves a single replica; the NATS variant lets every replica see
// changes written through any other.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	breaker    *gobreaker.CircuitBreaker[any]
	logger     watermill.LoggerAdapter
	bufferSize int

	mu     sync.RWMutex
	closed bool
}

// NewBus picks NATS when cfg.NATSURL is set and the in-process channel otherwise.
func NewBus(cfg config.FeedConfig) (*Bus, error) {
	if cfg.NATSURL != "" {
		return NewNATSBus(cfg.NATSURL, cfg.BufferSize)
	}
	return NewInProcessBus(cfg.BufferSize), nil
}

// NewInProcessBus returns a bus backed by watermill's gochannel.
func NewInProcessBus(bufferSize int) *Bus {
	logger := logging.NewWatermillAdapter()
	// Waiting for the ack keeps events of one publisher in order; subscribers
	// ack as soon as the payload is decoded.
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            int64(bufferSize),
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	return newBus(ch, ch, logger, bufferSize)
}

// NewNATSBus returns a bus over core NATS. Every subscriber gets every
// message of its subject; there is no queue group and no persistence.
func NewNATSBus(url string, bufferSize int) (*Bus, error) {
	logger := logging.NewWatermillAdapter()

	natsOpts := []natsgo.Option{
		natsgo.Name("locshare-feed"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		SubscribersCount: 1,
		CloseTimeout:     5 * time.Second,
		AckWaitTimeout:   30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return newBus(pub, sub, logger, bufferSize), nil
}

func newBus(pub message.Publisher, sub message.Subscriber, logger watermill.LoggerAdapter, bufferSize int) *Bus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "feed-publish",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.FeedBreakerState.Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Feed publish circuit breaker changed state")
		},
	})
	return &Bus{
		publisher:  pub,
		subscriber: sub,
		breaker:    breaker,
		logger:     logger,
		bufferSize: bufferSize,
	}
}

// Publish sends ev on its room's topic. Failures are counted and returned;
// callers treat them as dropped events.
func (b *Bus) Publish(ctx context.Context, source string, ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("type", string(ev.Type))
	msg.Metadata.Set("room_id", ev.Row.RoomID)
	msg.Metadata.Set("source", source)

	_, err = b.breaker.Execute(func() (any, error) {
		return nil, b.publisher.Publish(Topic(ev.Row.RoomID), msg)
	})
	if err != nil {
		metrics.FeedPublishFailures.Inc()
		return fmt.Errorf("publish change event: %w", err)
	}
	metrics.RecordFeedEvent(source, string(ev.Type))
	return nil
}

// Subscribe implements Feed.
func (b *Bus) Subscribe(ctx context.Context, roomID string) (<-chan Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	messages, err := b.subscriber.Subscribe(ctx, Topic(roomID))
	if err != nil {
		return nil, fmt.Errorf("subscribe to room %s: %w", roomID, err)
	}

	out := make(chan Event, b.bufferSize)
	go func() {
		defer close(out)
		for msg := range messages {
			ev, err := decodeEvent(msg.Payload)
			msg.Ack()
			if err != nil {
				logging.Warn().Err(err).Str("room_id", roomID).Msg("Dropping malformed change event")
				continue
			}
			if ev.Row.RoomID != roomID {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts both sides down. Open subscriptions end with a closed channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	// The in-process channel is both sides; closing it twice is a no-op.
	return errors.Join(b.publisher.Close(), b.subscriber.Close())
}
