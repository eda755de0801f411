package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

var ErrPubSubClosed = errors.New("redis pubsub: closed")

var (
	_ message.Publisher  = (*RedisPubSub)(nil)
	_ message.Subscriber = (*RedisPubSub)(nil)
)

// RedisPubSub carries watermill messages over redis PUBLISH/SUBSCRIBE.
// Redis pub/sub is fire-and-forget: a nack is logged, never redelivered.
type RedisPubSub struct {
	client redis.UniversalClient
	logger watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// redisEnvelope keeps uuid and metadata next to the payload on the wire.
type redisEnvelope struct {
	UUID     string            `json:"uuid"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  []byte            `json:"payload"`
}

func NewRedisPubSub(client redis.UniversalClient, logger watermill.LoggerAdapter) *RedisPubSub {
	return &RedisPubSub{
		client:  client,
		logger:  logger,
		closing: make(chan struct{}),
	}
}

func (p *RedisPubSub) Publish(topic string, msgs ...*message.Message) error {
	select {
	case <-p.closing:
		return ErrPubSubClosed
	default:
	}

	for _, msg := range msgs {
		data, err := encodeEnvelope(msg)
		if err != nil {
			return err
		}
		if err := p.client.Publish(msg.Context(), topic, data).Err(); err != nil {
			return fmt.Errorf("redis pubsub: publish %s: %w", topic, err)
		}
	}
	return nil
}

func (p *RedisPubSub) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	select {
	case <-p.closing:
		return nil, ErrPubSubClosed
	default:
	}

	sub := p.client.Subscribe(ctx, topic)
	// [CONFIRMATION] wait for the subscription to be active before reporting success
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis pubsub: subscribe %s: %w", topic, err)
	}

	out := make(chan *message.Message)
	logFields := watermill.LogFields{"topic": topic}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.closing:
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				msg, err := decodeEnvelope([]byte(raw.Payload))
				if err != nil {
					p.logger.Error("Dropping undecodable redis message", err, logFields)
					continue
				}
				if !p.deliver(ctx, out, msg, logFields) {
					return
				}
			}
		}
	}()

	return out, nil
}

// deliver hands msg to the consumer and waits for it to be settled.
func (p *RedisPubSub) deliver(ctx context.Context, out chan<- *message.Message, msg *message.Message, fields watermill.LogFields) bool {
	msgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	msg.SetContext(msgCtx)

	select {
	case out <- msg:
	case <-ctx.Done():
		return false
	case <-p.closing:
		return false
	}

	select {
	case <-msg.Acked():
	case <-msg.Nacked():
		p.logger.Info("Message nacked, redis pub/sub cannot redeliver", fields.Add(watermill.LogFields{"uuid": msg.UUID}))
	case <-ctx.Done():
		return false
	case <-p.closing:
		return false
	}
	return true
}

func (p *RedisPubSub) Close() error {
	p.closeOnce.Do(func() {
		close(p.closing)
	})
	p.wg.Wait()
	return nil
}

func encodeEnvelope(msg *message.Message) ([]byte, error) {
	data, err := json.Marshal(redisEnvelope{
		UUID:     msg.UUID,
		Metadata: msg.Metadata,
		Payload:  msg.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("redis pubsub: encode %s: %w", msg.UUID, err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (*message.Message, error) {
	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("redis pubsub: decode: %w", err)
	}
	if env.UUID == "" {
		env.UUID = watermill.NewUUID()
	}
	msg := message.NewMessage(env.UUID, env.Payload)
	for k, v := range env.Metadata {
		msg.Metadata.Set(k, v)
	}
	return msg, nil
}
