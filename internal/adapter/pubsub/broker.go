package pubsub

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/webitel/action-gateway/config"
)

// Broker is the publisher/subscriber pair behind the cluster channel.
type Broker struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// NewMemoryBroker is a single-process bus; every subscriber gets every message.
func NewMemoryBroker(logger watermill.LoggerAdapter) *Broker {
	ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024}, logger)
	return &Broker{Publisher: ch, Subscriber: ch}
}

// NewBroker builds the configured driver. The redis client is used only by the redis driver.
func NewBroker(cfg *config.Config, client redis.UniversalClient, logger watermill.LoggerAdapter) (*Broker, error) {
	switch cfg.Cluster.Broker {
	case config.BrokerMemory:
		return NewMemoryBroker(logger), nil

	case config.BrokerAMQP:
		// [FANOUT] one exchange per topic, one private queue per node: every node sees every message
		amqpCfg := amqp.NewNonDurablePubSubConfig(
			cfg.Cluster.AMQPURL,
			amqp.GenerateQueueNameTopicNameWithSuffix(cfg.ServerID),
		)
		pub, err := amqp.NewPublisher(amqpCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("broker: amqp publisher: %w", err)
		}
		sub, err := amqp.NewSubscriber(amqpCfg, logger)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("broker: amqp subscriber: %w", err)
		}
		return &Broker{Publisher: pub, Subscriber: sub}, nil

	case config.BrokerRedis:
		ps := NewRedisPubSub(client, logger)
		return &Broker{Publisher: ps, Subscriber: ps}, nil

	default:
		return nil, fmt.Errorf("broker: unsupported driver %q", cfg.Cluster.Broker)
	}
}

// Close releases both sides. Shared implementations tolerate a double close.
func (b *Broker) Close() error {
	return errors.Join(b.Subscriber.Close(), b.Publisher.Close())
}
