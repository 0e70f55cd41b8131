package redisstream

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reelchat/pkg/settings"
)

// TopicForConv names the per-conversation snapshot topic. With Redis enabled
// it is also the stream key.
func TopicForConv(convID string) string { return "reelchat:" + convID }

// PubSub carries transcript snapshots between a running flow and live
// viewers. It is backed by Redis Streams when enabled and by an in-process
// Go channel otherwise.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	settings settings.RedisSettings
	client   *redis.Client
	logger   watermill.LoggerAdapter
}

// BuildPubSub constructs the transport described by s.
func BuildPubSub(s settings.RedisSettings) (*PubSub, error) {
	logger := NewWatermillLogger(log.Logger)
	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return &PubSub{Publisher: ch, Subscriber: ch, settings: s, logger: logger}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis subscriber")
	}

	return &PubSub{Publisher: pub, Subscriber: sub, settings: s, client: client, logger: logger}, nil
}

func (p *PubSub) RedisEnabled() bool { return p != nil && p.client != nil }

// SubscriberFor returns the subscriber a viewer of convID should read from.
// With Redis each viewer joins its own consumer group positioned at the tail,
// so every viewer sees every snapshot; the returned bool reports whether the
// caller owns (and must close) the subscriber.
func (p *PubSub) SubscriberFor(ctx context.Context, convID, viewer string) (message.Subscriber, bool, error) {
	if p == nil {
		return nil, false, errors.New("pubsub is not initialized")
	}
	if convID == "" {
		return nil, false, errors.New("convID is empty")
	}
	if !p.RedisEnabled() {
		return p.Subscriber, false, nil
	}
	if ctx == nil {
		return nil, false, errors.New("ctx is nil")
	}
	group := p.settings.Group + ":" + viewer
	if err := EnsureGroupAtTail(ctx, p.client, TopicForConv(convID), group); err != nil {
		return nil, false, err
	}
	sub, err := BuildGroupSubscriber(p.client, group, p.settings.Consumer, p.logger)
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (p *PubSub) Close() error {
	if p == nil {
		return nil
	}
	var errs []string
	if err := p.Publisher.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if p.RedisEnabled() {
		if err := p.Subscriber.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := p.client.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("closing pubsub: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BuildGroupSubscriber returns a Redis Streams subscriber bound to the given consumer group/name.
func BuildGroupSubscriber(client *redis.Client, group, consumer string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logger)
}

// EnsureGroupAtTail creates the consumer group for a given stream at the tail ($) if it doesn't exist.
// This prevents full historical replay on first subscribe.
func EnsureGroupAtTail(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// Ignore BUSYGROUP errors (group already exists)
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "create consumer group")
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
