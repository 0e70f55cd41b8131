package redisstream

import (
	"encoding/json"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reelchat/pkg/chat"
)

// EpochMetadataKey names the metadata entry identifying which transcript a
// snapshot came from. Versions are only comparable within one epoch.
const EpochMetadataKey = "epoch"

// SnapshotPublisher forwards transcript snapshots to the conversation topic.
type SnapshotPublisher struct {
	pub    message.Publisher
	epoch  string
	logger zerolog.Logger
}

func NewSnapshotPublisher(pub message.Publisher) *SnapshotPublisher {
	return &SnapshotPublisher{
		pub:    pub,
		epoch:  watermill.NewUUID(),
		logger: log.With().Str("component", "redisstream").Logger(),
	}
}

func (p *SnapshotPublisher) Publish(s chat.Snapshot) error {
	if p == nil || p.pub == nil {
		return errors.New("snapshot publisher is not initialized")
	}
	if s.ConvID == "" {
		return errors.New("snapshot has no conversation id")
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("conv_id", s.ConvID)
	msg.Metadata.Set("version", strconv.FormatUint(s.Version, 10))
	msg.Metadata.Set(EpochMetadataKey, p.epoch)
	if err := p.pub.Publish(TopicForConv(s.ConvID), msg); err != nil {
		return errors.Wrap(err, "publish snapshot")
	}
	return nil
}

// Attach publishes every future snapshot of tr under an epoch of its own.
// Publish failures are logged; the conversation itself never fails because a
// viewer transport is down.
func (p *SnapshotPublisher) Attach(tr *chat.Transcript) {
	attached := &SnapshotPublisher{pub: p.pub, epoch: watermill.NewUUID(), logger: p.logger}
	tr.Observe(func(s chat.Snapshot) {
		if err := attached.Publish(s); err != nil {
			p.logger.Warn().Err(err).Str("conv_id", s.ConvID).Uint64("version", s.Version).Msg("dropping snapshot")
		}
	})
}

func DecodeSnapshot(msg *message.Message) (chat.Snapshot, error) {
	var s chat.Snapshot
	if msg == nil {
		return s, errors.New("nil message")
	}
	if err := json.Unmarshal(msg.Payload, &s); err != nil {
		return s, errors.Wrap(err, "decode snapshot")
	}
	return s, nil
}
