package liveview

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/reelchat/pkg/chat"
	"github.com/go-go-golems/reelchat/pkg/redisstream"
)

type StreamCursor struct {
	StreamID string
	Seq      uint64
}

// StreamCoordinator owns the subscriber for one conversation topic, decodes
// transcript snapshots and dispatches them in order. Snapshots older than the
// last one delivered from the same transcript epoch are dropped, and so is
// anything from an epoch that has been replaced.
type StreamCoordinator struct {
	convID     string
	subscriber message.Subscriber

	onSnapshot func(chat.Snapshot, StreamCursor)

	seq         atomic.Uint64
	epoch       string
	lastVersion uint64
	retired     map[string]struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

func NewStreamCoordinator(
	convID string,
	subscriber message.Subscriber,
	onSnapshot func(chat.Snapshot, StreamCursor),
) *StreamCoordinator {
	return &StreamCoordinator{
		convID:     convID,
		subscriber: subscriber,
		onSnapshot: onSnapshot,
	}
}

// Start subscribes synchronously, so snapshots published after Start returns
// are delivered, and consumes in the background.
func (sc *StreamCoordinator) Start(ctx context.Context) error {
	if sc == nil || sc.subscriber == nil {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.running {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch, err := sc.subscriber.Subscribe(runCtx, redisstream.TopicForConv(sc.convID))
	if err != nil {
		cancel()
		return errors.Wrap(err, "stream coordinator: subscribe")
	}
	sc.cancel = cancel
	sc.running = true
	sc.done = make(chan struct{})

	go sc.consume(ch, sc.done)
	return nil
}

func (sc *StreamCoordinator) Stop() {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.cancel = nil
	sc.running = false
	sc.mu.Unlock()
}

func (sc *StreamCoordinator) Close() {
	if sc == nil {
		return
	}
	sc.Stop()
	if sc.subscriber != nil {
		if err := sc.subscriber.Close(); err != nil {
			log.Warn().Err(err).Str("component", "liveview").Str("conv_id", sc.convID).Msg("stream coordinator: subscriber close failed")
		}
	}
}

func (sc *StreamCoordinator) IsRunning() bool {
	if sc == nil {
		return false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.running
}

// Done is closed when the consume loop of the latest Start exits.
func (sc *StreamCoordinator) Done() <-chan struct{} {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.done
}

func (sc *StreamCoordinator) consume(ch <-chan *message.Message, done chan struct{}) {
	defer close(done)
	log.Info().Str("component", "liveview").Str("conv_id", sc.convID).Msg("stream coordinator: started")
	for msg := range ch {
		snap, err := redisstream.DecodeSnapshot(msg)
		if err != nil {
			log.Warn().Err(err).Str("component", "liveview").Str("conv_id", sc.convID).Msg("stream coordinator: failed to decode snapshot")
			msg.Ack()
			continue
		}
		if sc.stale(msg.Metadata.Get(redisstream.EpochMetadataKey), snap.Version) {
			log.Debug().Str("component", "liveview").Str("conv_id", sc.convID).Uint64("version", snap.Version).Msg("stream coordinator: dropping stale snapshot")
			msg.Ack()
			continue
		}

		streamID := extractStreamID(msg)
		cur := StreamCursor{
			StreamID: streamID,
			Seq:      sc.nextSeq(streamID),
		}
		if sc.onSnapshot != nil {
			sc.onSnapshot(snap, cur)
		}
		msg.Ack()
	}
	log.Info().Str("component", "liveview").Str("conv_id", sc.convID).Msg("stream coordinator: stopped")
	sc.mu.Lock()
	sc.running = false
	sc.cancel = nil
	sc.mu.Unlock()
}

// stale reports whether a snapshot was already superseded. A snapshot from an
// epoch not seen before starts a new transcript and retires the current one.
func (sc *StreamCoordinator) stale(epoch string, version uint64) bool {
	if epoch != sc.epoch {
		if _, ok := sc.retired[epoch]; ok {
			return true
		}
		if sc.lastVersion > 0 {
			if sc.retired == nil {
				sc.retired = map[string]struct{}{}
			}
			sc.retired[sc.epoch] = struct{}{}
		}
		sc.epoch = epoch
		sc.lastVersion = version
		return false
	}
	if version <= sc.lastVersion {
		return true
	}
	sc.lastVersion = version
	return false
}

func (sc *StreamCoordinator) nextSeq(streamID string) uint64 {
	if streamID != "" {
		if derived, ok := deriveSeqFromStreamID(streamID); ok {
			for {
				current := sc.seq.Load()
				next := derived
				if next <= current {
					next = current + 1
				}
				if sc.seq.CompareAndSwap(current, next) {
					return next
				}
			}
		}
	}
	for {
		current := sc.seq.Load()
		now := uint64(time.Now().UnixMilli()) * 1_000_000
		next := now
		if next <= current {
			next = current + 1
		}
		if sc.seq.CompareAndSwap(current, next) {
			return next
		}
	}
}

func extractStreamID(msg *message.Message) string {
	if msg == nil || msg.Metadata == nil {
		return ""
	}
	keys := []string{"xid", "redis_xid"}
	for _, k := range keys {
		if v := msg.Metadata.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func deriveSeqFromStreamID(streamID string) (uint64, bool) {
	parts := strings.Split(streamID, "-")
	if len(parts) != 2 {
		return 0, false
	}
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, false
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return ms*1_000_000 + seq, true
}
