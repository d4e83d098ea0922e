package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/bz888/studyhelper/internal/controller"
	"github.com/bz888/studyhelper/internal/logger"
	"github.com/pkg/errors"
)

const (
	Topic = "chat.events"

	sequenceKey = "sequence_number"
)

// Bus publishes controller events to any number of subscribers. Publishing blocks
// until every subscriber acked, so each subscriber sees the events in emission order.
type Bus struct {
	pubSub *gochannel.GoChannel
	log    *logger.Logger

	mu       sync.Mutex
	sequence uint64
}

func NewBus() *Bus {
	log := logger.NewLogger("events")
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, NewZerologAdapter(log.Logger)),
		log: log,
	}
}

// Emit implements controller.Sink.
func (b *Bus) Emit(ev controller.Event) {
	if err := b.Publish(ev); err != nil {
		b.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("failed to publish")
	}
}

func (b *Bus) Publish(ev controller.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(sequenceKey, strconv.FormatUint(b.sequence, 10))
	b.sequence++

	return b.pubSub.Publish(Topic, msg)
}

// Subscribe delivers every event published after the call. The channel is closed
// when ctx is done or the bus is closed. Every message has to be acked.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubSub.Subscribe(ctx, Topic)
}

// Decode turns a message back into the event and its sequence number.
func Decode(msg *message.Message) (controller.Event, uint64, error) {
	var ev controller.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, 0, errors.Wrap(err, "failed to decode event")
	}
	seq, err := strconv.ParseUint(msg.Metadata.Get(sequenceKey), 10, 64)
	if err != nil {
		return ev, 0, errors.Wrap(err, "invalid sequence number")
	}
	return ev, seq, nil
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
