package rating

import (
	"github.com/fortressi/coursesaga/bus"
	"github.com/fortressi/coursesaga/event"
)

// Consumer groups used on the bus.
const (
	GroupAggregate   = "rating-aggregate"
	GroupDeadLetter  = "rating-dead-letter"
	GroupCompensator = "rating-compensator"
)

// Subscriber is the subscription side of the bus.
type Subscriber interface {
	Subscribe(topic, group string, h bus.Handler) error
	DeadLetterTopic(topic string) string
}

// Subscribe attaches the consumer, the dead-letter relay and the
// compensator to their topics.
func Subscribe(s Subscriber, consumer *Consumer, relay *DeadLetterRelay, compensator *Compensator) error {
	if err := s.Subscribe(event.TopicRatings, GroupAggregate, consumer.Handle); err != nil {
		return err
	}
	if err := s.Subscribe(s.DeadLetterTopic(event.TopicRatings), GroupDeadLetter, relay.Handle); err != nil {
		return err
	}
	return s.Subscribe(event.TopicRatingResponses, GroupCompensator, compensator.Handle)
}
