package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/events"
)

// PublisherSink forwards each event to a message bus topic.
type PublisherSink struct {
	publisher crawler.Publisher
	topic     string
	closer    func() error
}

// NewPublisherSink builds a sink publishing to topic. closer, if set, runs on Close.
func NewPublisherSink(publisher crawler.Publisher, topic string, closer func() error) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic, closer: closer}
}

// Consume publishes every event in order and returns the joined errors.
func (s *PublisherSink) Consume(ctx context.Context, batch []events.Event) error {
	if s.publisher == nil {
		return errors.New("publisher is not configured")
	}
	var errs []error
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			errs = append(errs, fmt.Errorf("publish %s %s: %w", evt.Kind, evt.URLID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements events.Sink.
func (s *PublisherSink) Close(context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
