package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/events"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.logger.Info("frontier event",
			zap.String("kind", string(evt.Kind)),
			zap.String("url_id", evt.URLID),
			zap.String("url", evt.URL),
			zap.String("domain", evt.Domain),
			zap.String("worker_id", evt.WorkerID),
			zap.String("method", string(evt.Method)),
			zap.Int("status", evt.StatusCode),
			zap.String("error_class", string(evt.ErrorClass)),
			zap.Int("attempt", evt.Attempt),
			zap.Duration("delay", evt.Delay),
			zap.String("reason", evt.Reason),
		)
	}
	return nil
}

// Close implements events.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
