package deadletter

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
)

// Tee records into a primary queryable sink and mirrors every record to
// secondary recorders. Only primary failures are returned; mirror failures
// are logged.
type Tee struct {
	primary crawler.DeadLetterSink
	mirrors []crawler.DeadLetterRecorder
	logger  *zap.Logger
}

// NewTee builds a Tee.
func NewTee(primary crawler.DeadLetterSink, logger *zap.Logger, mirrors ...crawler.DeadLetterRecorder) *Tee {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tee{primary: primary, mirrors: mirrors, logger: logger.Named("deadletter")}
}

// Record implements crawler.DeadLetterRecorder.
func (t *Tee) Record(ctx context.Context, rec crawler.DeadLetterRecord) error {
	if t.primary == nil {
		return errors.New("dead letter sink is not configured")
	}
	if err := t.primary.Record(ctx, rec); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.Record(ctx, rec); err != nil {
			t.logger.Warn("dead letter mirror failed",
				zap.String("url_id", rec.URLID), zap.String("reason", rec.Reason), zap.Error(err))
		}
	}
	return nil
}

// List delegates to the primary sink.
func (t *Tee) List(ctx context.Context, limit int) ([]crawler.DeadLetterRecord, error) {
	return t.primary.List(ctx, limit)
}
