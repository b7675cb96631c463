// Package retention removes old events, archiving them first when an archive
// store is configured.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/sdko-org/trackerspotter/internal/export"
	"github.com/sdko-org/trackerspotter/internal/models"
	"github.com/sdko-org/trackerspotter/internal/storage"
	"github.com/sirupsen/logrus"
)

const DefaultBatchSize = 5000

// EventLog is the part of the store the purger needs.
type EventLog interface {
	ExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.AnnounceEvent, error)
	DeleteIDs(ctx context.Context, ids []uint64) (int64, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Purger struct {
	logger    *logrus.Logger
	events    EventLog
	archiver  storage.Archiver
	period    time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewPurger keeps events for period. A nil archiver deletes without archiving.
func NewPurger(logger *logrus.Logger, events EventLog, archiver storage.Archiver, period, interval time.Duration) *Purger {
	return &Purger{
		logger:    logger,
		events:    events,
		archiver:  archiver,
		period:    period,
		interval:  interval,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
}

func (p *Purger) Start(ctx context.Context) {
	logEntry := p.logger.WithField("component", "retention_purger")
	if p.period <= 0 {
		logEntry.Info("Retention disabled, events are kept forever")
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logEntry.WithFields(logrus.Fields{
		"period":   p.period,
		"interval": p.interval,
		"archive":  p.archiver != nil,
	}).Info("Starting retention purger")

	p.runPass(ctx, logEntry)
	for {
		select {
		case <-ticker.C:
			p.runPass(ctx, logEntry)
		case <-ctx.Done():
			logEntry.Info("Stopping retention purger")
			return
		}
	}
}

func (p *Purger) runPass(ctx context.Context, log *logrus.Entry) {
	log = log.WithField("operation", "retention_purge")
	deleted, err := p.Purge(ctx)
	if err != nil {
		log.WithError(err).WithField("deleted", deleted).Error("Retention purge failed")
		return
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("Expired events purged")
	}
}

// Purge runs one pass and returns the number of events deleted. When archiving
// fails the affected batch is left in place.
func (p *Purger) Purge(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.period)
	if p.archiver == nil {
		return p.events.DeleteBefore(ctx, cutoff)
	}

	var total int64
	for {
		batch, err := p.events.ExpiredBefore(ctx, cutoff, p.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		body, err := export.EncodeJSONLGzip(batch)
		if err != nil {
			return total, fmt.Errorf("encode archive: %w", err)
		}
		if err := p.archiver.Put(ctx, archiveKey(batch), body, "application/gzip"); err != nil {
			return total, fmt.Errorf("archive batch: %w", err)
		}

		ids := make([]uint64, len(batch))
		for i := range batch {
			ids[i] = batch[i].ID
		}
		n, err := p.events.DeleteIDs(ctx, ids)
		total += n
		if err != nil {
			return total, err
		}
		if len(batch) < p.batchSize {
			return total, nil
		}
	}
}

// archiveKey names a batch by day and id range, e.g.
// 2024/05/01/announces-17-42.jsonl.gz.
func archiveKey(batch []models.AnnounceEvent) string {
	first, last := batch[0], batch[len(batch)-1]
	return fmt.Sprintf("%s/announces-%d-%d.jsonl.gz",
		first.Timestamp.UTC().Format("2006/01/02"), first.ID, last.ID)
}
