// Package batcher turns a cluster index into filtered, fixed-size batches
// handed to a publisher.
package batcher

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/ccextract/internal/pipeline"
)

// DefaultBatchSize is the number of records per published batch.
const DefaultBatchSize = 50

// PointerSource yields index chunk pointers in file order.
type PointerSource interface {
	Len() int
	Next() (pipeline.ChunkPointer, error)
}

// Config controls batching.
type Config struct {
	BatchSize int
	Filter    Filter
}

// Stats summarizes a run.
type Stats struct {
	Chunks   int
	Records  int
	Filtered int
	Batches  int
}

// Batcher streams chunks, filters their records and publishes batches.
type Batcher struct {
	downloader pipeline.RangeDownloader
	publisher  pipeline.BatchPublisher
	cfg        Config
	observer   pipeline.BatchObserver
	logger     *zap.Logger
}

// New constructs a Batcher. A zero BatchSize uses DefaultBatchSize and a zero
// Filter uses DefaultFilter.
func New(
	downloader pipeline.RangeDownloader,
	publisher pipeline.BatchPublisher,
	cfg Config,
	observer pipeline.BatchObserver,
	logger *zap.Logger,
) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Filter == (Filter{}) {
		cfg.Filter = DefaultFilter()
	}
	if observer == nil {
		observer = pipeline.NopBatchObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		downloader: downloader,
		publisher:  publisher,
		cfg:        cfg,
		observer:   observer,
		logger:     logger,
	}
}

// Run consumes every pointer from index. The first transfer, decode or
// delivery error stops the run and is returned with the stats so far.
func (b *Batcher) Run(ctx context.Context, index PointerSource) (Stats, error) {
	var (
		stats   Stats
		pending = make(pipeline.Batch, 0, b.cfg.BatchSize)
	)
	total := index.Len()

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := b.publisher.Publish(ctx, pending); err != nil {
			return fmt.Errorf("publish batch %d: %w", stats.Batches+1, err)
		}
		stats.Batches++
		pending = make(pipeline.Batch, 0, b.cfg.BatchSize)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("batcher canceled: %w", err)
		}
		ptr, err := index.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read index: %w", err)
		}

		data, err := b.downloader.Fetch(ctx, ptr)
		if err != nil {
			b.logger.Error("fetch index chunk failed", zap.Stringer("chunk", ptr), zap.Error(err))
			return stats, err
		}
		records, err := DecodeRecords(data)
		if err != nil {
			b.logger.Error("decode index chunk failed", zap.Stringer("chunk", ptr), zap.Error(err))
			return stats, err
		}

		for _, rec := range records {
			stats.Records++
			if !b.cfg.Filter.Accept(rec) {
				stats.Filtered++
				b.observer.RecordFiltered(rec)
				continue
			}
			pending = append(pending, rec)
			if len(pending) == b.cfg.BatchSize {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		}

		stats.Chunks++
		b.observer.ChunkProcessed(stats.Chunks, total)
		b.logger.Debug("index chunk processed",
			zap.Stringer("chunk", ptr),
			zap.Int("records", len(records)),
			zap.Int("done", stats.Chunks),
			zap.Int("total", total),
		)
	}

	if err := flush(); err != nil {
		return stats, err
	}
	b.logger.Info("index exhausted",
		zap.Int("chunks", stats.Chunks),
		zap.Int("records", stats.Records),
		zap.Int("filtered", stats.Filtered),
		zap.Int("batches", stats.Batches),
	)
	return stats, nil
}
