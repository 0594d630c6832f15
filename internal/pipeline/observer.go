package pipeline

import "time"

// NopBatchObserver discards all batching events.
type NopBatchObserver struct{}

func (NopBatchObserver) ChunkProcessed(int, int) {}
func (NopBatchObserver) RecordFiltered(IndexRecord) {}
func (NopBatchObserver) BatchPublished(int) {}
func (NopBatchObserver) PublishAttempt(int, error) {}
func (NopBatchObserver) PublishRetry(int, time.Duration) {}

// NopWorkObserver discards all extraction events.
type NopWorkObserver struct{}

func (NopWorkObserver) BatchConsumed(int, error) {}
func (NopWorkObserver) RecordProcessed(error) {}
func (NopWorkObserver) DocumentStored(string, int) {}

// MultiBatchObserver fans batching events out to several observers.
type MultiBatchObserver []BatchObserver

func (m MultiBatchObserver) ChunkProcessed(done, total int) {
	for _, o := range m {
		o.ChunkProcessed(done, total)
	}
}

func (m MultiBatchObserver) RecordFiltered(record IndexRecord) {
	for _, o := range m {
		o.RecordFiltered(record)
	}
}

func (m MultiBatchObserver) BatchPublished(size int) {
	for _, o := range m {
		o.BatchPublished(size)
	}
}

func (m MultiBatchObserver) PublishAttempt(attempt int, err error) {
	for _, o := range m {
		o.PublishAttempt(attempt, err)
	}
}

func (m MultiBatchObserver) PublishRetry(attempt int, wait time.Duration) {
	for _, o := range m {
		o.PublishRetry(attempt, wait)
	}
}

// MultiWorkObserver fans extraction events out to several observers.
type MultiWorkObserver []WorkObserver

func (m MultiWorkObserver) BatchConsumed(size int, err error) {
	for _, o := range m {
		o.BatchConsumed(size, err)
	}
}

func (m MultiWorkObserver) RecordProcessed(err error) {
	for _, o := range m {
		o.RecordProcessed(err)
	}
}

func (m MultiWorkObserver) DocumentStored(key string, bytes int) {
	for _, o := range m {
		o.DocumentStored(key, bytes)
	}
}
