package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AuditWriter decouples the execution path from registry writes: records
// are buffered on a channel and written by a background goroutine with
// retries, so a slow or briefly unavailable database never blocks a
// sandbox run.
type AuditWriter struct {
	db   *DB
	ch   chan auditEntry
	wg   sync.WaitGroup
	done chan struct{}
}

type auditEntry struct {
	validation *ValidationRecord
	execution  *ExecutionRecord
	violation  *ViolationRecord
}

func NewAuditWriter(db *DB, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:   db,
		ch:   make(chan auditEntry, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// LogValidation enqueues a validation record; drops with a warning when
// the buffer is full.
func (w *AuditWriter) LogValidation(rec *ValidationRecord) {
	w.enqueue(auditEntry{validation: rec})
}

// LogExecution enqueues an execution record.
func (w *AuditWriter) LogExecution(rec *ExecutionRecord) {
	w.enqueue(auditEntry{execution: rec})
}

// LogViolation enqueues a violation record.
func (w *AuditWriter) LogViolation(rec *ViolationRecord) {
	w.enqueue(auditEntry{violation: rec})
}

func (w *AuditWriter) enqueue(e auditEntry) {
	select {
	case w.ch <- e:
	default:
		log.Warn().Msg("audit buffer full, dropping record")
	}
}

// Flush stops the writer, draining buffered records for up to timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case e := <-w.ch:
			w.writeWithRetry(e)
		case <-w.done:
			// Drain remaining entries
			for {
				select {
				case e := <-w.ch:
					w.writeWithRetry(e)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(e auditEntry) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.write(ctx, e)
		cancel()

		if err == nil {
			return
		}

		if attempt == maxRetries {
			log.Error().Err(err).Msg("audit write failed after retries, record lost")
			return
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
		time.Sleep(backoff)
	}
}

func (w *AuditWriter) write(ctx context.Context, e auditEntry) error {
	switch {
	case e.validation != nil:
		return w.db.LogValidation(ctx, e.validation)
	case e.execution != nil:
		return w.db.LogExecution(ctx, e.execution)
	case e.violation != nil:
		return w.db.LogViolation(ctx, e.violation)
	}
	return nil
}
