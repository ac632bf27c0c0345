// Package bulk orchestrates one unit of queue work: accumulate incoming
// events into batches, submit ready batches to the CRM bulk API, and report
// per-message delivery outcomes.
package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/finrelay/finrelay/internal/domain/event"
	"github.com/finrelay/finrelay/internal/infrastructure/accumulator"
	"github.com/finrelay/finrelay/internal/infrastructure/queue"
	"github.com/finrelay/finrelay/internal/infrastructure/salesforce"
	"github.com/finrelay/finrelay/internal/shared/logger"
)

// Accumulator is the batch accumulation surface the processor drives.
type Accumulator interface {
	AddEvent(ctx context.Context, batchType accumulator.BatchType, event json.RawMessage) (*accumulator.AddResult, error)
	GetBatch(ctx context.Context, batchType accumulator.BatchType) (*accumulator.Window, error)
	SubmitBatch(ctx context.Context, batchType accumulator.BatchType) error
	AllStats(ctx context.Context) ([]accumulator.Stats, error)
}

// Submitter runs a bulk ingest job to completion for one batch of records.
type Submitter interface {
	UpsertRecords(ctx context.Context, object, externalIDField string, records []map[string]string) (*salesforce.IngestResult, error)
}

// JobAudit is one row of the sync audit log.
type JobAudit struct {
	JobID            string
	BatchType        string
	WindowID         int64
	Object           string
	Operation        string
	RecordCount      int
	State            string
	ProcessedRecords int
	FailedRecords    int
	ErrorMessage     string
	SubmittedAt      time.Time
	CompletedAt      time.Time
}

// AuditRecorder persists the audit log. Audit failures are logged but never
// fail the pipeline.
type AuditRecorder interface {
	RecordJob(ctx context.Context, audit JobAudit) error
}

// RecordFailuresError reports record-level failures from a completed bulk
// job. The job itself succeeded; only the listed external IDs were
// rejected.
type RecordFailuresError struct {
	BatchType   accumulator.BatchType
	JobID       string
	ExternalIDs []string
}

func (e *RecordFailuresError) Error() string {
	return fmt.Sprintf("bulk job %s rejected %d records: %s",
		e.JobID, len(e.ExternalIDs), strings.Join(e.ExternalIDs, ", "))
}

// Result reports the outcome of one invocation in the partial batch
// failure shape: messages listed in RedeliverMessageIDs go back to the
// queue, everything else is considered delivered.
type Result struct {
	ProcessedMessages   int
	RedeliverMessageIDs []string
	BatchesSubmitted    int
}

// Processor glues the queue, the accumulator, event transformation, and
// the bulk client together.
type Processor struct {
	acc       Accumulator
	submitter Submitter
	audit     AuditRecorder
	logger    logger.Interface

	now func() time.Time
}

func NewProcessor(acc Accumulator, submitter Submitter, audit AuditRecorder, log logger.Interface) *Processor {
	return &Processor{
		acc:       acc,
		submitter: submitter,
		audit:     audit,
		logger:    log,
		now:       time.Now,
	}
}

// ProcessMessages handles one received batch of queue messages. Overdue
// windows left behind by earlier invocations are drained before any new
// input is touched, so staleness stays bounded even when traffic stops.
func (p *Processor) ProcessMessages(ctx context.Context, messages []queue.Message) *Result {
	result := &Result{}

	p.drainOverdueBatches(ctx, result)

	for _, msg := range messages {
		result.ProcessedMessages++

		if redeliver := p.processMessage(ctx, msg, result); redeliver {
			result.RedeliverMessageIDs = append(result.RedeliverMessageIDs, msg.ID)
		}
	}

	return result
}

// processMessage handles one queue message and reports whether it needs
// redelivery.
func (p *Processor) processMessage(ctx context.Context, msg queue.Message, result *Result) bool {
	ev, err := event.Parse(msg.Body)
	if err != nil {
		p.logger.Warnw("failed to parse queued event, leaving for redelivery",
			"message_id", msg.ID,
			"error", err,
		)
		return true
	}

	batchType, ok := BatchTypeFor(ev.Type)
	if !ok {
		p.logger.Infow("dropping event with unmapped type",
			"message_id", msg.ID,
			"event_id", ev.ID,
			"event_type", ev.Type,
		)
		return false
	}

	added, err := p.acc.AddEvent(ctx, batchType, msg.Body)
	if err != nil {
		p.logger.Errorw("failed to accumulate event",
			"message_id", msg.ID,
			"event_id", ev.ID,
			"batch_type", batchType,
			"error", err,
		)
		return true
	}

	if !added.BatchReady {
		return false
	}

	if err := p.processBatch(ctx, batchType, result); err != nil {
		p.logger.Errorw("failed to process ready batch",
			"message_id", msg.ID,
			"batch_type", batchType,
			"error", err,
		)
		return true
	}
	return false
}

// drainOverdueBatches scans every known batch type for windows that became
// ready without a triggering event, typically because no new events of that
// type arrived since the threshold crossed.
func (p *Processor) drainOverdueBatches(ctx context.Context, result *Result) {
	stats, err := p.acc.AllStats(ctx)
	if err != nil {
		p.logger.Warnw("failed to scan batch windows", "error", err)
		return
	}

	for _, s := range stats {
		if !s.Ready {
			continue
		}
		p.logger.Infow("draining overdue batch",
			"batch_type", s.BatchType,
			"window_id", s.WindowID,
			"record_count", s.RecordCount,
			"window_age", s.WindowAge.String(),
		)
		if err := p.processBatch(ctx, s.BatchType, result); err != nil {
			// The window stays in place; the next invocation retries.
			p.logger.Errorw("failed to drain overdue batch",
				"batch_type", s.BatchType,
				"error", err,
			)
		}
	}
}

// processBatch fetches the ready window for batchType, transforms and
// deduplicates its events, and drives one bulk job to completion. The
// window is cleared only when every record is accepted; on any error or
// record-level failure it stays in place so the same events retry on the
// next ready cycle.
func (p *Processor) processBatch(ctx context.Context, batchType accumulator.BatchType, result *Result) error {
	window, err := p.acc.GetBatch(ctx, batchType)
	if err != nil {
		return err
	}
	if window == nil {
		// Drained by a concurrent invocation, or no longer ready.
		return nil
	}

	target, ok := batchTargets[batchType]
	if !ok {
		return fmt.Errorf("no bulk target configured for batch type %s", batchType)
	}

	records := p.transformWindow(window)
	if len(records) == 0 {
		p.logger.Warnw("batch produced no records, clearing window",
			"batch_type", batchType,
			"window_id", window.WindowID,
		)
		return p.acc.SubmitBatch(ctx, batchType)
	}

	deduped := DedupeByExternalID(records, target.ExternalIDField)
	if len(deduped) < len(records) {
		p.logger.Infow("deduplicated batch records",
			"batch_type", batchType,
			"before", len(records),
			"after", len(deduped),
		)
	}

	submittedAt := p.now()
	ingest, err := p.submitter.UpsertRecords(ctx, target.Object, target.ExternalIDField, deduped)
	if err != nil {
		// Window preserved; the same events retry on the next ready cycle.
		// Idempotent upsert by external ID makes resubmission safe.
		return err
	}

	p.recordAudit(ctx, batchType, window, target, deduped, ingest, submittedAt)

	if ingest.FailedRecords > 0 {
		// Window preserved: the whole batch retries on the next ready
		// cycle, which is safe because upsert by external ID is
		// idempotent for the rows that already landed.
		return &RecordFailuresError{
			BatchType:   batchType,
			JobID:       ingest.JobID,
			ExternalIDs: failedExternalIDs(ingest.FailedRows, target.ExternalIDField),
		}
	}

	if err := p.acc.SubmitBatch(ctx, batchType); err != nil {
		return err
	}
	if result != nil {
		result.BatchesSubmitted++
	}

	p.logger.Infow("batch synced",
		"batch_type", batchType,
		"job_id", ingest.JobID,
		"records", ingest.ProcessedRecords,
	)
	return nil
}

// transformWindow converts the raw window events into records, skipping
// events that fail to decode.
func (p *Processor) transformWindow(window *accumulator.Window) []map[string]string {
	records := make([]map[string]string, 0, len(window.Events))
	for _, raw := range window.Events {
		ev, err := event.Parse(raw)
		if err != nil {
			p.logger.Warnw("skipping undecodable event in window",
				"batch_type", window.BatchType,
				"window_id", window.WindowID,
				"error", err,
			)
			continue
		}
		record, err := TransformEvent(ev)
		if err != nil {
			p.logger.Warnw("skipping untransformable event in window",
				"batch_type", window.BatchType,
				"event_id", ev.ID,
				"error", err,
			)
			continue
		}
		records = append(records, record)
	}
	return records
}

func (p *Processor) recordAudit(ctx context.Context, batchType accumulator.BatchType, window *accumulator.Window, target batchTarget, records []map[string]string, ingest *salesforce.IngestResult, submittedAt time.Time) {
	if p.audit == nil {
		return
	}

	audit := JobAudit{
		JobID:            ingest.JobID,
		BatchType:        string(batchType),
		WindowID:         window.WindowID,
		Object:           target.Object,
		Operation:        "upsert",
		RecordCount:      len(records),
		State:            string(ingest.State),
		ProcessedRecords: ingest.ProcessedRecords,
		FailedRecords:    ingest.FailedRecords,
		SubmittedAt:      submittedAt,
		CompletedAt:      p.now(),
	}
	if err := p.audit.RecordJob(ctx, audit); err != nil {
		p.logger.Warnw("failed to write sync audit log",
			"job_id", ingest.JobID,
			"error", err,
		)
	}
}

func failedExternalIDs(rows []map[string]string, externalIDField string) []string {
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		if id := row[externalIDField]; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
