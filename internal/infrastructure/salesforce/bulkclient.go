package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/finrelay/finrelay/internal/infrastructure/ratelimit"
	"github.com/finrelay/finrelay/internal/shared/config"
	apperrors "github.com/finrelay/finrelay/internal/shared/errors"
	"github.com/finrelay/finrelay/internal/shared/logger"
	"github.com/finrelay/finrelay/internal/shared/retry"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxWaitTime  = 300 * time.Second

	maxAPIResponseSize = 16 << 20
)

// JobState is the lifecycle state of a Bulk API 2.0 ingest job.
type JobState string

const (
	JobStateOpen           JobState = "Open"
	JobStateUploadComplete JobState = "UploadComplete"
	JobStateInProgress     JobState = "InProgress"
	JobStateJobComplete    JobState = "JobComplete"
	JobStateFailed         JobState = "Failed"
	JobStateAborted        JobState = "Aborted"
)

// Terminal reports whether the job will make no further progress.
func (s JobState) Terminal() bool {
	return s == JobStateJobComplete || s == JobStateFailed || s == JobStateAborted
}

// Job mirrors the Bulk API 2.0 job resource.
type Job struct {
	ID                     string   `json:"id"`
	Object                 string   `json:"object"`
	Operation              string   `json:"operation"`
	ExternalIDFieldName    string   `json:"externalIdFieldName,omitempty"`
	State                  JobState `json:"state"`
	ContentType            string   `json:"contentType"`
	NumberRecordsProcessed int      `json:"numberRecordsProcessed"`
	NumberRecordsFailed    int      `json:"numberRecordsFailed"`
	ErrorMessage           string   `json:"errorMessage"`
}

// IngestResult is the outcome of a completed ingest job, including the
// per-row results Salesforce reports after processing. A partial failure is
// not an error: FailedRows carries the rejected rows alongside the
// successes.
type IngestResult struct {
	JobID            string
	State            JobState
	ProcessedRecords int
	FailedRecords    int
	SuccessfulRows   []map[string]string
	FailedRows       []map[string]string
}

// CallLimiter gates every outbound Salesforce HTTP call.
type CallLimiter interface {
	Acquire(ctx context.Context) (*ratelimit.Acquisition, error)
}

// BulkClient drives Bulk API 2.0 ingest jobs: create, upload CSV, close,
// poll to completion, and collect results. Every HTTP call first acquires
// the rate limiter and runs under the retry policy.
type BulkClient struct {
	httpClient   *http.Client
	cfg          *config.SalesforceConfig
	tokens       TokenProvider
	limiter      CallLimiter
	retry        *retry.Policy
	logger       logger.Interface
	pollInterval time.Duration
	maxWaitTime  time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewBulkClient(cfg *config.SalesforceConfig, bulkCfg *config.BulkConfig, tokens TokenProvider, limiter CallLimiter, policy *retry.Policy, log logger.Interface) *BulkClient {
	c := &BulkClient{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		cfg:          cfg,
		tokens:       tokens,
		limiter:      limiter,
		retry:        policy,
		logger:       log,
		pollInterval: DefaultPollInterval,
		maxWaitTime:  DefaultMaxWaitTime,
		now:          time.Now,
		sleep:        sleepCtx,
	}
	if bulkCfg != nil {
		if bulkCfg.PollInterval > 0 {
			c.pollInterval = time.Duration(bulkCfg.PollInterval) * time.Second
		}
		if bulkCfg.MaxWaitTime > 0 {
			c.maxWaitTime = time.Duration(bulkCfg.MaxWaitTime) * time.Second
		}
	}
	return c
}

// UpsertRecords runs the full ingest lifecycle for one batch of records. On
// any failure after job creation the job is aborted best-effort so it does
// not linger in the org's open job list.
func (c *BulkClient) UpsertRecords(ctx context.Context, object, externalIDField string, records []map[string]string) (*IngestResult, error) {
	csvData, err := BuildCSV(records)
	if err != nil {
		return nil, err
	}

	job, err := c.CreateJob(ctx, object, "upsert", externalIDField)
	if err != nil {
		return nil, err
	}

	c.logger.Infow("created bulk ingest job",
		"job_id", job.ID,
		"object", object,
		"record_count", len(records),
	)

	result, err := c.runIngest(ctx, job.ID, csvData)
	if err != nil {
		c.abortBestEffort(job.ID)
		return nil, err
	}
	return result, nil
}

func (c *BulkClient) runIngest(ctx context.Context, jobID, csvData string) (*IngestResult, error) {
	if err := c.UploadJobData(ctx, jobID, csvData); err != nil {
		return nil, err
	}
	if err := c.CloseJob(ctx, jobID); err != nil {
		return nil, err
	}

	job, err := c.WaitForCompletion(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != JobStateJobComplete {
		return nil, apperrors.NewCRMAPIError(
			fmt.Sprintf("bulk job %s ended in state %s: %s", jobID, job.State, job.ErrorMessage), 0, "")
	}

	successful, err := c.GetJobResults(ctx, jobID, "successfulResults")
	if err != nil {
		return nil, err
	}
	failed, err := c.GetJobResults(ctx, jobID, "failedResults")
	if err != nil {
		return nil, err
	}

	if job.NumberRecordsFailed > 0 {
		c.logger.Warnw("bulk job completed with failed records",
			"job_id", jobID,
			"processed", job.NumberRecordsProcessed,
			"failed", job.NumberRecordsFailed,
		)
	}

	return &IngestResult{
		JobID:            jobID,
		State:            job.State,
		ProcessedRecords: job.NumberRecordsProcessed,
		FailedRecords:    job.NumberRecordsFailed,
		SuccessfulRows:   successful,
		FailedRows:       failed,
	}, nil
}

// CreateJob opens a new ingest job. externalIDField is required for upsert
// and must be empty otherwise.
func (c *BulkClient) CreateJob(ctx context.Context, object, operation, externalIDField string) (*Job, error) {
	payload := map[string]string{
		"object":          object,
		"operation":       operation,
		"contentType":     "CSV",
		"columnDelimiter": "COMMA",
		"lineEnding":      "LF",
	}
	if operation == "upsert" {
		if externalIDField == "" {
			return nil, apperrors.NewValidationError("external id field is required for upsert")
		}
		payload["externalIdFieldName"] = externalIDField
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job request: %w", err)
	}

	var job Job
	err = c.doJSON(ctx, "create job", http.MethodPost, c.cfg.IngestURL(), "application/json", bytes.NewReader(body), &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UploadJobData uploads the CSV payload for an open job.
func (c *BulkClient) UploadJobData(ctx context.Context, jobID, csvData string) error {
	url := fmt.Sprintf("%s/%s/batches", c.cfg.IngestURL(), jobID)
	return c.doJSON(ctx, "upload job data", http.MethodPut, url, "text/csv", strings.NewReader(csvData), nil)
}

// CloseJob signals that all data is uploaded and processing may begin.
func (c *BulkClient) CloseJob(ctx context.Context, jobID string) error {
	return c.setJobState(ctx, jobID, JobStateUploadComplete)
}

// AbortJob cancels a job that has not completed.
func (c *BulkClient) AbortJob(ctx context.Context, jobID string) error {
	return c.setJobState(ctx, jobID, JobStateAborted)
}

func (c *BulkClient) setJobState(ctx context.Context, jobID string, state JobState) error {
	body, err := json.Marshal(map[string]JobState{"state": state})
	if err != nil {
		return fmt.Errorf("failed to marshal state change: %w", err)
	}
	url := fmt.Sprintf("%s/%s", c.cfg.IngestURL(), jobID)
	return c.doJSON(ctx, fmt.Sprintf("set job state %s", state), http.MethodPatch, url, "application/json", bytes.NewReader(body), nil)
}

// GetJobStatus fetches the current job resource.
func (c *BulkClient) GetJobStatus(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	url := fmt.Sprintf("%s/%s", c.cfg.IngestURL(), jobID)
	if err := c.doJSON(ctx, "get job status", http.MethodGet, url, "application/json", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitForCompletion polls the job until it reaches a terminal state or the
// maximum wait elapses, in which case a *errors.TimeoutError is returned.
func (c *BulkClient) WaitForCompletion(ctx context.Context, jobID string) (*Job, error) {
	deadline := c.now().Add(c.maxWaitTime)

	for {
		job, err := c.GetJobStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			return job, nil
		}

		if !c.now().Add(c.pollInterval).Before(deadline) {
			elapsed := c.maxWaitTime
			return nil, apperrors.NewTimeoutError(
				fmt.Sprintf("bulk job %s did not complete within %s", jobID, c.maxWaitTime), elapsed)
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
}

// GetJobResults fetches one of the job result sets: "successfulResults" or
// "failedResults".
func (c *BulkClient) GetJobResults(ctx context.Context, jobID, resultType string) ([]map[string]string, error) {
	url := fmt.Sprintf("%s/%s/%s/", c.cfg.IngestURL(), jobID, resultType)

	var rows []map[string]string
	err := c.withRetry(ctx, "get job results", func(ctx context.Context) error {
		body, err := c.doRaw(ctx, http.MethodGet, url, "application/json", nil)
		if err != nil {
			return err
		}
		defer body.Close()

		rows, err = ParseResultsCSV(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *BulkClient) doJSON(ctx context.Context, name, method, url, contentType string, payload io.Reader, out interface{}) error {
	var buffered []byte
	if payload != nil {
		var err error
		buffered, err = io.ReadAll(payload)
		if err != nil {
			return fmt.Errorf("failed to buffer request body: %w", err)
		}
	}

	return c.withRetry(ctx, name, func(ctx context.Context) error {
		var body io.Reader
		if buffered != nil {
			body = bytes.NewReader(buffered)
		}

		respBody, err := c.doRaw(ctx, method, url, contentType, body)
		if err != nil {
			return err
		}
		defer respBody.Close()

		if out == nil {
			_, _ = io.Copy(io.Discard, respBody)
			return nil
		}
		if err := json.NewDecoder(respBody).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

func (c *BulkClient) doRaw(ctx context.Context, method, url, contentType string, payload io.Reader) (io.ReadCloser, error) {
	if _, err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseSize))
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			if invalidator, ok := c.tokens.(interface{ Invalidate() }); ok {
				invalidator.Invalidate()
			}
		}
		return nil, apperrors.NewCRMAPIError(
			fmt.Sprintf("%s %s returned status %d", method, url, resp.StatusCode),
			resp.StatusCode, string(body))
	}

	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, maxAPIResponseSize), resp.Body}, nil
}

func (c *BulkClient) withRetry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	if c.retry == nil {
		return op(ctx)
	}
	return c.retry.Do(ctx, name, op)
}

func (c *BulkClient) abortBestEffort(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.AbortJob(ctx, jobID); err != nil {
		c.logger.Warnw("failed to abort bulk job",
			"job_id", jobID,
			"error", err,
		)
	}
}

// DefaultRetryable retries rate limit denials, timeouts, and server-side
// CRM errors. Client errors (4xx other than 429) are permanent.
func DefaultRetryable(err error) bool {
	if apperrors.IsRateLimitError(err) || apperrors.IsTimeoutError(err) {
		return true
	}
	if crmErr := apperrors.GetCRMAPIError(err); crmErr != nil {
		return crmErr.StatusCode == http.StatusTooManyRequests || crmErr.StatusCode >= 500
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
