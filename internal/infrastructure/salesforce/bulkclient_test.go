package salesforce

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finrelay/finrelay/internal/infrastructure/ratelimit"
	"github.com/finrelay/finrelay/internal/shared/config"
	apperrors "github.com/finrelay/finrelay/internal/shared/errors"
	"github.com/finrelay/finrelay/internal/shared/logger"
)

func newTestLogger() logger.Interface {
	return logger.NewLoggerWithSlog(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type allowAllLimiter struct {
	mu    sync.Mutex
	calls int
}

func (l *allowAllLimiter) Acquire(ctx context.Context) (*ratelimit.Acquisition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return &ratelimit.Acquisition{Timestamp: time.Now()}, nil
}

type denyingLimiter struct{}

func (l *denyingLimiter) Acquire(ctx context.Context) (*ratelimit.Acquisition, error) {
	return nil, apperrors.NewRateLimitError("per_second", nil, nil, 1)
}

func newTestClient(t *testing.T, serverURL string, limiter CallLimiter) *BulkClient {
	t.Helper()

	cfg := &config.SalesforceConfig{
		InstanceURL: serverURL,
		APIVersion:  "v62.0",
	}
	client := NewBulkClient(cfg, nil, &StaticTokenProvider{AccessToken: "test-token"}, limiter, nil, newTestLogger())
	client.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return client
}

// bulkServer fakes the Bulk API 2.0 ingest surface for one job.
type bulkServer struct {
	mu           sync.Mutex
	createBody   map[string]string
	uploadedCSV  string
	stateChanges []JobState
	statusPolls  int

	finalState JobState
	processed  int
	failed     int

	successCSV string
	failedCSV  string
}

func (s *bulkServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /services/data/v62.0/jobs/ingest", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s.createBody))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(Job{ID: "750xx001", State: JobStateOpen})
	})

	mux.HandleFunc("PUT /services/data/v62.0/jobs/ingest/750xx001/batches", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		assert.Equal(t, "text/csv", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		s.uploadedCSV = string(body)
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("PATCH /services/data/v62.0/jobs/ingest/750xx001", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		var req map[string]JobState
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.stateChanges = append(s.stateChanges, req["state"])
		json.NewEncoder(w).Encode(Job{ID: "750xx001", State: req["state"]})
	})

	mux.HandleFunc("GET /services/data/v62.0/jobs/ingest/750xx001", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.statusPolls++
		state := JobStateInProgress
		if s.statusPolls >= 2 {
			state = s.finalState
		}
		json.NewEncoder(w).Encode(Job{
			ID:                     "750xx001",
			State:                  state,
			NumberRecordsProcessed: s.processed,
			NumberRecordsFailed:    s.failed,
		})
	})

	mux.HandleFunc("GET /services/data/v62.0/jobs/ingest/750xx001/successfulResults/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, s.successCSV)
	})

	mux.HandleFunc("GET /services/data/v62.0/jobs/ingest/750xx001/failedResults/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, s.failedCSV)
	})

	return mux
}

func TestBulkClient_UpsertRecords(t *testing.T) {
	srv := &bulkServer{
		finalState: JobStateJobComplete,
		processed:  2,
		failed:     0,
		successCSV: "sf__Id,Stripe_Customer_ID__c\n001xx1,cus_1\n001xx2,cus_2\n",
		failedCSV:  "sf__Id,sf__Error,Stripe_Customer_ID__c\n",
	}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	limiter := &allowAllLimiter{}
	client := newTestClient(t, ts.URL, limiter)

	records := []map[string]string{
		{"Stripe_Customer_ID__c": "cus_1", "Name": "Acme"},
		{"Stripe_Customer_ID__c": "cus_2", "Name": "Globex"},
	}

	result, err := client.UpsertRecords(context.Background(), "Stripe_Customer__c", "Stripe_Customer_ID__c", records)
	require.NoError(t, err)

	assert.Equal(t, "750xx001", result.JobID)
	assert.Equal(t, JobStateJobComplete, result.State)
	assert.Equal(t, 2, result.ProcessedRecords)
	assert.Equal(t, 0, result.FailedRecords)
	assert.Len(t, result.SuccessfulRows, 2)
	assert.Empty(t, result.FailedRows)

	assert.Equal(t, "upsert", srv.createBody["operation"])
	assert.Equal(t, "Stripe_Customer__c", srv.createBody["object"])
	assert.Equal(t, "Stripe_Customer_ID__c", srv.createBody["externalIdFieldName"])
	assert.Equal(t, "CSV", srv.createBody["contentType"])

	assert.True(t, strings.HasPrefix(srv.uploadedCSV, "Name,Stripe_Customer_ID__c\n"))
	assert.Equal(t, []JobState{JobStateUploadComplete}, srv.stateChanges)

	// create + upload + close + 2 polls + 2 result fetches
	assert.Equal(t, 7, limiter.calls)
}

func TestBulkClient_PartialFailureIsNotAnError(t *testing.T) {
	srv := &bulkServer{
		finalState: JobStateJobComplete,
		processed:  200,
		failed:     2,
		successCSV: "sf__Id,Stripe_Customer_ID__c\n001xx1,cus_1\n",
		failedCSV:  "sf__Id,sf__Error,Stripe_Customer_ID__c\n,REQUIRED_FIELD_MISSING,cus_9\n,REQUIRED_FIELD_MISSING,cus_10\n",
	}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	client := newTestClient(t, ts.URL, &allowAllLimiter{})

	result, err := client.UpsertRecords(context.Background(), "Stripe_Customer__c", "Stripe_Customer_ID__c",
		[]map[string]string{{"Stripe_Customer_ID__c": "cus_1"}})
	require.NoError(t, err)

	assert.Equal(t, 200, result.ProcessedRecords)
	assert.Equal(t, 2, result.FailedRecords)
	require.Len(t, result.FailedRows, 2)
	assert.Equal(t, "REQUIRED_FIELD_MISSING", result.FailedRows[0]["sf__Error"])
}

func TestBulkClient_FailedJobAborted(t *testing.T) {
	srv := &bulkServer{finalState: JobStateFailed}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	client := newTestClient(t, ts.URL, &allowAllLimiter{})

	_, err := client.UpsertRecords(context.Background(), "Stripe_Customer__c", "Stripe_Customer_ID__c",
		[]map[string]string{{"Stripe_Customer_ID__c": "cus_1"}})
	require.Error(t, err)
	assert.True(t, apperrors.IsCRMAPIError(err))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []JobState{JobStateUploadComplete, JobStateAborted}, srv.stateChanges)
}

func TestBulkClient_PollTimeout(t *testing.T) {
	srv := &bulkServer{finalState: JobStateInProgress}
	ts := httptest.NewServer(srv.handler(t))
	defer ts.Close()

	client := newTestClient(t, ts.URL, &allowAllLimiter{})

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }
	client.sleep = func(ctx context.Context, d time.Duration) error {
		now = now.Add(d)
		return nil
	}

	_, err := client.WaitForCompletion(context.Background(), "750xx001")
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeoutError(err))
}

func TestBulkClient_CreateJobRequiresExternalIDForUpsert(t *testing.T) {
	client := newTestClient(t, "http://unused.invalid", &allowAllLimiter{})

	_, err := client.CreateJob(context.Background(), "Stripe_Customer__c", "upsert", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestBulkClient_RateLimitDenialPropagates(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should never reach the server when the limiter denies")
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, &denyingLimiter{})

	_, err := client.GetJobStatus(context.Background(), "750xx001")
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimitError(err))
}

func TestBulkClient_APIErrorCarriesStatusAndBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `[{"errorCode":"INVALIDJOB","message":"bad state"}]`)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, &allowAllLimiter{})

	_, err := client.GetJobStatus(context.Background(), "750xx001")
	require.Error(t, err)
	crmErr := apperrors.GetCRMAPIError(err)
	require.NotNil(t, crmErr)
	assert.Equal(t, http.StatusBadRequest, crmErr.StatusCode)
	assert.Contains(t, crmErr.Body, "INVALIDJOB")
}

func TestDefaultRetryable(t *testing.T) {
	assert.True(t, DefaultRetryable(apperrors.NewRateLimitError("per_second", nil, nil, 1)))
	assert.True(t, DefaultRetryable(apperrors.NewTimeoutError("poll", time.Second)))
	assert.True(t, DefaultRetryable(apperrors.NewCRMAPIError("server error", 503, "")))
	assert.True(t, DefaultRetryable(apperrors.NewCRMAPIError("throttled", 429, "")))
	assert.False(t, DefaultRetryable(apperrors.NewCRMAPIError("bad request", 400, "")))
	assert.False(t, DefaultRetryable(assert.AnError))
}
