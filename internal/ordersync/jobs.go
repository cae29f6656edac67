package ordersync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/ordersync/internal/docstore"
)

const JobTypeFullOrderSync = "full-order-sync"

type JobStatus string

const (
	JobStatusStarted   JobStatus = "started"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

var ErrJobNotFound = errors.New("sync job not found")

type SyncJob struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Status        JobStatus  `json:"status"`
	TotalOrders   int        `json:"totalOrders"`
	SyncedOrders  int        `json:"syncedOrders"`
	SkippedOrders int        `json:"skippedOrders"`
	Errors        int        `json:"errors"`
	StartedAt     time.Time  `json:"startedAt"`
	LastUpdated   time.Time  `json:"lastUpdated"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Progress is the running tally of one sync run.
type Progress struct {
	Synced  int
	Skipped int
	Errors  int
}

func (p Progress) Total() int {
	return p.Synced + p.Skipped
}

func (p Progress) fields() map[string]any {
	return map[string]any{
		"totalOrders":   p.Total(),
		"syncedOrders":  p.Synced,
		"skippedOrders": p.Skipped,
		"errors":        p.Errors,
	}
}

// JobTracker persists SyncJob records. Update and Finish are best effort:
// failures are logged and never returned.
type JobTracker struct {
	store      docstore.Store
	collection string
	retry      RetryPolicy
	logger     Logger
	now        func() time.Time
}

func NewJobTracker(store docstore.Store, collection string, retry RetryPolicy, logger Logger) *JobTracker {
	return &JobTracker{
		store:      store,
		collection: collection,
		retry:      retry,
		logger:     logger,
		now:        time.Now,
	}
}

func (t *JobTracker) Create(ctx context.Context, jobID string) (SyncJob, error) {
	now := t.now().UTC()
	job := SyncJob{
		ID:          jobID,
		Type:        JobTypeFullOrderSync,
		Status:      JobStatusStarted,
		StartedAt:   now,
		LastUpdated: now,
	}
	data, err := docstore.ToData(job)
	if err != nil {
		return SyncJob{}, err
	}
	_, err = Retry(ctx, t.retry, func(ctx context.Context) (string, error) {
		return t.store.Insert(ctx, t.collection, data)
	})
	if err != nil {
		return SyncJob{}, err
	}
	return job, nil
}

func (t *JobTracker) Get(ctx context.Context, jobID string) (SyncJob, error) {
	doc, err := t.find(ctx, jobID)
	if err != nil {
		return SyncJob{}, err
	}
	var job SyncJob
	if err := docstore.Decode(doc.Data, &job); err != nil {
		return SyncJob{}, fmt.Errorf("decode sync job %s: %w", jobID, err)
	}
	return job, nil
}

func (t *JobTracker) Update(ctx context.Context, jobID string, p Progress) {
	t.apply(ctx, jobID, p.fields())
}

func (t *JobTracker) Finish(ctx context.Context, jobID string, outcome JobStatus, p Progress, runErr error) {
	now := t.now().UTC()
	fields := p.fields()
	fields["status"] = string(outcome)
	fields["completedAt"] = now.Format(time.RFC3339Nano)
	if runErr != nil {
		fields["error"] = runErr.Error()
	}
	t.apply(ctx, jobID, fields)
}

func (t *JobTracker) apply(ctx context.Context, jobID string, fields map[string]any) {
	doc, err := t.find(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		logf(t.logger, "sync job %s not found, skipping status update", jobID)
		return
	}
	if err != nil {
		logf(t.logger, "sync job %s lookup failed: %v", jobID, err)
		return
	}
	if status, _ := doc.Data["status"].(string); JobStatus(status).Terminal() {
		logf(t.logger, "sync job %s already %s, skipping status update", jobID, status)
		return
	}
	fields["lastUpdated"] = t.now().UTC().Format(time.RFC3339Nano)
	err = t.retry.Run(ctx, func(ctx context.Context) error {
		return t.store.UpdateByID(ctx, t.collection, doc.ID, fields)
	})
	if errors.Is(err, docstore.ErrNotFound) {
		logf(t.logger, "sync job %s disappeared before update", jobID)
		return
	}
	if err != nil {
		logf(t.logger, "sync job %s update failed: %v", jobID, err)
	}
}

func (t *JobTracker) find(ctx context.Context, jobID string) (docstore.Document, error) {
	docs, err := Retry(ctx, t.retry, func(ctx context.Context) ([]docstore.Document, error) {
		q := docstore.Where("id", jobID)
		q.Limit = 1
		return t.store.Query(ctx, t.collection, q)
	})
	if err != nil {
		return docstore.Document{}, err
	}
	if len(docs) == 0 {
		return docstore.Document{}, ErrJobNotFound
	}
	return docs[0], nil
}

// jobIDSource issues sync_<unix millis> ids that never repeat within the
// process, even when two runs start in the same millisecond.
type jobIDSource struct {
	mu   sync.Mutex
	last int64
}

func (s *jobIDSource) next(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := now.UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return fmt.Sprintf("sync_%d", ms)
}
