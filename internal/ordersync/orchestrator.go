package ordersync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/ordersync/internal/docstore"
	"github.com/agentworkforce/ordersync/internal/orders"
)

const (
	DefaultOrdersCollection = "shopify-orders"
	DefaultJobsCollection   = "sync-jobs"
	DefaultPageSize         = 50
	DefaultBoundedLimit     = 50
	MaxPageSize             = 250
	DefaultPageDelay        = time.Second
)

var ErrInvalidRecord = errors.New("invalid order record")

// OrderSource fetches one page of upstream orders. An empty cursor requests
// the first page.
type OrderSource interface {
	FetchOrdersPage(ctx context.Context, cursor string, first int) (orders.Page, error)
}

type RecordValidator interface {
	Validate(order orders.UpstreamOrder) error
}

type Options struct {
	Source    OrderSource
	Store     docstore.Store
	Validator RecordValidator
	Logger    Logger

	OrdersCollection string
	JobsCollection   string
	PageSize         int
	BatchSize        int
	// PageDelay is the pause between pages. Zero selects DefaultPageDelay;
	// a negative value disables the pause.
	PageDelay time.Duration
	// Retry applies to every store call. A zero Delay selects
	// DefaultRetryDelay; a negative Delay retries immediately.
	Retry RetryPolicy
	Now   func() time.Time
}

type BoundedResult struct {
	Synced int `json:"synced"`
	Errors int `json:"errors"`
}

// Orchestrator drives sync runs against one source and store. It is safe for
// concurrent use; every run gets its own dedup index and batch writer.
type Orchestrator struct {
	source    OrderSource
	store     docstore.Store
	validator RecordValidator
	logger    Logger
	jobs      *JobTracker

	ordersCollection string
	pageSize         int
	batchSize        int
	pageDelay        time.Duration
	retry            RetryPolicy
	now              func() time.Time

	ids jobIDSource
	wg  sync.WaitGroup
}

func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.OrdersCollection == "" {
		opts.OrdersCollection = DefaultOrdersCollection
	}
	if opts.JobsCollection == "" {
		opts.JobsCollection = DefaultJobsCollection
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize > MaxPageSize {
		opts.PageSize = MaxPageSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PageDelay == 0 {
		opts.PageDelay = DefaultPageDelay
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Retry.Delay == 0 {
		opts.Retry.Delay = DefaultRetryDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	jobs := NewJobTracker(opts.Store, opts.JobsCollection, opts.Retry, opts.Logger)
	jobs.now = opts.Now
	return &Orchestrator{
		source:           opts.Source,
		store:            opts.Store,
		validator:        opts.Validator,
		logger:           opts.Logger,
		jobs:             jobs,
		ordersCollection: opts.OrdersCollection,
		pageSize:         opts.PageSize,
		batchSize:        opts.BatchSize,
		pageDelay:        opts.PageDelay,
		retry:            opts.Retry,
		now:              opts.Now,
	}, nil
}

func (o *Orchestrator) Jobs() *JobTracker {
	return o.jobs
}

// StartFullSync records a new job and pages through the whole upstream
// dataset in the background. The returned job id is the only handle on the
// run; its outcome is written to the job record.
func (o *Orchestrator) StartFullSync(ctx context.Context) (string, error) {
	jobID := o.ids.next(o.now())
	if _, err := o.jobs.Create(ctx, jobID); err != nil {
		return "", fmt.Errorf("create sync job: %w", err)
	}
	runCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go o.supervise(runCtx, jobID)
	return jobID, nil
}

// Wait blocks until every background run has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) supervise(ctx context.Context, jobID string) {
	defer o.wg.Done()
	run := o.newRun()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("full sync panicked: %v", r)
			o.jobs.Finish(ctx, jobID, JobStatusFailed, run.checkpoint, err)
			logf(o.logger, "sync job %s failed: %v", jobID, err)
		}
	}()
	started := o.now()
	progress, err := run.full(ctx, jobID)
	if err != nil {
		logf(o.logger, "sync job %s failed after %s: %v", jobID, o.now().Sub(started).Round(time.Millisecond), err)
		return
	}
	logf(o.logger, "sync job %s completed: synced=%d skipped=%d errors=%d", jobID, progress.Synced, progress.Skipped, progress.Errors)
}

// RunFullSync runs a full sync in the foreground for an existing job.
func (o *Orchestrator) RunFullSync(ctx context.Context, jobID string) (Progress, error) {
	return o.newRun().full(ctx, jobID)
}

// CreateJob records a started job without running it; pair with RunFullSync.
func (o *Orchestrator) CreateJob(ctx context.Context) (SyncJob, error) {
	return o.jobs.Create(ctx, o.ids.next(o.now()))
}

// RunBoundedSync fetches a single page of up to pageLimit orders and stores the
// new ones one by one. No job record is kept. Cancelling ctx stops the pass
// and returns the counts reached so far with the context error.
func (o *Orchestrator) RunBoundedSync(ctx context.Context, pageLimit int) (BoundedResult, error) {
	if pageLimit <= 0 {
		pageLimit = DefaultBoundedLimit
	}
	if pageLimit > MaxPageSize {
		pageLimit = MaxPageSize
	}
	page, err := o.source.FetchOrdersPage(ctx, "", pageLimit)
	if err != nil {
		return BoundedResult{}, fmt.Errorf("fetch orders: %w", err)
	}
	run := o.newRun()
	var result BoundedResult
	for _, order := range page.Orders {
		data, queued, err := run.consider(ctx, order)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("bounded sync interrupted: %w", ctxErr)
		}
		if err != nil {
			result.Errors++
			logf(o.logger, "bounded sync: %v", err)
			continue
		}
		if !queued {
			continue
		}
		_, err = Retry(ctx, o.retry, func(ctx context.Context) (string, error) {
			return o.store.Insert(ctx, o.ordersCollection, data)
		})
		if err != nil {
			result.Errors++
			logf(o.logger, "bounded sync: store order %s: %v", order.ID, err)
			continue
		}
		result.Synced++
	}
	return result, nil
}

type syncRun struct {
	o          *Orchestrator
	dedup      *DedupIndex
	exists     *ExistenceChecker
	writer     *BatchWriter
	skipped    int
	errors     int
	checkpoint Progress
}

func (o *Orchestrator) newRun() *syncRun {
	return &syncRun{
		o:      o,
		dedup:  NewDedupIndex(),
		exists: NewExistenceChecker(o.store, o.ordersCollection, o.retry),
		writer: NewBatchWriter(o.store, o.ordersCollection, o.batchSize, o.retry),
	}
}

func (r *syncRun) progress() Progress {
	return Progress{Synced: r.writer.Committed(), Skipped: r.skipped, Errors: r.errors}
}

func (r *syncRun) full(ctx context.Context, jobID string) (Progress, error) {
	o := r.o
	cursor := ""
	for pageNumber := 1; ; pageNumber++ {
		page, err := o.source.FetchOrdersPage(ctx, cursor, o.pageSize)
		if err != nil {
			return r.fail(ctx, jobID, fmt.Errorf("fetch orders page %d: %w", pageNumber, err))
		}
		if len(page.Orders) == 0 {
			break
		}
		for _, order := range page.Orders {
			data, queued, err := r.consider(ctx, order)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.fail(ctx, jobID, fmt.Errorf("sync interrupted on page %d: %w", pageNumber, ctxErr))
			}
			if err != nil {
				r.errors++
				logf(o.logger, "sync job %s: %v", jobID, err)
				continue
			}
			if !queued {
				continue
			}
			if err := r.writer.Add(ctx, data); err != nil {
				return r.fail(ctx, jobID, err)
			}
		}
		r.checkpoint = r.progress()
		o.jobs.Update(ctx, jobID, r.checkpoint)

		if !page.HasNextPage || page.EndCursor == "" {
			break
		}
		cursor = page.EndCursor
		if err := waitWithContext(ctx, o.pageDelay); err != nil {
			return r.fail(ctx, jobID, err)
		}
	}
	if err := r.writer.Flush(ctx); err != nil {
		return r.fail(ctx, jobID, err)
	}
	final := r.progress()
	o.jobs.Finish(ctx, jobID, JobStatusCompleted, final, nil)
	return final, nil
}

// fail records the run as failed with the counters of the last finished page.
// The record is written even when ctx is already cancelled.
func (r *syncRun) fail(ctx context.Context, jobID string, err error) (Progress, error) {
	r.o.jobs.Finish(context.WithoutCancel(ctx), jobID, JobStatusFailed, r.checkpoint, err)
	return r.checkpoint, err
}

// consider decides whether order should be written. It returns the document
// to store when it should, and a record-level error when the order cannot be
// handled.
func (r *syncRun) consider(ctx context.Context, order orders.UpstreamOrder) (map[string]any, bool, error) {
	if order.ID == "" {
		return nil, false, fmt.Errorf("%w: missing upstream id", ErrInvalidRecord)
	}
	if r.o.validator != nil {
		if err := r.o.validator.Validate(order); err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
	}
	if r.dedup.Seen(order.ID) {
		r.skipped++
		return nil, false, nil
	}
	exists, err := r.exists.Exists(ctx, order.ID)
	if err != nil {
		return nil, false, fmt.Errorf("check order %s: %w", order.ID, err)
	}
	if exists {
		r.skipped++
		return nil, false, nil
	}
	data, err := docstore.ToData(orders.NewStoredOrder(order, r.o.now()))
	if err != nil {
		return nil, false, fmt.Errorf("%w: encode order %s: %w", ErrInvalidRecord, order.ID, err)
	}
	r.dedup.Mark(order.ID)
	return data, true, nil
}
