// Package queue processes queued lead requests: each runnable request is
// marked processing, run through the pipeline, and marked completed or
// failed with a bounded run history.
package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/pipeline"
)

// Source stores queued requests.
type Source interface {
	// FetchQueued returns up to limit runnable requests, oldest first.
	FetchQueued(ctx context.Context, limit int) ([]model.Request, error)
	// Update persists r's status, error, last run and history.
	Update(ctx context.Context, r *model.Request) error
}

// Runner runs one lead request.
type Runner interface {
	Run(ctx context.Context, params model.RequestParams) (*pipeline.Result, error)
}

// Summary counts the outcome of one Process call.
type Summary struct {
	Fetched   int `json:"fetched"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Processor drains a Source through a Runner, one request at a time.
type Processor struct {
	src     Source
	runner  Runner
	nowFunc func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(src Source, runner Runner) *Processor {
	return &Processor{src: src, runner: runner, nowFunc: time.Now}
}

// Process runs up to limit queued requests sequentially. A failed request
// is recorded and does not stop the batch; cancellation does.
func (p *Processor) Process(ctx context.Context, limit int) (Summary, error) {
	var sum Summary
	reqs, err := p.src.FetchQueued(ctx, limit)
	if err != nil {
		return sum, eris.Wrap(err, "queue: fetch queued requests")
	}
	sum.Fetched = len(reqs)
	zap.L().Info("queue: processing requests", zap.Int("count", len(reqs)), zap.Int("limit", limit))

	for i := range reqs {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "queue: process")
		}
		if err := p.ProcessOne(ctx, &reqs[i]); err != nil {
			sum.Failed++
			zap.L().Error("queue: request failed",
				zap.String("request_id", reqs[i].ID),
				zap.Error(err),
			)
			continue
		}
		sum.Succeeded++
	}
	return sum, nil
}

// ProcessOne runs r and records the outcome on r and in the source. The
// returned error is the run's failure, if any.
func (p *Processor) ProcessOne(ctx context.Context, r *model.Request) error {
	log := zap.L().With(zap.String("request_id", r.ID))
	attempted := p.nowFunc().UTC()
	r.LastAttemptAt = &attempted

	params, err := BuildParams(r.Raw)
	if err != nil {
		return p.finish(ctx, r, nil, eris.Wrap(err, "queue: build params"))
	}

	r.Status = model.RequestProcessing
	r.Error = ""
	if err := p.src.Update(ctx, r); err != nil {
		return eris.Wrapf(err, "queue: mark %s processing", r.ID)
	}

	log.Info("queue: running request", zap.Int("quantity", params.Quantity), zap.String("state", params.State))
	res, runErr := p.runner.Run(ctx, params)
	if runErr != nil {
		runErr = eris.Wrapf(runErr, "queue: run %s", r.ID)
	}
	return p.finish(ctx, r, res, runErr)
}

// finish marks r completed or failed and saves it, even when ctx has been
// canceled.
func (p *Processor) finish(ctx context.Context, r *model.Request, res *pipeline.Result, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	now := p.nowFunc().UTC()
	snapshot := map[string]any{}
	entry := model.HistoryEntry{Timestamp: now, Snapshot: snapshot}
	if res != nil {
		snapshot["run_id"] = res.RunID
		snapshot["run_directory"] = res.RunDir
		entry.RunID = res.RunID
	}

	if runErr != nil {
		r.Status = model.RequestFailed
		r.Error = runErr.Error()
		snapshot["failed_at"] = now.Format(time.RFC3339)
		snapshot["error"] = r.Error
		entry.Error = r.Error
	} else {
		r.Status = model.RequestCompleted
		r.Error = ""
		snapshot["completed_at"] = now.Format(time.RFC3339)
		if res != nil {
			snapshot["companies_returned"] = res.Returned
		}
	}
	snapshot["status"] = string(r.Status)
	entry.Status = r.Status

	r.LastRun = snapshot
	r.AppendHistory(entry)
	if err := p.src.Update(ctx, r); err != nil {
		if runErr != nil {
			return eris.Wrapf(runErr, "queue: save failed request %s: %v", r.ID, err)
		}
		return eris.Wrapf(err, "queue: mark %s %s", r.ID, r.Status)
	}
	return runErr
}
