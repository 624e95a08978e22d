// Package jobs runs generate and upscale requests through a quota-governed
// state machine: validate, check the allowance, call the provider, and only
// on success commit one unit and record history.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixora-labs/pixora/internal/api"
	"github.com/pixora-labs/pixora/internal/history"
	"github.com/pixora-labs/pixora/internal/media"
	"github.com/pixora-labs/pixora/internal/metrics"
	inats "github.com/pixora-labs/pixora/internal/nats"
	"github.com/pixora-labs/pixora/internal/quota"
	"github.com/pixora-labs/pixora/internal/storage"
)

// User-facing messages for failures outside the media taxonomy.
const (
	MsgCancelled      = "Job cancelled"
	MsgQuotaUnknown   = "Quota state unavailable, please retry"
	MsgUploadFailed   = "Error uploading image"
	MsgInternalFailed = "Something went wrong"
)

const commitTimeout = 10 * time.Second

// QuotaService reserves, commits and releases allowance for the controller.
// Every successful Check is paired with exactly one Commit or Release.
type QuotaService interface {
	Check(ctx context.Context, u quota.User, kind quota.Kind) (*quota.Record, error)
	Commit(ctx context.Context, u quota.User, kind quota.Kind) (*quota.Record, error)
	Release(userID string, kind quota.Kind)
	UpgradeURL() string
}

// Uploader stores multipart images so the provider can fetch them.
type Uploader interface {
	Store(ctx context.Context, filename string, data []byte) (*storage.Upload, error)
	Resolve(raw string) string
}

// EventPublisher is the subset of the NATS publisher the controller uses.
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event inats.JobEvent) error
}

// Controller starts jobs and drives each one to a terminal state in its own
// goroutine.
type Controller struct {
	quota    QuotaService
	gateway  media.Gateway
	history  history.Log
	uploads  Uploader
	registry *Registry
	events   EventPublisher
	tick     time.Duration
	now      func() time.Time
}

// NewController creates a job controller. uploads may be nil when multipart
// upscales are not served.
func NewController(q QuotaService, gw media.Gateway, log history.Log, uploads Uploader, reg *Registry, tick time.Duration) *Controller {
	if tick <= 0 {
		tick = time.Second
	}
	return &Controller{
		quota:    q,
		gateway:  gw,
		history:  log,
		uploads:  uploads,
		registry: reg,
		tick:     tick,
		now:      time.Now,
	}
}

// SetPublisher enables job lifecycle events.
func (c *Controller) SetPublisher(p EventPublisher) {
	c.events = p
}

func (c *Controller) Registry() *Registry {
	return c.registry
}

// Start validates the input and reserves the allowance synchronously, then
// hands the provider call to a goroutine. The quota check guards the move
// from preparing to submitting. The returned job may already be terminal
// when validation or the quota check failed.
func (c *Controller) Start(u quota.User, kind quota.Kind, in Input) (*Job, error) {
	job := newJob(u.ID, kind, in, c.now())
	if err := c.registry.add(job); err != nil {
		return nil, err
	}

	metrics.JobsStartedTotal.WithLabelValues(string(kind)).Inc()
	metrics.JobsInFlight.Inc()
	c.publish(job, inats.JobStarted)
	slog.Debug("jobs: started", "job_id", job.ID, "user_id", u.ID, "kind", kind)

	job.transition(StatePreparing, c.now())
	if kind == quota.KindUpscale {
		job.setStage(upscalePreparing, c.now())
	}
	if err := validate(kind, in); err != nil {
		c.finishFailed(job, err)
		return job, nil
	}

	if _, err := c.quota.Check(job.ctx, u, kind); err != nil {
		c.finishFailed(job, err)
		return job, nil
	}
	if !job.admit(c.now()) {
		c.quota.Release(u.ID, kind)
		c.finishCancelled(job)
		return job, nil
	}

	if !job.transition(StateAwaitingProvider, c.now()) {
		c.finishCancelled(job)
		return job, nil
	}
	go c.run(job, u)
	return job, nil
}

func validate(kind quota.Kind, in Input) error {
	switch kind {
	case quota.KindGenerate:
		if err := media.ValidatePrompt(in.Prompt); err != nil {
			return err
		}
		if _, ok := media.ParseStyle(in.Style); !ok {
			return media.NewValidationError("generate", media.MsgInvalidStyle)
		}
		return nil
	case quota.KindUpscale:
		if in.ImageData != nil {
			_, err := media.ValidateImage(in.ImageData)
			return err
		}
		return media.ValidateImageURL(in.ImageURL)
	}
	return media.NewValidationError(string(kind), fmt.Sprintf("Unknown job kind %q", kind))
}

type outcome struct {
	images []string
	err    error
}

// run owns the job from the provider call to its terminal state. The stage
// ticker and the provider call are composed in one select so every exit
// path stops the ticker.
func (c *Controller) run(job *Job, u quota.User) {
	start := c.now()
	done := make(chan outcome, 1)
	go func() {
		images, err := c.invoke(job)
		done <- outcome{images: images, err: err}
	}()

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if job.Kind == quota.KindGenerate {
				job.tick(c.now().Sub(start), c.now())
			}
		case <-job.ctx.Done():
			c.finishCancelled(job)
			return
		case res := <-done:
			if res.err != nil {
				c.finishFailed(job, res.err)
				return
			}
			c.complete(job, u, res.images)
			return
		}
	}
}

// invoke performs the gateway call for the job's kind.
func (c *Controller) invoke(job *Job) ([]string, error) {
	in := job.input
	ctx := job.ctx

	if job.Kind == quota.KindGenerate {
		return c.gateway.Generate(ctx, in.Prompt, media.GenerateOptions{
			Style:   media.Style(in.Style),
			Quality: media.ParseQuality(in.Quality),
			Count:   media.ClampCount(in.Count),
		})
	}

	job.setStage(upscaleUploading, c.now())
	imageURL := in.ImageURL
	if in.ImageData != nil {
		if c.uploads == nil {
			return nil, errors.New("multipart upscale without an upload store")
		}
		up, err := c.uploads.Store(ctx, in.Filename, in.ImageData)
		if err != nil {
			return nil, &uploadError{err: err}
		}
		imageURL = up.URL
	}
	if c.uploads != nil {
		imageURL = c.uploads.Resolve(imageURL)
	}

	job.setStage(upscaleProcessing, c.now())
	out, err := c.gateway.Upscale(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	return []string{out}, nil
}

// complete commits the allowance, records history and exposes the images,
// in that order.
func (c *Controller) complete(job *Job, u quota.User, images []string) {
	if !job.claimCommit() {
		c.finishCancelled(job)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(job.ctx), commitTimeout)
	defer cancel()

	// Commit drops the reservation itself.
	job.dropHold()
	if _, err := c.quota.Commit(ctx, u, job.Kind); err != nil {
		// The provider already did the work; the caller keeps the images.
		job.markReconciled()
		metrics.QuotaReconciliationsTotal.WithLabelValues(string(job.Kind)).Inc()
		c.publish(job, inats.JobReconciled)
		slog.Warn("jobs: commit after success failed, reconciling", "job_id", job.ID, "user_id", u.ID, "kind", job.Kind, "error", err)
	}

	if job.Kind == quota.KindGenerate {
		entry := &history.Entry{
			UserID:  u.ID,
			JobID:   job.ID,
			Prompt:  job.input.Prompt,
			Style:   string(styleOrDefault(job.input.Style)),
			Quality: string(media.ParseQuality(job.input.Quality)),
			Images:  images,
		}
		if err := c.history.Append(ctx, entry); err != nil {
			slog.Error("jobs: appending history failed", "job_id", job.ID, "user_id", u.ID, "error", err)
		}
	}

	job.succeed(images, c.now())
	c.record(job, StateSucceeded, "")
	c.publish(job, inats.JobSucceeded)
	slog.Info("jobs: succeeded", "job_id", job.ID, "user_id", u.ID, "kind", job.Kind, "images", len(images))
}

func (c *Controller) finishFailed(job *Job, err error) {
	f := c.failureFrom(err)
	if f.Kind == FailCancelled {
		c.finishCancelled(job)
		return
	}
	if !job.fail(f, c.now()) {
		return
	}
	c.releaseHold(job)
	c.record(job, StateFailed, f.Kind)
	c.publish(job, inats.JobFailed)
	slog.Info("jobs: failed", "job_id", job.ID, "user_id", job.UserID, "kind", job.Kind, "reason", f.Kind, "error", err)
}

func (c *Controller) finishCancelled(job *Job) {
	if !job.fail(Failure{Kind: FailCancelled, Message: MsgCancelled}, c.now()) {
		return
	}
	c.cancelled(job)
}

func (c *Controller) cancelled(job *Job) {
	c.releaseHold(job)
	c.record(job, StateCancelled, FailCancelled)
	c.publish(job, inats.JobCancelled)
	slog.Info("jobs: cancelled", "job_id", job.ID, "user_id", job.UserID, "kind", job.Kind)
}

// releaseHold returns the unit reserved for a job that ends without
// committing.
func (c *Controller) releaseHold(job *Job) {
	if job.dropHold() {
		c.quota.Release(job.UserID, job.Kind)
	}
}

// Cancel aborts a job that has not started committing.
func (c *Controller) Cancel(id, userID string) (*Job, error) {
	job, err := c.registry.Get(id, userID)
	if err != nil {
		return nil, err
	}
	if !job.requestCancel(c.now()) {
		return job, ErrNotCancellable
	}
	c.cancelled(job)
	return job, nil
}

// Wait blocks until the job is terminal or ctx is done. A terminal snapshot
// returned here counts as observed.
func (c *Controller) Wait(ctx context.Context, job *Job) (Snapshot, error) {
	select {
	case <-job.Done():
		job.observe()
		return job.Snapshot(), nil
	case <-ctx.Done():
		return job.Snapshot(), ctx.Err()
	}
}

// Observe returns the current snapshot, marking terminal jobs as delivered.
func (c *Controller) Observe(id, userID string) (Snapshot, error) {
	job, err := c.registry.Get(id, userID)
	if err != nil {
		return Snapshot{}, err
	}
	job.observe()
	return job.Snapshot(), nil
}

func (c *Controller) record(job *Job, state State, reason FailureKind) {
	metrics.JobsInFlight.Dec()
	metrics.JobsFinishedTotal.WithLabelValues(string(job.Kind), string(state), string(reason)).Inc()
	snap := job.Snapshot()
	if snap.FinishedAt != nil {
		metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(snap.FinishedAt.Sub(snap.CreatedAt).Seconds())
	}
}

func (c *Controller) publish(job *Job, eventType string) {
	if c.events == nil {
		return
	}

	snap := job.Snapshot()
	event := inats.JobEvent{
		JobID:      job.ID,
		UserID:     job.UserID,
		Kind:       string(job.Kind),
		EventType:  eventType,
		State:      string(snap.State),
		ImageCount: len(snap.Images),
		Timestamp:  c.now().UTC(),
	}
	if snap.Failure != nil {
		event.ErrorKind = string(snap.Failure.Kind)
		event.Message = snap.Failure.Message
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.events.PublishJobEvent(ctx, event); err != nil {
		slog.Warn("jobs: publishing event failed", "job_id", job.ID, "event_type", eventType, "error", err)
	}
}

type uploadError struct {
	err error
}

func (e *uploadError) Error() string { return "storing upload: " + e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

// failureFrom maps an error from validation, the quota service, storage or
// the gateway onto a user-facing Failure.
func (c *Controller) failureFrom(err error) Failure {
	if errors.Is(err, context.Canceled) {
		return Failure{Kind: FailCancelled, Message: MsgCancelled}
	}

	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		return Failure{
			Kind:    FailQuotaExceeded,
			Message: exceeded.Error(),
			Upgrade: &api.Upsell{
				URL:         c.quota.UpgradeURL(),
				CurrentTier: string(exceeded.Tier),
				Resource:    string(exceeded.Kind),
			},
		}
	}

	var persist *quota.PersistenceError
	if errors.As(err, &persist) {
		return Failure{Kind: FailPersistence, Message: MsgQuotaUnknown}
	}

	var me *media.Error
	if errors.As(err, &me) {
		return Failure{Kind: failureKind(me.Kind), Message: me.Message}
	}

	var upErr *uploadError
	if errors.As(err, &upErr) {
		return Failure{Kind: FailInternal, Message: MsgUploadFailed}
	}
	return Failure{Kind: FailInternal, Message: MsgInternalFailed}
}

func failureKind(k media.ErrorKind) FailureKind {
	switch k {
	case media.KindValidation:
		return FailValidation
	case media.KindNetwork:
		return FailNetwork
	case media.KindTimeout:
		return FailTimeout
	}
	return FailProvider
}

func styleOrDefault(s string) media.Style {
	st, _ := media.ParseStyle(s)
	return st
}
