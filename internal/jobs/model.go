package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixora-labs/pixora/internal/api"
	"github.com/pixora-labs/pixora/internal/quota"
)

// State is a job's position in its lifecycle.
type State string

const (
	StateIdle             State = "idle"
	StatePreparing        State = "preparing"
	StateSubmitting       State = "submitting"
	StateAwaitingProvider State = "awaiting_provider"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// FailureKind classifies why a job ended without images.
type FailureKind string

const (
	FailValidation    FailureKind = "validation"
	FailQuotaExceeded FailureKind = "quota_exceeded"
	FailProvider      FailureKind = "provider"
	FailNetwork       FailureKind = "network"
	FailTimeout       FailureKind = "timeout"
	FailPersistence   FailureKind = "persistence"
	FailCancelled     FailureKind = "cancelled"
	FailInternal      FailureKind = "internal"
)

// Failure is the user-facing outcome of a failed or cancelled job.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
	Upgrade *api.Upsell `json:"upgrade,omitempty"`
}

// Input is what the caller asked for. ImageData carries a multipart upload
// and is never serialized.
type Input struct {
	Prompt    string `json:"prompt,omitempty"`
	Style     string `json:"style,omitempty"`
	Quality   string `json:"quality,omitempty"`
	Count     int    `json:"count,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	Filename  string `json:"filename,omitempty"`
	ImageData []byte `json:"-"`
}

// Snapshot is a point-in-time copy of a job, safe to serialize.
type Snapshot struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Kind       quota.Kind `json:"kind"`
	State      State      `json:"state"`
	Stage      string     `json:"stage,omitempty"`
	StageIndex int        `json:"stage_index"`
	Progress   int        `json:"progress"`
	Input      Input      `json:"input"`
	Images     []string   `json:"images,omitempty"`
	Failure    *Failure   `json:"error,omitempty"`
	Reconciled bool       `json:"reconciled,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Job is one generate or upscale request moving through the state machine.
// All fields after mu are guarded by it.
type Job struct {
	ID     string
	UserID string
	Kind   quota.Kind

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	stages     []Stage
	stageIndex int
	progress   int
	input      Input
	images     []string
	failure    *Failure
	reconciled bool
	committing bool
	held       bool
	observed   bool
	createdAt  time.Time
	updatedAt  time.Time
	finishedAt time.Time
}

func newJob(userID string, kind quota.Kind, in Input, now time.Time) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateIdle,
		stages:    StagesFor(kind),
		input:     in,
		createdAt: now,
		updatedAt: now,
	}
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := Snapshot{
		ID:         j.ID,
		UserID:     j.UserID,
		Kind:       j.Kind,
		State:      j.state,
		StageIndex: j.stageIndex,
		Progress:   j.progress,
		Input:      j.input,
		Images:     append([]string(nil), j.images...),
		Reconciled: j.reconciled,
		CreatedAt:  j.createdAt,
		UpdatedAt:  j.updatedAt,
	}
	snap.Input.ImageData = nil
	if j.stageIndex < len(j.stages) {
		snap.Stage = j.stages[j.stageIndex].Name
	}
	if j.failure != nil {
		f := *j.failure
		snap.Failure = &f
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}

// transition moves a live job to state. It is a no-op once terminal.
func (j *Job) transition(state State, now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = state
	j.updatedAt = now
	return true
}

// admit moves a job that passed the quota check to submitting and records
// that it holds a reserved unit. It fails if the job was cancelled meanwhile.
func (j *Job) admit(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = StateSubmitting
	j.held = true
	j.updatedAt = now
	return true
}

// dropHold clears the reservation flag, reporting whether it was set.
func (j *Job) dropHold() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	held := j.held
	j.held = false
	return held
}

func (j *Job) setStage(index int, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() || index >= len(j.stages) {
		return
	}
	j.stageIndex = index
	if p := j.stages[index].Percent; p > j.progress {
		j.progress = p
	}
	j.updatedAt = now
}

// tick advances cosmetic generate progress by one step.
func (j *Job) tick(elapsed time.Duration, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateAwaitingProvider {
		return
	}
	j.progress = min(j.progress+progressStep, progressCap)
	j.stageIndex = stageAt(j.stages, elapsed)
	j.updatedAt = now
}

// claimCommit marks the job as past the point of cancellation. It fails if
// the job was cancelled first.
func (j *Job) claimCommit() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.committing = true
	return true
}

func (j *Job) markReconciled() {
	j.mu.Lock()
	j.reconciled = true
	j.mu.Unlock()
}

func (j *Job) succeed(images []string, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = StateSucceeded
	j.images = images
	j.stageIndex = len(j.stages) - 1
	j.progress = 100
	j.finishLocked(now)
}

// fail records a terminal failure unless the job already finished.
func (j *Job) fail(f Failure, now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.Terminal() {
		return false
	}
	j.state = StateFailed
	if f.Kind == FailCancelled {
		j.state = StateCancelled
	}
	j.failure = &f
	j.finishLocked(now)
	return true
}

// requestCancel cancels a job that has not started committing.
func (j *Job) requestCancel(now time.Time) bool {
	j.mu.Lock()
	if j.state.Terminal() || j.committing {
		j.mu.Unlock()
		return false
	}
	j.state = StateCancelled
	j.failure = &Failure{Kind: FailCancelled, Message: MsgCancelled}
	j.finishLocked(now)
	j.mu.Unlock()
	return true
}

func (j *Job) finishLocked(now time.Time) {
	j.updatedAt = now
	j.finishedAt = now
	j.cancel()
	close(j.done)
}

// observe marks a terminal snapshot as delivered to the caller.
func (j *Job) observe() {
	j.mu.Lock()
	if j.state.Terminal() {
		j.observed = true
	}
	j.mu.Unlock()
}

// collectable reports whether the registry may drop the job.
func (j *Job) collectable(now time.Time, retention time.Duration) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		return false
	}
	return j.observed || now.Sub(j.finishedAt) >= retention
}
