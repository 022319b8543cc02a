// Package orchestrator implements the zone change pipeline: stage record
// mutations into an exclusive changelist, submit them as one unit, poll for
// convergence across the authoritative fleet, verify external resolution,
// and roll back on any post-submission failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/yuriy-kovalchuk/yk-zone-manager/internal/edgeapi"
)

// Outcome is the caller-visible result of one orchestration run.
type Outcome string

const (
	// OutcomeSucceeded: the change converged (and, when verification is
	// enabled, was checked externally).
	OutcomeSucceeded Outcome = "SUCCEEDED"
	// OutcomeFailed: no remote change persisted, or the change timed out
	// while converging and was deliberately left in place.
	OutcomeFailed Outcome = "FAILED"
	// OutcomeRolledBack: the remote change was reverted.
	OutcomeRolledBack Outcome = "ROLLED_BACK"
	// OutcomeRollbackFailed: the remote change persisted and could not be
	// reverted; manual cleanup is required.
	OutcomeRollbackFailed Outcome = "ROLLBACK_FAILED"
)

// ErrRunInFlight is returned when a run is requested for a zone that
// already has one in flight. The remote changelist is a single shared
// resource per zone, so concurrent runs must not race it.
var ErrRunInFlight = errors.New("orchestrator: another run is in flight for this zone")

// Verifier checks externally that a record is observably live, independent
// of the control plane's own status reporting.
type Verifier interface {
	Verify(ctx context.Context, name, rtype string, expected []string, attempts int) (bool, error)
}

// Options tune one Engine. Zero values select defaults.
type Options struct {
	PollInterval       time.Duration
	ConvergenceTimeout time.Duration
	SubmitBackoff      wait.Backoff
	SafetyChecks       edgeapi.SafetyChecks

	// RollbackOnTimeout rolls back when convergence times out. Off by
	// default: a timed-out change is likely still converging.
	RollbackOnTimeout bool
	// CancelRollbackTimeout bounds the best-effort rollback attempted when
	// a run is cancelled after submission.
	CancelRollbackTimeout time.Duration
	// VerifyAttempts is the number of external resolution checks per
	// mutation before giving up (soft failure).
	VerifyAttempts int
}

const defaultCancelRollbackTimeout = time.Minute

// RunResult describes a completed run.
type RunResult struct {
	Zone      string
	Outcome   Outcome
	RequestID string
	Status    PropagationStatus
	// Verified is true when every mutation was externally observed.
	// Verification failure is a soft signal and never changes Outcome.
	Verified bool
	Err      error
}

// Engine owns the per-zone orchestration pipeline. Runs for distinct zones
// may proceed concurrently; within one zone at most one run is in flight.
type Engine struct {
	staging   *StagingManager
	submitter *SubmissionCoordinator
	poller    *ConvergencePoller
	rollback  *RollbackController
	verifier  Verifier // nil disables external verification
	api       ControlPlane
	log       logr.Logger
	opts      Options

	inflight sync.Map // zone -> struct{}
}

// NewEngine assembles the pipeline components over one control plane.
// verifier may be nil to skip external resolution checks.
func NewEngine(api ControlPlane, verifier Verifier, log logr.Logger, opts Options) *Engine {
	if opts.CancelRollbackTimeout <= 0 {
		opts.CancelRollbackTimeout = defaultCancelRollbackTimeout
	}
	if opts.VerifyAttempts <= 0 {
		opts.VerifyAttempts = 3
	}
	staging := NewStagingManager(api, log.WithName("staging"))
	submitter := NewSubmissionCoordinator(api, log.WithName("submit"), opts.SubmitBackoff, opts.SafetyChecks)
	return &Engine{
		staging:   staging,
		submitter: submitter,
		poller:    NewConvergencePoller(api, log.WithName("poll"), opts.PollInterval, opts.ConvergenceTimeout),
		rollback:  NewRollbackController(staging, submitter, log.WithName("rollback")),
		verifier:  verifier,
		api:       api,
		log:       log,
		opts:      opts,
	}
}

// Apply runs the full pipeline for one mutation set against one zone.
// It fails fast with ErrRunInFlight when the zone already has a run in
// flight. A non-nil RunResult is returned for every run that started,
// whatever its outcome; the error return covers only runs that never
// started.
func (e *Engine) Apply(ctx context.Context, zone string, mutations []Mutation, comment string) (*RunResult, error) {
	if zone == "" {
		return nil, &edgeapi.ValidationError{Op: "apply", Detail: "empty zone"}
	}
	if len(mutations) == 0 {
		return nil, &edgeapi.ValidationError{Op: "apply", Detail: "no mutations"}
	}
	if _, loaded := e.inflight.LoadOrStore(zone, struct{}{}); loaded {
		return nil, fmt.Errorf("%w: %s", ErrRunInFlight, zone)
	}
	defer e.inflight.Delete(zone)

	e.log.Info("starting run", "zone", zone, "mutations", len(mutations))
	result := &RunResult{Zone: zone}

	mutations, err := e.capturePriorValues(ctx, zone, mutations)
	if err != nil {
		return e.failed(result, err), nil
	}

	area, err := e.stageAll(ctx, zone, mutations)
	if err != nil {
		return e.failed(result, err), nil
	}

	sub, err := e.submitter.Submit(ctx, area, comment)
	if err != nil {
		if errors.Is(err, ErrAmbiguousState) {
			// The change may or may not be live; revert to be safe.
			sub = &Submission{Zone: zone, Mutations: area.Mutations}
			return e.rollBack(ctx, result, sub, err), nil
		}
		return e.failed(result, err), nil
	}
	result.RequestID = sub.RequestID

	status, err := e.poller.AwaitConvergence(ctx, sub)
	result.Status = status
	if err != nil {
		// Cancellation or a hard status-read failure after submission:
		// best effort rollback under a detached, shorter deadline.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.CancelRollbackTimeout)
		defer cancel()
		return e.rollBack(rbCtx, result, sub, err), nil
	}

	switch status.State {
	case StateFailed:
		return e.rollBack(ctx, result, sub, fmt.Errorf("zone %s activation failed: %s", zone, status.Message)), nil
	case StateTimeout:
		if e.opts.RollbackOnTimeout {
			return e.rollBack(ctx, result, sub, ErrConvergenceTimeout), nil
		}
		// Change stays live; it may still converge after this run ends.
		result.Outcome = OutcomeFailed
		result.Err = ErrConvergenceTimeout
		e.log.Info("run timed out, change left in place", "zone", zone, "requestId", sub.RequestID, "percent", status.Percent)
		return result, nil
	}

	result.Verified = e.verifyMutations(ctx, zone, mutations)
	result.Outcome = OutcomeSucceeded
	e.log.Info("run succeeded", "zone", zone, "requestId", sub.RequestID, "verified", result.Verified)
	return result, nil
}

// capturePriorValues reads the live value sets that REPLACE overwrites and
// DELETE removes, so the inverse set can restore them.
func (e *Engine) capturePriorValues(ctx context.Context, zone string, mutations []Mutation) ([]Mutation, error) {
	out := make([]Mutation, len(mutations))
	copy(out, mutations)
	for i := range out {
		m := &out[i]
		switch m.Op {
		case OpReplace:
			if len(m.PriorValues) > 0 {
				continue
			}
			rs, err := e.api.GetRecordSet(ctx, zone, m.Name, m.Type)
			if err != nil {
				if edgeapi.IsNotFound(err) {
					return nil, &edgeapi.ValidationError{Op: "apply",
						Detail: fmt.Sprintf("cannot replace %s %s: record set does not exist", m.Name, m.Type)}
				}
				return nil, fmt.Errorf("reading current values of %s %s: %w", m.Name, m.Type, err)
			}
			m.PriorValues = rs.Rdata
			if m.TTL <= 0 {
				m.TTL = rs.TTL
			}
		case OpDelete:
			if len(m.Values) > 0 {
				continue
			}
			rs, err := e.api.GetRecordSet(ctx, zone, m.Name, m.Type)
			if err != nil {
				if edgeapi.IsNotFound(err) {
					return nil, &edgeapi.ValidationError{Op: "apply",
						Detail: fmt.Sprintf("cannot delete %s %s: record set does not exist", m.Name, m.Type)}
				}
				return nil, fmt.Errorf("reading current values of %s %s: %w", m.Name, m.Type, err)
			}
			m.Values = rs.Rdata
			if m.TTL <= 0 {
				m.TTL = rs.TTL
			}
		}
	}
	return out, nil
}

// stageAll prepares a fresh staging area, stages the whole set in order and
// verifies the staged diff. A single conflict (the changelist vanished or
// was touched concurrently) triggers one re-prepare of the full set.
func (e *Engine) stageAll(ctx context.Context, zone string, mutations []Mutation) (*StagingArea, error) {
	var lastErr error
	for tries := 0; tries < 2; tries++ {
		area, err := e.staging.Prepare(ctx, zone)
		if err != nil {
			return nil, err
		}
		if lastErr = e.stageInto(ctx, area, mutations); lastErr == nil {
			return area, nil
		}
		if !edgeapi.IsConflict(lastErr) {
			return nil, lastErr
		}
		e.log.Info("staging conflict, re-preparing", "zone", zone, "error", lastErr.Error())
	}
	return nil, lastErr
}

func (e *Engine) stageInto(ctx context.Context, area *StagingArea, mutations []Mutation) error {
	for _, m := range mutations {
		if err := e.staging.Stage(ctx, area, m); err != nil {
			return err
		}
	}
	return e.staging.VerifyStaged(ctx, area)
}

// verifyMutations runs the external resolution check for each mutation.
// Failure here is soft: it is logged and reflected in RunResult.Verified
// but never fails the run, since resolver caching is outside our control.
func (e *Engine) verifyMutations(ctx context.Context, zone string, mutations []Mutation) bool {
	if e.verifier == nil {
		return false
	}
	allVerified := true
	for _, m := range mutations {
		expected := m.Values
		if m.Op == OpDelete {
			expected = nil
		}
		ok, err := e.verifier.Verify(ctx, m.Name, m.Type, expected, e.opts.VerifyAttempts)
		if err != nil {
			e.log.Error(err, "resolution check errored", "zone", zone, "name", m.Name, "type", m.Type)
			allVerified = false
			continue
		}
		if !ok {
			e.log.Info("resolution not yet observable", "zone", zone, "name", m.Name, "type", m.Type)
			allVerified = false
		}
	}
	return allVerified
}

func (e *Engine) failed(result *RunResult, err error) *RunResult {
	result.Outcome = OutcomeFailed
	result.Err = err
	e.log.Error(err, "run failed before submission", "zone", result.Zone)
	return result
}

// rollBack reverts a submitted change and folds the rollback result into
// the run result. cause is the failure that triggered the rollback.
func (e *Engine) rollBack(ctx context.Context, result *RunResult, sub *Submission, cause error) *RunResult {
	result.Err = cause
	if _, err := e.rollback.Rollback(ctx, sub); err != nil {
		result.Outcome = OutcomeRollbackFailed
		result.Err = errors.Join(cause, err)
		e.log.Error(err, "rollback failed, manual intervention required", "zone", result.Zone, "requestId", sub.RequestID)
		return result
	}
	result.Outcome = OutcomeRolledBack
	e.log.Info("run rolled back", "zone", result.Zone, "requestId", sub.RequestID, "cause", cause.Error())
	return result
}
