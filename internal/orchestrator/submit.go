package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/yuriy-kovalchuk/yk-zone-manager/internal/edgeapi"
)

var (
	// ErrSubmissionFailed means retries were exhausted before the control
	// plane confirmed the submission; nothing was applied remotely.
	ErrSubmissionFailed = errors.New("orchestrator: submission failed")
	// ErrAmbiguousState means the submission outcome could not be
	// determined. The caller must not assume either success or safety.
	ErrAmbiguousState = errors.New("orchestrator: submission outcome unknown")
)

// DefaultSubmitBackoff bounds submission retries: base 1s, doubling, capped
// at 30s, five attempts.
var DefaultSubmitBackoff = wait.Backoff{
	Duration: time.Second,
	Factor:   2,
	Cap:      30 * time.Second,
	Steps:    5,
}

// Submission is the tracking handle for one accepted changelist. Not
// reusable after the zone reaches a terminal activation state.
type Submission struct {
	Zone      string
	RequestID string
	Mutations []Mutation
}

// SubmissionCoordinator submits a staged mutation set as one atomic unit.
// The control plane applies the whole set or none of it, so a rejection
// never needs per-record compensation. It remembers the request id recorded
// per changelist to disambiguate idempotent resubmission attempts.
type SubmissionCoordinator struct {
	api     ControlPlane
	log     logr.Logger
	backoff wait.Backoff
	checks  edgeapi.SafetyChecks

	mu       sync.Mutex
	recorded map[string]string // zone/changeTag -> request id seen for that changelist
}

// NewSubmissionCoordinator returns a coordinator with the given retry
// policy. A zero backoff selects DefaultSubmitBackoff.
func NewSubmissionCoordinator(api ControlPlane, log logr.Logger, backoff wait.Backoff, checks edgeapi.SafetyChecks) *SubmissionCoordinator {
	if backoff.Steps == 0 {
		backoff = DefaultSubmitBackoff
	}
	return &SubmissionCoordinator{
		api:      api,
		log:      log,
		backoff:  backoff,
		checks:   checks,
		recorded: make(map[string]string),
	}
}

// Submit submits the staged set and returns its tracking handle.
//
// Transient failures are retried with exponential backoff. A retry is safe:
// resubmitting an already-retired changelist comes back as not-found rather
// than a duplicate apply. Not-found is therefore read as "already submitted"
// when a request id was recorded for this changelist earlier, and as
// ErrAmbiguousState when no request id was ever seen.
func (s *SubmissionCoordinator) Submit(ctx context.Context, area *StagingArea, comment string) (*Submission, error) {
	var requestID string
	attempt := 0
	err := retry.OnError(s.backoff, edgeapi.IsTransient, func() error {
		attempt++
		id, err := s.api.SubmitChangelist(ctx, area.Zone, comment, s.checks)
		if err == nil {
			requestID = id
			s.record(area, id)
			return nil
		}
		if edgeapi.IsNotFound(err) {
			if prior := s.recordedFor(area); prior != "" {
				s.log.Info("changelist already retired, assuming prior submission applied",
					"zone", area.Zone, "requestId", prior)
				requestID = prior
				return nil
			}
			return fmt.Errorf("changelist for %s gone on attempt %d with no recorded handle: %w",
				area.Zone, attempt, ErrAmbiguousState)
		}
		if edgeapi.IsTransient(err) {
			s.log.V(1).Info("submit failed, will retry", "zone", area.Zone, "attempt", attempt, "error", err.Error())
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAmbiguousState) {
			return nil, err
		}
		if edgeapi.IsTransient(err) {
			return nil, fmt.Errorf("submitting changelist for %s after %d attempts: %v: %w",
				area.Zone, attempt, err, ErrSubmissionFailed)
		}
		return nil, fmt.Errorf("submitting changelist for %s: %w", area.Zone, err)
	}

	sub := &Submission{
		Zone:      area.Zone,
		RequestID: requestID,
		Mutations: append([]Mutation(nil), area.Mutations...),
	}
	s.log.Info("changelist submitted", "zone", sub.Zone, "requestId", sub.RequestID, "mutations", len(sub.Mutations))
	return sub, nil
}

// Handles are scoped to one changelist so a later changelist for the same
// zone (a rollback, say) never matches a handle from an earlier one.
func (s *SubmissionCoordinator) record(area *StagingArea, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded[area.Zone+"/"+area.ChangeTag] = id
}

func (s *SubmissionCoordinator) recordedFor(area *StagingArea) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorded[area.Zone+"/"+area.ChangeTag]
}
