package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
)

// ErrRollbackFailed means the inverse mutation set could not be applied and
// the zone is in an indeterminate state requiring manual intervention.
var ErrRollbackFailed = errors.New("orchestrator: rollback failed, zone state indeterminate")

// RollbackController returns a zone to its prior observable state by
// submitting the structural inverse of a run's forward mutations. It reuses
// the staging and submission paths, including their retry policies.
type RollbackController struct {
	staging   *StagingManager
	submitter *SubmissionCoordinator
	log       logr.Logger
}

// NewRollbackController wires a rollback path over the given staging and
// submission components.
func NewRollbackController(staging *StagingManager, submitter *SubmissionCoordinator, log logr.Logger) *RollbackController {
	return &RollbackController{staging: staging, submitter: submitter, log: log}
}

// Rollback stages and submits the inverse of sub's mutations. Any failure
// wraps ErrRollbackFailed; retries beyond the submission coordinator's own
// bounds are never attempted.
func (r *RollbackController) Rollback(ctx context.Context, sub *Submission) (*Submission, error) {
	inverse := InverseOf(sub.Mutations)
	r.log.Info("rolling back submission", "zone", sub.Zone, "requestId", sub.RequestID, "mutations", len(inverse))

	area, err := r.staging.Prepare(ctx, sub.Zone)
	if err != nil {
		return nil, fmt.Errorf("preparing rollback for %s: %v: %w", sub.Zone, err, ErrRollbackFailed)
	}
	for _, m := range inverse {
		if err := r.staging.Stage(ctx, area, m); err != nil {
			if derr := r.staging.Discard(ctx, area); derr != nil {
				r.log.Error(derr, "could not discard rollback changelist", "zone", sub.Zone)
			}
			return nil, fmt.Errorf("staging rollback of %s %s for %s: %v: %w", m.Op, m.Name, sub.Zone, err, ErrRollbackFailed)
		}
	}

	comment := fmt.Sprintf("rollback of request %s", sub.RequestID)
	rbSub, err := r.submitter.Submit(ctx, area, comment)
	if err != nil {
		return nil, fmt.Errorf("submitting rollback for %s: %v: %w", sub.Zone, err, ErrRollbackFailed)
	}
	r.log.Info("rollback submitted", "zone", sub.Zone, "requestId", rbSub.RequestID)
	return rbSub, nil
}
