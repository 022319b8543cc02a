package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/yuriy-kovalchuk/yk-zone-manager/internal/edgeapi"
)

// State is the poller-visible activation state of a submission.
type State string

const (
	StatePending State = "PENDING"
	StateActive  State = "ACTIVE"
	StateFailed  State = "FAILED"
	// StateTimeout means the deadline expired while still pending. The
	// change is treated as failed for this run, but the zone may still
	// converge afterwards; the caller decides whether to roll back.
	StateTimeout State = "TIMEOUT"
)

// ErrConvergenceTimeout marks a run whose change did not converge within the
// deadline and was left in place.
var ErrConvergenceTimeout = errors.New("orchestrator: convergence deadline expired")

const (
	DefaultPollInterval       = 10 * time.Second
	DefaultConvergenceTimeout = 5 * time.Minute
)

// PropagationStatus is the poller's view of how far a submission has
// propagated. Percent is the high-water mark across all polls of one
// submission and never decreases.
type PropagationStatus struct {
	State          State
	Percent        int
	ServersUpdated int
	ServersTotal   int
	Message        string
}

// ConvergencePoller polls zone activation status until it reaches a terminal
// state or the deadline expires. Every poll is a pure read.
type ConvergencePoller struct {
	api      ControlPlane
	log      logr.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewConvergencePoller returns a poller with the given interval and
// deadline; zero values select the defaults.
func NewConvergencePoller(api ControlPlane, log logr.Logger, interval, timeout time.Duration) *ConvergencePoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultConvergenceTimeout
	}
	return &ConvergencePoller{api: api, log: log, interval: interval, timeout: timeout}
}

// AwaitConvergence polls until the zone reaches ACTIVE or FAILED, the
// deadline expires (StateTimeout), or ctx is cancelled. Transient read
// failures and percentage regressions are tolerated: the previous high-water
// mark is kept and the loop continues.
func (p *ConvergencePoller) AwaitConvergence(ctx context.Context, sub *Submission) (PropagationStatus, error) {
	status := PropagationStatus{State: StatePending}

	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := wait.PollUntilContextCancel(pollCtx, p.interval, true, func(tickCtx context.Context) (bool, error) {
		zs, err := p.api.GetZoneStatus(tickCtx, sub.Zone)
		if err != nil {
			if edgeapi.IsTransient(err) {
				p.log.V(1).Info("status read failed, will poll again", "zone", sub.Zone, "error", err.Error())
				return false, nil
			}
			return false, err
		}

		if zs.PropagationPct >= status.Percent {
			status.Percent = zs.PropagationPct
			status.ServersUpdated = zs.ServersUpdated
			status.ServersTotal = zs.ServersTotal
		} else {
			// Benign read glitch; keep the high-water mark.
			p.log.V(1).Info("ignoring percentage regression", "zone", sub.Zone,
				"reported", zs.PropagationPct, "highWater", status.Percent)
		}
		status.Message = zs.Message

		switch zs.ActivationState {
		case edgeapi.ActivationActive:
			status.State = StateActive
			return true, nil
		case edgeapi.ActivationFailed:
			status.State = StateFailed
			return true, nil
		default:
			p.log.V(1).Info("zone still propagating", "zone", sub.Zone,
				"percent", status.Percent, "serversUpdated", status.ServersUpdated, "serversTotal", status.ServersTotal)
			return false, nil
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			// The run itself was cancelled, not our poll deadline.
			return status, fmt.Errorf("polling zone %s: %w", sub.Zone, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			status.State = StateTimeout
			p.log.Info("convergence deadline expired", "zone", sub.Zone, "percent", status.Percent)
			return status, nil
		}
		return status, fmt.Errorf("polling zone %s: %w", sub.Zone, err)
	}
	p.log.Info("zone reached terminal state", "zone", sub.Zone, "state", status.State,
		"percent", status.Percent, "message", status.Message)
	return status, nil
}
