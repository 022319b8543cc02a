package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/yuriy-kovalchuk/yk-zone-manager/internal/edgeapi"
)

// ControlPlane is the slice of the edgeapi client the orchestrator uses.
type ControlPlane interface {
	CreateChangelist(ctx context.Context, zone string) (*edgeapi.Changelist, error)
	GetChangelist(ctx context.Context, zone string) (*edgeapi.Changelist, error)
	DeleteChangelist(ctx context.Context, zone string) error
	AddRecordSetChange(ctx context.Context, zone string, change edgeapi.RecordSetChange) error
	ListRecordSetChanges(ctx context.Context, zone string) ([]edgeapi.RecordSetChange, error)
	SubmitChangelist(ctx context.Context, zone, comment string, checks edgeapi.SafetyChecks) (string, error)
	GetZoneStatus(ctx context.Context, zone string) (*edgeapi.ZoneStatus, error)
	GetRecordSet(ctx context.Context, zone, name, rtype string) (*edgeapi.RecordSet, error)
}

// stagingBackoff bounds retries of individual staging calls.
var stagingBackoff = wait.Backoff{
	Duration: 500 * time.Millisecond,
	Factor:   2,
	Cap:      10 * time.Second,
	Steps:    4,
}

// StagingArea mirrors the remote changelist for one run: the zone, the
// opaque change tag the control plane assigned, and the mutations staged so
// far in order.
type StagingArea struct {
	Zone      string
	ChangeTag string
	Mutations []Mutation
}

// StagingManager owns the changelist lifecycle. The control plane has no
// cross-client reservation, so exclusivity is advisory: Prepare always
// discards whatever changelist exists and recreates a fresh one, which
// guarantees exclusivity for the duration of this run only.
type StagingManager struct {
	api ControlPlane
	log logr.Logger
}

// NewStagingManager returns a StagingManager over the given control plane.
func NewStagingManager(api ControlPlane, log logr.Logger) *StagingManager {
	return &StagingManager{api: api, log: log}
}

// Prepare returns a fresh, empty staging area for the zone. A stale
// changelist left by a previous run is discarded first. Idempotent: two
// calls in a row each yield a fresh empty area.
func (s *StagingManager) Prepare(ctx context.Context, zone string) (*StagingArea, error) {
	existing, err := s.api.GetChangelist(ctx, zone)
	if err != nil && !edgeapi.IsNotFound(err) {
		return nil, fmt.Errorf("reading changelist for %s: %w", zone, err)
	}
	if existing != nil {
		s.log.Info("discarding stale changelist", "zone", zone, "changeTag", existing.ChangeTag)
		if err := s.deleteWithRetry(ctx, zone); err != nil {
			return nil, fmt.Errorf("discarding stale changelist for %s: %w", zone, edgeapi.ErrConflict)
		}
	}

	var cl *edgeapi.Changelist
	err = retry.OnError(stagingBackoff, edgeapi.IsTransient, func() error {
		var cerr error
		cl, cerr = s.api.CreateChangelist(ctx, zone)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("creating changelist for %s: %w", zone, err)
	}
	s.log.Info("prepared staging area", "zone", zone, "changeTag", cl.ChangeTag)
	return &StagingArea{Zone: zone, ChangeTag: cl.ChangeTag}, nil
}

// Stage validates, encodes and appends one mutation to the staging area.
// Order matters: later operations on the same name/type supersede earlier
// ones. A vanished changelist surfaces as ErrConflict so the caller can
// re-Prepare.
func (s *StagingManager) Stage(ctx context.Context, area *StagingArea, m Mutation) error {
	if err := m.Validate(area.Zone); err != nil {
		return err
	}
	change := m.Encode()
	err := retry.OnError(stagingBackoff, edgeapi.IsTransient, func() error {
		return s.api.AddRecordSetChange(ctx, area.Zone, change)
	})
	if err != nil {
		if edgeapi.IsNotFound(err) || edgeapi.IsConflict(err) {
			return fmt.Errorf("changelist for %s disappeared while staging %s: %w", area.Zone, m.Name, edgeapi.ErrConflict)
		}
		return fmt.Errorf("staging %s %s for %s: %w", m.Op, m.Name, area.Zone, err)
	}
	area.Mutations = append(area.Mutations, m)
	s.log.V(1).Info("staged mutation", "zone", area.Zone, "name", m.Name, "type", m.Type, "op", m.Op)
	return nil
}

// VerifyStaged checks that the remote changelist holds exactly the
// operations this run staged, in order. A mismatch means another client
// touched the changelist and is reported as ErrConflict.
func (s *StagingManager) VerifyStaged(ctx context.Context, area *StagingArea) error {
	staged, err := s.api.ListRecordSetChanges(ctx, area.Zone)
	if err != nil {
		if edgeapi.IsNotFound(err) {
			return fmt.Errorf("changelist for %s disappeared: %w", area.Zone, edgeapi.ErrConflict)
		}
		return fmt.Errorf("listing staged changes for %s: %w", area.Zone, err)
	}
	if len(staged) != len(area.Mutations) {
		return fmt.Errorf("changelist for %s has %d staged changes, expected %d: %w",
			area.Zone, len(staged), len(area.Mutations), edgeapi.ErrConflict)
	}
	for i, m := range area.Mutations {
		want := m.Encode()
		got := staged[i]
		if got.Name != want.Name || got.Type != want.Type || got.Op != want.Op || !sameValueSet(got.Rdata, want.Rdata) {
			return fmt.Errorf("staged change %d for %s does not match %s %s: %w",
				i, area.Zone, want.Op, want.Name, edgeapi.ErrConflict)
		}
	}
	return nil
}

// Discard deletes the staging area. Discarding one that no longer exists is
// success, not an error.
func (s *StagingManager) Discard(ctx context.Context, area *StagingArea) error {
	if err := s.deleteWithRetry(ctx, area.Zone); err != nil {
		return fmt.Errorf("discarding changelist for %s: %w", area.Zone, err)
	}
	return nil
}

func (s *StagingManager) deleteWithRetry(ctx context.Context, zone string) error {
	err := retry.OnError(stagingBackoff, edgeapi.IsTransient, func() error {
		return s.api.DeleteChangelist(ctx, zone)
	})
	if edgeapi.IsNotFound(err) {
		return nil
	}
	return err
}
