package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/yuriy-kovalchuk/yk-zone-manager/internal/edgeapi"
)

// fakeControlPlane is an in-memory control plane for tests. It enforces the
// at-most-one-changelist-per-zone invariant by rejecting a second create
// with a conflict, and applies submitted changes to an in-memory zone.
type fakeControlPlane struct {
	mu sync.Mutex

	changelists map[string]*edgeapi.Changelist
	staged      map[string][]edgeapi.RecordSetChange
	records     map[string]map[string]*edgeapi.RecordSet
	statuses    map[string][]edgeapi.ZoneStatus // queued poll responses, last one sticky

	createErrs []error // consumed before normal behavior, nil entries mean success
	stageErrs  []error
	deleteErrs []error
	submitErrs []error
	statusErrs []error

	creates     int
	deletes     int
	submissions []fakeSubmission
	nextTag     int
	nextReq     int
}

type fakeSubmission struct {
	Zone    string
	Comment string
	Changes []edgeapi.RecordSetChange
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		changelists: make(map[string]*edgeapi.Changelist),
		staged:      make(map[string][]edgeapi.RecordSetChange),
		records:     make(map[string]map[string]*edgeapi.RecordSet),
		statuses:    make(map[string][]edgeapi.ZoneStatus),
	}
}

func popErr(q *[]error) error {
	if len(*q) == 0 {
		return nil
	}
	err := (*q)[0]
	*q = (*q)[1:]
	return err
}

func (f *fakeControlPlane) setRecord(zone, name, rtype string, ttl int, values ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[zone] == nil {
		f.records[zone] = make(map[string]*edgeapi.RecordSet)
	}
	f.records[zone][name+"/"+rtype] = &edgeapi.RecordSet{Name: name, Type: rtype, TTL: ttl, Rdata: values}
}

func (f *fakeControlPlane) record(zone, name, rtype string) *edgeapi.RecordSet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[zone][name+"/"+rtype]
}

func (f *fakeControlPlane) queueStatus(zone string, statuses ...edgeapi.ZoneStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[zone] = append(f.statuses[zone], statuses...)
}

func (f *fakeControlPlane) CreateChangelist(_ context.Context, zone string) (*edgeapi.Changelist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := popErr(&f.createErrs); err != nil {
		return nil, err
	}
	if _, exists := f.changelists[zone]; exists {
		return nil, fmt.Errorf("changelist exists for %s: %w", zone, edgeapi.ErrConflict)
	}
	f.creates++
	f.nextTag++
	cl := &edgeapi.Changelist{Zone: zone, ChangeTag: fmt.Sprintf("cl-%d", f.nextTag)}
	f.changelists[zone] = cl
	f.staged[zone] = nil
	return cl, nil
}

func (f *fakeControlPlane) GetChangelist(_ context.Context, zone string) (*edgeapi.Changelist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cl, ok := f.changelists[zone]
	if !ok {
		return nil, fmt.Errorf("no changelist for %s: %w", zone, edgeapi.ErrNotFound)
	}
	return cl, nil
}

func (f *fakeControlPlane) DeleteChangelist(_ context.Context, zone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := popErr(&f.deleteErrs); err != nil {
		return err
	}
	if _, ok := f.changelists[zone]; !ok {
		return fmt.Errorf("no changelist for %s: %w", zone, edgeapi.ErrNotFound)
	}
	f.deletes++
	delete(f.changelists, zone)
	delete(f.staged, zone)
	return nil
}

func (f *fakeControlPlane) AddRecordSetChange(_ context.Context, zone string, change edgeapi.RecordSetChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := popErr(&f.stageErrs); err != nil {
		return err
	}
	if _, ok := f.changelists[zone]; !ok {
		return fmt.Errorf("no changelist for %s: %w", zone, edgeapi.ErrNotFound)
	}
	f.staged[zone] = append(f.staged[zone], change)
	return nil
}

func (f *fakeControlPlane) ListRecordSetChanges(_ context.Context, zone string) ([]edgeapi.RecordSetChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.changelists[zone]; !ok {
		return nil, fmt.Errorf("no changelist for %s: %w", zone, edgeapi.ErrNotFound)
	}
	return append([]edgeapi.RecordSetChange(nil), f.staged[zone]...), nil
}

func (f *fakeControlPlane) SubmitChangelist(_ context.Context, zone, comment string, _ edgeapi.SafetyChecks) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := popErr(&f.submitErrs); err != nil {
		return "", err
	}
	if _, ok := f.changelists[zone]; !ok {
		return "", fmt.Errorf("no changelist for %s: %w", zone, edgeapi.ErrNotFound)
	}
	changes := f.staged[zone]
	for _, ch := range changes {
		f.applyLocked(zone, ch)
	}
	f.submissions = append(f.submissions, fakeSubmission{
		Zone:    zone,
		Comment: comment,
		Changes: append([]edgeapi.RecordSetChange(nil), changes...),
	})
	delete(f.changelists, zone)
	delete(f.staged, zone)
	f.nextReq++
	return fmt.Sprintf("req-%d", f.nextReq), nil
}

func (f *fakeControlPlane) applyLocked(zone string, ch edgeapi.RecordSetChange) {
	if f.records[zone] == nil {
		f.records[zone] = make(map[string]*edgeapi.RecordSet)
	}
	key := ch.Name + "/" + ch.Type
	switch ch.Op {
	case "ADD":
		if rs, ok := f.records[zone][key]; ok {
			rs.Rdata = append(rs.Rdata, ch.Rdata...)
			return
		}
		f.records[zone][key] = &edgeapi.RecordSet{Name: ch.Name, Type: ch.Type, TTL: ch.TTL, Rdata: ch.Rdata}
	case "EDIT":
		f.records[zone][key] = &edgeapi.RecordSet{Name: ch.Name, Type: ch.Type, TTL: ch.TTL, Rdata: ch.Rdata}
	case "DELETE":
		delete(f.records[zone], key)
	}
}

func (f *fakeControlPlane) GetZoneStatus(_ context.Context, zone string) (*edgeapi.ZoneStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := popErr(&f.statusErrs); err != nil {
		return nil, err
	}
	queue := f.statuses[zone]
	if len(queue) == 0 {
		return &edgeapi.ZoneStatus{Zone: zone, ActivationState: edgeapi.ActivationActive, PropagationPct: 100}, nil
	}
	st := queue[0]
	if len(queue) > 1 {
		f.statuses[zone] = queue[1:]
	}
	return &st, nil
}

func (f *fakeControlPlane) GetRecordSet(_ context.Context, zone, name, rtype string) (*edgeapi.RecordSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs, ok := f.records[zone][name+"/"+rtype]
	if !ok {
		return nil, fmt.Errorf("no record set %s/%s in %s: %w", name, rtype, zone, edgeapi.ErrNotFound)
	}
	out := *rs
	out.Rdata = append([]string(nil), rs.Rdata...)
	return &out, nil
}
