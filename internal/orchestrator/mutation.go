package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yuriy-kovalchuk/yk-zone-manager/internal/edgeapi"
)

// Op is the logical operation a Mutation performs on one record set.
type Op string

const (
	OpAdd     Op = "ADD"
	OpReplace Op = "REPLACE"
	OpDelete  Op = "DELETE"
)

// Mutation is one logical change to a record set. It is immutable once
// staged; PriorValues holds the value set the mutation overwrites or removes,
// which the inverse needs to restore.
type Mutation struct {
	Name        string
	Type        string
	Op          Op
	TTL         int
	Values      []string
	PriorValues []string
}

// Validate checks the mutation against the zone it targets. Violations are
// reported as validation errors and are never retried.
func (m Mutation) Validate(zone string) error {
	name := strings.TrimSuffix(m.Name, ".")
	z := strings.TrimSuffix(zone, ".")
	if name == "" {
		return &edgeapi.ValidationError{Op: "stage", Detail: "empty record name"}
	}
	if name != z && !strings.HasSuffix(name, "."+z) {
		return &edgeapi.ValidationError{Op: "stage", Detail: fmt.Sprintf("record %q is outside zone %q", m.Name, zone)}
	}
	if m.Type == "" {
		return &edgeapi.ValidationError{Op: "stage", Detail: "empty record type"}
	}
	switch m.Op {
	case OpAdd, OpReplace:
		if m.TTL <= 0 {
			return &edgeapi.ValidationError{Op: "stage", Detail: fmt.Sprintf("invalid TTL %d for %s", m.TTL, m.Name)}
		}
		if len(m.Values) == 0 {
			return &edgeapi.ValidationError{Op: "stage", Detail: fmt.Sprintf("no values for %s %s", m.Op, m.Name)}
		}
	case OpDelete:
		// Value set optional; the engine fills it from the live zone so the
		// inverse can re-add what was removed.
	default:
		return &edgeapi.ValidationError{Op: "stage", Detail: fmt.Sprintf("unknown operation %q", m.Op)}
	}
	return nil
}

// Encode maps the mutation onto the wire operation the control plane expects.
// Pure; no I/O.
func (m Mutation) Encode() edgeapi.RecordSetChange {
	op := "ADD"
	switch m.Op {
	case OpReplace:
		op = "EDIT"
	case OpDelete:
		op = "DELETE"
	}
	return edgeapi.RecordSetChange{
		Name:  m.Name,
		Type:  m.Type,
		TTL:   m.TTL,
		Op:    op,
		Rdata: append([]string(nil), m.Values...),
	}
}

// Inverse returns the mutation that undoes this one: ADD and DELETE swap
// with the same value set, REPLACE swaps new and prior value sets.
func (m Mutation) Inverse() Mutation {
	inv := Mutation{Name: m.Name, Type: m.Type, TTL: m.TTL}
	switch m.Op {
	case OpAdd:
		inv.Op = OpDelete
		inv.Values = append([]string(nil), m.Values...)
	case OpDelete:
		inv.Op = OpAdd
		inv.Values = append([]string(nil), m.Values...)
	case OpReplace:
		inv.Op = OpReplace
		inv.Values = append([]string(nil), m.PriorValues...)
		inv.PriorValues = append([]string(nil), m.Values...)
	}
	return inv
}

// InverseOf builds the rollback set for a forward mutation set. Mutations
// are inverted in reverse order so later forward changes are undone first.
func InverseOf(mutations []Mutation) []Mutation {
	out := make([]Mutation, 0, len(mutations))
	for i := len(mutations) - 1; i >= 0; i-- {
		out = append(out, mutations[i].Inverse())
	}
	return out
}

// sameValueSet compares two rdata value sets ignoring order.
func sameValueSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
