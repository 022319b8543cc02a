package edgeapi

// Changelist is a server-side staging area holding record mutations for one
// zone that have not yet been applied to the live zone.
type Changelist struct {
	Zone         string `json:"zone"`
	ChangeTag    string `json:"changeTag"`
	LastModified string `json:"lastModifiedDate,omitempty"`
	Stale        bool   `json:"stale,omitempty"`
}

// RecordSetChange is one staged operation against a record set, in the wire
// shape the control plane expects.
type RecordSetChange struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	TTL   int      `json:"ttl"`
	Op    string   `json:"op"` // "ADD", "EDIT" or "DELETE"
	Rdata []string `json:"rdata,omitempty"`
}

// RecordSet is the live value set of one name/type pair in a zone.
type RecordSet struct {
	Name  string   `json:"name"`
	Type  string   `json:"type"`
	TTL   int      `json:"ttl"`
	Rdata []string `json:"rdata"`
}

// SafetyChecks are the submission-time flags the control plane honours.
type SafetyChecks struct {
	// ValidateRecords asks the control plane to run record-level validation
	// before accepting the changelist.
	ValidateRecords bool `json:"validateRecords"`
	// BypassWarnings submits even when zone-level warnings are raised.
	BypassWarnings bool `json:"bypassSafetyChecks"`
}

// Zone activation states as reported by the control plane.
const (
	ActivationPending = "PENDING"
	ActivationActive  = "ACTIVE"
	ActivationFailed  = "FAILED"
)

// ZoneStatus is a point-in-time read of a zone's activation progress across
// the authoritative server fleet.
type ZoneStatus struct {
	Zone            string `json:"zone"`
	ActivationState string `json:"activationState"`
	PropagationPct  int    `json:"propagationPercentage"`
	ServersUpdated  int    `json:"serversUpdated"`
	ServersTotal    int    `json:"serversTotal"`
	Message         string `json:"message,omitempty"`
}
