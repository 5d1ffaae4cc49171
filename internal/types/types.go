// Package types defines core data structures for the change validation pipeline.
package types

import (
	"encoding/json"
	"sort"
	"time"
)

// Status is the lifecycle state of a validation request. Transitions only
// move forward: received -> processing -> completed|failed.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// rank orders statuses for monotonicity checks. Terminal states share the
// highest rank so completed/failed never regress into each other.
func (s Status) rank() int {
	switch s {
	case StatusReceived:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether the status is an absorbing state for the current
// processing attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next respects the
// forward-only state machine. Re-entering processing from failed is allowed:
// that is the retry path, which restarts the full pipeline.
func (s Status) CanTransitionTo(next Status) bool {
	if s == StatusFailed && next == StatusProcessing {
		return true
	}
	return next.rank() > s.rank()
}

// OverallStatus is the three-valued verdict outcome.
type OverallStatus string

const (
	VerdictPassed  OverallStatus = "PASSED"
	VerdictFailed  OverallStatus = "FAILED"
	VerdictWarning OverallStatus = "WARNING"
)

// Known component types. The set is open: the collector registry accepts
// arbitrary strings.
const (
	ComponentCatalogItem = "catalog_item"
	ComponentLDAPServer  = "ldap_server"
	ComponentMIDServer   = "mid_server"
	ComponentWorkflow    = "workflow"
)

// ValidationRequest is the durable record of one webhook receipt and its
// processing lifecycle. There is exactly one per change ID; rows are never
// deleted (audit trail).
type ValidationRequest struct {
	ID                   string          `json:"id"`
	ChangeID             string          `json:"change_id"`
	ChangeNumber         string          `json:"change_number"`
	ComponentType        string          `json:"component_type"`
	ComponentID          string          `json:"component_id,omitempty"`
	RawPayload           json.RawMessage `json:"raw_payload,omitempty"` // immutable audit copy of the inbound body
	RequestSignature     string          `json:"request_signature,omitempty"`
	RequestedBy          string          `json:"requested_by,omitempty"`
	Status               Status          `json:"status"`
	Verdict              *Verdict        `json:"verdict,omitempty"`        // set iff status == completed
	FailureReason        string          `json:"failure_reason,omitempty"` // set iff status == failed
	ProcessingDurationMs *int64          `json:"processing_duration_ms,omitempty"`
	RetryCount           int             `json:"retry_count"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	ProcessedAt          *time.Time      `json:"processed_at,omitempty"`
}

// Clone returns a deep copy so store implementations can hand out rows
// without aliasing internal state.
func (r *ValidationRequest) Clone() *ValidationRequest {
	if r == nil {
		return nil
	}
	out := *r
	if r.RawPayload != nil {
		out.RawPayload = append(json.RawMessage(nil), r.RawPayload...)
	}
	if r.Verdict != nil {
		out.Verdict = r.Verdict.Clone()
	}
	if r.ProcessingDurationMs != nil {
		ms := *r.ProcessingDurationMs
		out.ProcessingDurationMs = &ms
	}
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		out.ProcessedAt = &t
	}
	return &out
}

// Verdict is the pipeline's conclusion for one processing attempt. It is
// produced fresh each attempt and immutable once attached to a request.
type Verdict struct {
	OverallStatus    OverallStatus   `json:"overall_status"`
	Checks           map[string]bool `json:"checks"`
	Synthesis        string          `json:"synthesis,omitempty"`
	Risks            []string        `json:"risks,omitempty"`
	RemediationSteps []string        `json:"remediation_steps,omitempty"`
}

// Clone returns a deep copy of the verdict.
func (v *Verdict) Clone() *Verdict {
	if v == nil {
		return nil
	}
	out := *v
	if v.Checks != nil {
		out.Checks = make(map[string]bool, len(v.Checks))
		for k, val := range v.Checks {
			out.Checks[k] = val
		}
	}
	if v.Risks != nil {
		out.Risks = append([]string(nil), v.Risks...)
	}
	if v.RemediationSteps != nil {
		out.RemediationSteps = append([]string(nil), v.RemediationSteps...)
	}
	return &out
}

// CheckNames returns the check names in sorted order for stable rendering.
func (v *Verdict) CheckNames() []string {
	names := make([]string, 0, len(v.Checks))
	for name := range v.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FactBundle is the transient collection result handed to the synthesizer.
// Every field is always populated; a fetch that failed or timed out leaves
// its fact nil and an entry in CollectionErrors, and every derived check
// defaults to false (fail-safe: unknown is never treated as passing).
type FactBundle struct {
	ComponentType     string             `json:"component_type"`
	ComponentID       string             `json:"component_id,omitempty"`
	CollectionErrors  []string           `json:"collection_errors"`
	EnvironmentHealth *EnvironmentHealth `json:"environment_health,omitempty"`
	ChangeContext     *ChangeContext     `json:"change_context,omitempty"`
	ComponentFacts    *ComponentFacts    `json:"component_facts,omitempty"`
	Checks            map[string]bool    `json:"checks"`
}

// EnvironmentHealth captures clone freshness of the environment under test.
type EnvironmentHealth struct {
	TargetInstance string     `json:"target_instance,omitempty"`
	LastCloneDate  *time.Time `json:"last_clone_date,omitempty"`
	DaysSinceClone int        `json:"days_since_clone"`
	Stale          bool       `json:"stale"`
	StaleAfterDays int        `json:"stale_after_days"`
	CloneRecordID  string     `json:"clone_record_id,omitempty"`
}

// ChangeContext is the ticket metadata fetched for the change under validation.
type ChangeContext struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number,omitempty"`
	ShortDescription string `json:"short_description,omitempty"`
	State            string `json:"state,omitempty"`
	AssignedTo       string `json:"assigned_to,omitempty"`
	PlannedStart     string `json:"planned_start,omitempty"`
	PlannedEnd       string `json:"planned_end,omitempty"`
}

// ComponentFacts is a tagged variant keyed by component type. Exactly one of
// the typed fields is set for built-in component types; Generic holds the raw
// field map for table-backed types registered at runtime.
type ComponentFacts struct {
	ComponentType string            `json:"component_type"`
	CatalogItem   *CatalogItemFacts `json:"catalog_item,omitempty"`
	LDAPServer    *LDAPServerFacts  `json:"ldap_server,omitempty"`
	MIDServer     *MIDServerFacts   `json:"mid_server,omitempty"`
	Workflow      *WorkflowFacts    `json:"workflow,omitempty"`
	Generic       map[string]string `json:"generic,omitempty"`
}

// CatalogItemFacts are the fields inspected for catalog item validation.
type CatalogItemFacts struct {
	SysID            string `json:"sys_id"`
	Name             string `json:"name,omitempty"`
	ShortDescription string `json:"short_description,omitempty"`
	Category         string `json:"category,omitempty"`
	Workflow         string `json:"workflow,omitempty"`
	FlowDesignerFlow string `json:"flow_designer_flow,omitempty"`
	Active           bool   `json:"active"`
}

// LDAPServerFacts are the fields inspected for LDAP server validation.
type LDAPServerFacts struct {
	SysID           string `json:"sys_id"`
	Name            string `json:"name,omitempty"`
	ListenerEnabled bool   `json:"listener_enabled"`
	MIDServer       string `json:"mid_server,omitempty"`
	ServerURLs      string `json:"server_urls,omitempty"`
}

// MIDServerFacts are the fields inspected for MID server validation.
type MIDServerFacts struct {
	SysID        string     `json:"sys_id"`
	Name         string     `json:"name,omitempty"`
	Status       string     `json:"status,omitempty"`
	Capabilities string     `json:"capabilities,omitempty"`
	LastRefresh  *time.Time `json:"last_refresh,omitempty"`
}

// WorkflowFacts are the fields inspected for workflow validation.
type WorkflowFacts struct {
	SysID        string `json:"sys_id"`
	Name         string `json:"name,omitempty"`
	Published    bool   `json:"published"`
	CheckedOutBy string `json:"checked_out_by,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
