// Package logging: governance audit trail.
// Audit events are structured JSONL records that double as datalog facts, so
// the policy kernel can query pipeline history the same way it queries live
// proposal facts.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Severity buckets for audit events.
type Severity string

const (
	SeverityEvent   Severity = "EVENT"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
	SeverityFatal   Severity = "FATAL"
)

// AuditEvent is one audit trail record.
type AuditEvent struct {
	Timestamp int64          `json:"ts"` // Unix milliseconds
	Severity  Severity       `json:"sev"`
	Code      string         `json:"code"`
	Fields    map[string]any `json:"fields,omitempty"`
	Fact      string         `json:"fact"` // datalog rendering
}

// AuditTrail writes audit events to a JSONL file. Writes are fire-and-forget:
// a sink failure is reported to stderr once and never propagates into the
// pipeline operation that triggered the event.
type AuditTrail struct {
	mu       sync.Mutex
	file     *os.File
	warnOnce sync.Once
}

// OpenAudit opens (or creates) the audit trail under the logging directory.
// Initialize must have been called first.
func OpenAudit() (*AuditTrail, error) {
	dir := LogsDir()
	if dir == "" {
		return nil, fmt.Errorf("logging not initialized")
	}

	path := filepath.Join(dir, "audit.jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit trail: %w", err)
	}
	return &AuditTrail{file: file}, nil
}

// NewDiscardAudit returns a trail that drops all events. Used before
// bootstrap and in tests that do not inspect the trail.
func NewDiscardAudit() *AuditTrail {
	return &AuditTrail{}
}

// Event records an informational governance event.
func (a *AuditTrail) Event(code string, fields map[string]any) {
	a.write(SeverityEvent, code, fields)
}

// Warning records a recoverable anomaly.
func (a *AuditTrail) Warning(code string, fields map[string]any) {
	a.write(SeverityWarning, code, fields)
}

// Error records a pipeline operation failure.
func (a *AuditTrail) Error(code string, fields map[string]any) {
	a.write(SeverityError, code, fields)
}

// Fatal records a correctness violation. The pipeline re-throws after
// logging; the trail itself never halts anything.
func (a *AuditTrail) Fatal(code string, fields map[string]any) {
	a.write(SeverityFatal, code, fields)
}

// Close flushes and closes the underlying file.
func (a *AuditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

func (a *AuditTrail) write(sev Severity, code string, fields map[string]any) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}

	event := AuditEvent{
		Timestamp: time.Now().UnixMilli(),
		Severity:  sev,
		Code:      code,
		Fields:    fields,
	}
	event.Fact = renderFact(event)

	data, err := json.Marshal(event)
	if err != nil {
		a.warnStderr(err)
		return
	}
	if _, err := a.file.Write(append(data, '\n')); err != nil {
		a.warnStderr(err)
	}
}

func (a *AuditTrail) warnStderr(err error) {
	a.warnOnce.Do(func() {
		fmt.Fprintf(os.Stderr, "[audit] trail write failed, events will be dropped: %v\n", err)
	})
}

// renderFact converts an event into a datalog fact keyed by the code family.
// Codes follow FAMILY_DETAIL, e.g. LEDGER_APPEND, STAGING_EVICTED.
func renderFact(e AuditEvent) string {
	family := e.Code
	if i := strings.IndexByte(family, '_'); i > 0 {
		family = family[:i]
	}

	switch family {
	case "LEDGER":
		return fmt.Sprintf("mutation_registered(%d, /%s, %q, %q, %q).",
			e.Timestamp, strings.ToLower(e.Code), str(e.Fields, "mutationId"),
			str(e.Fields, "selfHash"), str(e.Fields, "previousChainHash"))
	case "STAGING":
		return fmt.Sprintf("staging_event(%d, /%s, %q, %q, %v).",
			e.Timestamp, strings.ToLower(e.Code), str(e.Fields, "proposalId"),
			str(e.Fields, "hash"), e.Severity == SeverityEvent)
	case "TRUST":
		return fmt.Sprintf("trust_update(%d, %q, %f, %f, %f).",
			e.Timestamp, str(e.Fields, "actorId"), num(e.Fields, "previous"),
			num(e.Fields, "metric"), num(e.Fields, "updated"))
	case "STATE":
		return fmt.Sprintf("state_lock(%d, /%s, %q, %q).",
			e.Timestamp, strings.ToLower(e.Code), str(e.Fields, "proposalId"),
			str(e.Fields, "stateHash"))
	case "DECISION":
		return fmt.Sprintf("decision_event(%d, %q, %f, %f, %q).",
			e.Timestamp, str(e.Fields, "proposalId"), num(e.Fields, "score"),
			num(e.Fields, "threshold"), str(e.Fields, "status"))
	case "REMEDIATION":
		return fmt.Sprintf("remediation_issued(%d, %q, /%s, %q, %f).",
			e.Timestamp, str(e.Fields, "payloadHash"), strings.ToLower(str(e.Fields, "stage")),
			str(e.Fields, "actions"), num(e.Fields, "newTarget"))
	default:
		return fmt.Sprintf("audit_event(%d, /%s, %q).",
			e.Timestamp, strings.ToLower(e.Code), string(e.Severity))
	}
}

func str(fields map[string]any, key string) string {
	if fields == nil {
		return ""
	}
	switch v := fields[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func num(fields map[string]any, key string) float64 {
	if fields == nil {
		return 0
	}
	switch v := fields[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
