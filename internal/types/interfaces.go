package types

import "context"

// AuditSink receives fire-and-forget governance audit events. Sink failures
// must never block or fail the pipeline operation that triggered the event.
type AuditSink interface {
	Event(code string, fields map[string]any)
	Warning(code string, fields map[string]any)
	Error(code string, fields map[string]any)
	Fatal(code string, fields map[string]any)
}

// Executor applies an accepted mutation payload. It is opaque to the
// pipeline core: false or an error are both surfaced as execution failure
// and routed to remediation.
type Executor interface {
	ExecuteMutation(ctx context.Context, payload MutationPayload) (bool, error)
}
