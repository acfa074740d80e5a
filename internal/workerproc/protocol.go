// Package workerproc is the child side of the fork substitute: the
// same dispatchd binary, re-executed with --supervisor-worker and a
// socketpair end on fd 3, lands here instead of in the supervisor's
// main loop. It never inherits the parent's queues or child table —
// it only gets what crossed fd 3, which keeps "the child discards its
// view of the queues and sibling records" trivially true.
package workerproc

// Kind distinguishes a worker launch (consumes a bucket batch) from a
// helper launch (runs a named long-lived function).
type Kind string

const (
	KindWorker Kind = "worker"
	KindHelper Kind = "helper"
)

// Launch is the single frame the supervisor sends immediately after
// starting a child, carrying everything the child needs since it has
// no inherited memory to fall back on.
type Launch struct {
	Kind Kind `cbor:"kind"`

	// Worker fields.
	Bucket     string `cbor:"bucket,omitempty"`
	Identifier string `cbor:"identifier,omitempty"`
	Items      []any  `cbor:"items,omitempty"`
	Persistent bool   `cbor:"persistent,omitempty"`

	// Helper fields.
	HelperID string `cbor:"helper_id,omitempty"`
	Args     []any  `cbor:"args,omitempty"`
}

// ToFrame converts Launch to the map[string]any shape channel.Send
// expects (CBOR round-trips through map[string]any on the receive
// side, so the send side uses the same shape to keep both directions
// symmetric).
func (l Launch) ToFrame() map[string]any {
	return map[string]any{
		"kind":       string(l.Kind),
		"bucket":     l.Bucket,
		"identifier": l.Identifier,
		"items":      l.Items,
		"persistent": l.Persistent,
		"helper_id":  l.HelperID,
		"args":       l.Args,
	}
}

// LaunchFromFrame decodes a received frame into a Launch.
func LaunchFromFrame(m map[string]any) Launch {
	l := Launch{Kind: Kind(toString(m["kind"]))}
	l.Bucket = toString(m["bucket"])
	l.Identifier = toString(m["identifier"])
	l.Persistent, _ = m["persistent"].(bool)
	l.HelperID = toString(m["helper_id"])
	if items, ok := m["items"].([]any); ok {
		l.Items = items
	}
	if args, ok := m["args"].([]any); ok {
		l.Args = args
	}
	return l
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
