package phase

// Finding is a quality-gate or triage record. Findings are append-only
// within one loop iteration and cleared when a fresh correction cycle
// starts; a nonzero outstanding count is what keeps a loop running.
type Finding struct {
	Phase  Phase  `json:"phase"`
	Source string `json:"source"` // what produced it: capability id, "user", step name
	Type   string `json:"type"`   // classification, e.g. "quality", "review", "script"
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}
