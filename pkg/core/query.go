package core

import "time"

// CompiledQuery is the immutable output of workflow compilation.
// Equal inputs must produce byte-identical SQLText; the preview cache
// and the determinism tests both depend on that.
type CompiledQuery struct {
	SQLText    string `json:"sql_text"`
	Parameters []any  `json:"parameters"`

	BackingStore string      `json:"backing_store"`
	Family       StoreFamily `json:"family"`
	Freshness    Freshness   `json:"freshness"`

	TenantFilterApplied bool `json:"tenant_filter_applied"`
}

// Pagination bounds a preview request.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ResultSet is the row payload returned by query execution.
type ResultSet struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`

	// Truncated is set when a row cap cut the result short.
	Truncated bool `json:"truncated,omitempty"`
}

// SafetyProfile is the per-call resource envelope the router enforces.
// Stores that support server-side enforcement get the caps pushed down;
// otherwise the router guards client-side.
type SafetyProfile struct {
	RowCap        int           `json:"row_cap"`
	Timeout       time.Duration `json:"timeout"`
	MemoryCeiling int64         `json:"memory_ceiling"`
}

// RowBatch is one live-update message delivered to subscribers.
type RowBatch struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}
