package model

// CounterSchemaVersion is the version written with every persisted CounterState.
const CounterSchemaVersion = 2

// TagCounts aggregates requests that carried one tag.
// Total always equals the sum of ByID.
type TagCounts struct {
	Total int64            `json:"total"`
	ByID  map[string]int64 `json:"by_id"`
}

// CounterState is the persisted aggregate of request counts.
type CounterState struct {
	Version int                   `json:"version"`
	Total   int64                 `json:"total"`
	ByID    map[string]int64      `json:"by_id"`
	ByTag   map[string]*TagCounts `json:"by_tag"`
}

// NewCounterState returns the empty default state.
func NewCounterState() *CounterState {
	return &CounterState{
		Version: CounterSchemaVersion,
		ByID:    map[string]int64{},
		ByTag:   map[string]*TagCounts{},
	}
}

// RequestCount is what a single increment reports back to its caller.
type RequestCount struct {
	Total      int64  `json:"total"`
	IDCount    int64  `json:"id_count"`
	Tag        string `json:"tag,omitempty"`
	TagTotal   int64  `json:"tag_total,omitempty"`
	TagIDCount int64  `json:"tag_id_count,omitempty"`
}
