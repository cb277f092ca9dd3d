package routing

import "time"

// Stats are the counters of one routing pass. They are observability only.
type Stats struct {
	ChannelID     string        `json:"channel_id"`
	ResumeDataID  int64         `json:"resume_data_id"`
	LastDataID    int64         `json:"last_data_id"`
	DataRead      int64         `json:"data_read"`
	DataRouted    int64         `json:"data_routed"`
	DataUnrouted  int64         `json:"data_unrouted"`
	DataEvents    int64         `json:"data_events"`
	GapFills      int64         `json:"gap_fills"`
	GapsCreated   int64         `json:"gaps_created"`
	GapsExpired   int64         `json:"gaps_expired"`
	GapsSkipped   int64         `json:"gaps_skipped"`
	GapChecks     int64         `json:"gap_checks"`
	OpenGaps      int           `json:"open_gaps"`
	Transactions  int64         `json:"transactions"`
	BatchesClosed int64         `json:"batches_closed"`
	BatchesOpen   int           `json:"batches_open"`
	RouterErrors  int64         `json:"router_errors"`
	Duration      time.Duration `json:"duration_ns"`
	FinishedAt    time.Time     `json:"finished_at"`
	Error         string        `json:"error,omitempty"`
}
