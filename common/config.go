package common

import "strings"

// BatchAlgorithm selects when an open batch may close
type BatchAlgorithm string

const (
	// BatchAlgorithmDefault closes once max batch size is reached at a
	// transaction boundary.
	BatchAlgorithmDefault BatchAlgorithm = "default"
	// BatchAlgorithmTransactional closes at every transaction boundary.
	BatchAlgorithmTransactional BatchAlgorithm = "transactional"
)

// Channel is a named partition of change traffic with its own batching policy
type Channel struct {
	ChannelID          string
	ProcessingOrder    int
	MaxBatchSize       int
	MaxBatchToSend     int
	MaxBatchIntervalMS int64 // 0 disables age-based closing
	BatchAlgorithm     BatchAlgorithm
	Enabled            bool
	Reload             bool
	UseOldDataToRoute  bool
	UseRowDataToRoute  bool
	UsePKDataToRoute   bool
}

// Node is a replication participant
type Node struct {
	NodeID      string
	ExternalID  string
	NodeGroupID string
	SyncEnabled bool
}

// Router type names
const (
	RouterTypeDefault   = "default"
	RouterTypeColumn    = "column"
	RouterTypeSubSelect = "subselect"
	RouterTypeScript    = "script"
)

// Router decides which nodes of its target group receive a change
type Router struct {
	RouterID          string
	SourceNodeGroupID string
	TargetNodeGroupID string
	RouterType        string
	RouterExpression  string
	SyncOnInsert      bool
	SyncOnUpdate      bool
	SyncOnDelete      bool
}

// Syncs reports whether the router handles the given event type
func (r *Router) Syncs(et EventType) bool {
	switch et {
	case EventInsert:
		return r.SyncOnInsert
	case EventUpdate:
		return r.SyncOnUpdate
	case EventDelete:
		return r.SyncOnDelete
	default:
		return true
	}
}

// Trigger captures changes of one source table onto a channel
type Trigger struct {
	TriggerID       string
	SourceTableName string
	ChannelID       string
}

// TriggerRouter links a trigger to a router
type TriggerRouter struct {
	Trigger Trigger
	Router  Router
	Enabled bool
}

// TriggerHistory records the column layout a trigger captured with
type TriggerHistory struct {
	TriggerHistID   int64
	TriggerID       string
	SourceTableName string
	ColumnNames     []string
	PKColumnNames   []string
}

// Map pairs captured values with column names (upper-cased)
func (h *TriggerHistory) Map(values []*string) map[string]*string {
	return zipColumns(h.ColumnNames, values)
}

// MapPK pairs primary-key values with pk column names (upper-cased)
func (h *TriggerHistory) MapPK(values []*string) map[string]*string {
	return zipColumns(h.PKColumnNames, values)
}

func zipColumns(names []string, values []*string) map[string]*string {
	m := make(map[string]*string, len(names))
	for i, name := range names {
		if i < len(values) {
			m[strings.ToUpper(name)] = values[i]
		} else {
			m[strings.ToUpper(name)] = nil
		}
	}
	return m
}

// Redirect maps a registering external id to the node that registered it
type Redirect struct {
	ExternalID         string
	RegistrationNodeID string
}
