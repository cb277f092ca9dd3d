// Package common provides the domain types shared by the store, the routers
// and the routing pipeline.
package common

import (
	"fmt"
	"math"
	"time"
)

// MaxDataID is the upper bound of the open-ended tail gap.
const MaxDataID int64 = math.MaxInt64

// EventType is the single-character code a capture trigger writes into
// the event_type column.
type EventType byte

const (
	EventInsert EventType = 'I'
	EventUpdate EventType = 'U'
	EventDelete EventType = 'D'
	EventSQL    EventType = 'S'
	EventReload EventType = 'R'
	EventCreate EventType = 'C'
)

// ParseEventType converts the stored code into an EventType
func ParseEventType(code string) (EventType, error) {
	if len(code) != 1 {
		return 0, fmt.Errorf("invalid event type %q", code)
	}
	switch et := EventType(code[0]); et {
	case EventInsert, EventUpdate, EventDelete, EventSQL, EventReload, EventCreate:
		return et, nil
	default:
		return 0, fmt.Errorf("invalid event type %q", code)
	}
}

// Code returns the stored single-character form
func (e EventType) Code() string {
	return string(rune(e))
}

func (e EventType) String() string {
	switch e {
	case EventInsert:
		return "INSERT"
	case EventUpdate:
		return "UPDATE"
	case EventDelete:
		return "DELETE"
	case EventSQL:
		return "SQL"
	case EventReload:
		return "RELOAD"
	case EventCreate:
		return "CREATE"
	default:
		return "UNKNOWN"
	}
}

// IsDML reports whether the event carries row images
func (e EventType) IsDML() bool {
	return e == EventInsert || e == EventUpdate || e == EventDelete
}

// Data is one captured row mutation read from sym_data.
// Values are immutable once read; RowData, OldData and PKData hold the
// CSV-encoded column images exactly as the capture trigger wrote them.
type Data struct {
	DataID        int64
	TableName     string
	EventType     EventType
	RowData       string
	OldData       string
	PKData        string
	ChannelID     string
	TransactionID string
	SourceNodeID  string
	ExternalData  string
	TriggerHistID int64
	CreateTime    time.Time
}

// HasTransactionID reports whether the capture recorded a transaction id.
// Rows without one are each treated as a transaction of their own.
func (d *Data) HasTransactionID() bool {
	return d.TransactionID != ""
}

// ColumnValues parses the row and old images into column maps keyed by
// upper-cased column name. A missing image yields a nil map.
func (d *Data) ColumnValues(hist *TriggerHistory) (row map[string]*string, old map[string]*string, err error) {
	if hist == nil {
		return nil, nil, nil
	}

	if d.OldData != "" {
		values, err := ParseCSV(d.OldData)
		if err != nil {
			return nil, nil, fmt.Errorf("data %d old_data: %w", d.DataID, err)
		}
		old = hist.Map(values)
	}

	switch {
	case d.RowData != "":
		values, err := ParseCSV(d.RowData)
		if err != nil {
			return nil, nil, fmt.Errorf("data %d row_data: %w", d.DataID, err)
		}
		row = hist.Map(values)
	case old != nil:
		// deletes only carry the pre-image
		row = old
	case d.PKData != "":
		values, err := ParseCSV(d.PKData)
		if err != nil {
			return nil, nil, fmt.Errorf("data %d pk_data: %w", d.DataID, err)
		}
		row = hist.MapPK(values)
	}

	return row, old, nil
}
