package common

import "time"

// GapStatus is the stored state of a data gap
type GapStatus string

const (
	GapStatusGap  GapStatus = "GP" // may still fill, re-checked every pass
	GapStatusOK   GapStatus = "OK" // verified empty, never retried
	GapStatusSkip GapStatus = "SK" // abandoned because too many gaps were live
)

// Gap is an inclusive range of data ids not yet seen by a channel's router
type Gap struct {
	ChannelID      string
	StartID        int64
	EndID          int64
	Status         GapStatus
	CreateTime     time.Time
	LastUpdateTime time.Time
}

// Contains reports whether id falls inside the gap
func (g Gap) Contains(id int64) bool {
	return id >= g.StartID && id <= g.EndID
}

// Width is the number of ids the gap spans
func (g Gap) Width() int64 {
	return g.EndID - g.StartID + 1
}

// IsTail reports whether this is the open-ended gap past the high-water mark
func (g Gap) IsTail() bool {
	return g.EndID == MaxDataID
}
