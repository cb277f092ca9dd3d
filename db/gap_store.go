package db

import (
	"context"
	"fmt"
	"time"

	"github.com/courier-cdc/courier/common"
	"github.com/doug-martin/goqu/v9"
)

var gapColumns = []interface{}{"channel_id", "start_id", "end_id", "status", "create_time", "last_update_time"}

func (s *Store) scanGaps(ctx context.Context, q Querier, ds sqlBuilder) ([]common.Gap, error) {
	rows, err := s.query(ctx, q, ds)
	if err != nil {
		return nil, fmt.Errorf("load gaps: %w", err)
	}
	defer rows.Close()

	var gaps []common.Gap
	for rows.Next() {
		var g common.Gap
		var status string
		if err := rows.Scan(&g.ChannelID, &g.StartID, &g.EndID, &status, &g.CreateTime, &g.LastUpdateTime); err != nil {
			return nil, err
		}
		g.Status = common.GapStatus(status)
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// LoadGaps returns the live (GP) gaps of a channel ordered by start id.
// The open-ended tail gap, if recorded, is the last element.
func (s *Store) LoadGaps(ctx context.Context, q Querier, channelID string) ([]common.Gap, error) {
	return s.scanGaps(ctx, q, s.dialect.From(TableDataGap).Select(gapColumns...).
		Where(goqu.C("channel_id").Eq(channelID), goqu.C("status").Eq(string(common.GapStatusGap))).
		Order(goqu.C("start_id").Asc()))
}

// ListGaps returns every recorded gap of a channel, any status
func (s *Store) ListGaps(ctx context.Context, q Querier, channelID string) ([]common.Gap, error) {
	return s.scanGaps(ctx, q, s.dialect.From(TableDataGap).Select(gapColumns...).
		Where(goqu.C("channel_id").Eq(channelID)).
		Order(goqu.C("start_id").Asc(), goqu.C("end_id").Asc()))
}

// SaveGaps rewrites the live gaps of a channel and records gaps resolved
// during the pass
func (s *Store) SaveGaps(ctx context.Context, q Querier, channelID string, live, resolved []common.Gap) error {
	_, err := s.exec(ctx, q, s.dialect.Delete(TableDataGap).Where(
		goqu.C("channel_id").Eq(channelID), goqu.C("status").Eq(string(common.GapStatusGap))))
	if err != nil {
		return fmt.Errorf("clear gaps: %w", err)
	}

	for _, g := range resolved {
		_, err := s.exec(ctx, q, s.dialect.Delete(TableDataGap).Where(
			goqu.C("channel_id").Eq(channelID), goqu.C("start_id").Eq(g.StartID), goqu.C("end_id").Eq(g.EndID)))
		if err != nil {
			return fmt.Errorf("replace resolved gap: %w", err)
		}
	}

	all := make([]interface{}, 0, len(live)+len(resolved))
	for _, set := range [][]common.Gap{live, resolved} {
		for _, g := range set {
			all = append(all, goqu.Record{
				"channel_id":       channelID,
				"start_id":         g.StartID,
				"end_id":           g.EndID,
				"status":           string(g.Status),
				"create_time":      g.CreateTime,
				"last_update_time": g.LastUpdateTime,
			})
		}
	}
	if len(all) == 0 {
		return nil
	}

	if _, err := s.exec(ctx, q, s.dialect.Insert(TableDataGap).Rows(all...)); err != nil {
		return fmt.Errorf("insert gaps: %w", err)
	}
	return nil
}

// PurgeResolvedGaps deletes OK and SK gaps last updated before cutoff
func (s *Store) PurgeResolvedGaps(ctx context.Context, q Querier, channelID string, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, q, s.dialect.Delete(TableDataGap).Where(
		goqu.C("channel_id").Eq(channelID),
		goqu.C("status").In(string(common.GapStatusOK), string(common.GapStatusSkip)),
		goqu.C("last_update_time").Lt(cutoff),
	))
	if err != nil {
		return 0, fmt.Errorf("purge gaps: %w", err)
	}
	return res.RowsAffected()
}
