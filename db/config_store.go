package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/courier-cdc/courier/common"
	"github.com/doug-martin/goqu/v9"
)

// SaveChannel inserts or replaces a channel definition
func (s *Store) SaveChannel(ctx context.Context, q Querier, ch common.Channel) error {
	if _, err := s.exec(ctx, q, s.dialect.Delete(TableChannel).Where(goqu.C("channel_id").Eq(ch.ChannelID))); err != nil {
		return fmt.Errorf("delete channel %s: %w", ch.ChannelID, err)
	}
	algorithm := ch.BatchAlgorithm
	if algorithm == "" {
		algorithm = common.BatchAlgorithmDefault
	}
	_, err := s.exec(ctx, q, s.dialect.Insert(TableChannel).Rows(goqu.Record{
		"channel_id":            ch.ChannelID,
		"processing_order":      ch.ProcessingOrder,
		"max_batch_size":        ch.MaxBatchSize,
		"max_batch_to_send":     ch.MaxBatchToSend,
		"max_batch_interval_ms": ch.MaxBatchIntervalMS,
		"batch_algorithm":       string(algorithm),
		"enabled":               boolInt(ch.Enabled),
		"reload_flag":           boolInt(ch.Reload),
		"use_old_data_to_route": boolInt(ch.UseOldDataToRoute),
		"use_row_data_to_route": boolInt(ch.UseRowDataToRoute),
		"use_pk_data_to_route":  boolInt(ch.UsePKDataToRoute),
	}))
	if err != nil {
		return fmt.Errorf("insert channel %s: %w", ch.ChannelID, err)
	}
	return nil
}

var channelColumns = []interface{}{
	"channel_id", "processing_order", "max_batch_size", "max_batch_to_send",
	"max_batch_interval_ms", "batch_algorithm", "enabled", "reload_flag",
	"use_old_data_to_route", "use_row_data_to_route", "use_pk_data_to_route",
}

func scanChannel(sc interface{ Scan(...interface{}) error }) (common.Channel, error) {
	var ch common.Channel
	var algorithm string
	err := sc.Scan(&ch.ChannelID, &ch.ProcessingOrder, &ch.MaxBatchSize, &ch.MaxBatchToSend,
		&ch.MaxBatchIntervalMS, &algorithm, &ch.Enabled, &ch.Reload,
		&ch.UseOldDataToRoute, &ch.UseRowDataToRoute, &ch.UsePKDataToRoute)
	ch.BatchAlgorithm = common.BatchAlgorithm(algorithm)
	return ch, err
}

// GetChannel loads one channel; ok is false when it does not exist
func (s *Store) GetChannel(ctx context.Context, q Querier, channelID string) (common.Channel, bool, error) {
	row, err := s.queryRow(ctx, q, s.dialect.From(TableChannel).Select(channelColumns...).
		Where(goqu.C("channel_id").Eq(channelID)))
	if err != nil {
		return common.Channel{}, false, err
	}
	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return common.Channel{}, false, nil
	}
	if err != nil {
		return common.Channel{}, false, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	return ch, true, nil
}

// ListChannels returns all channels in processing order
func (s *Store) ListChannels(ctx context.Context, q Querier) ([]common.Channel, error) {
	rows, err := s.query(ctx, q, s.dialect.From(TableChannel).Select(channelColumns...).
		Order(goqu.C("processing_order").Asc(), goqu.C("channel_id").Asc()))
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []common.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// SaveNode inserts or replaces a node
func (s *Store) SaveNode(ctx context.Context, q Querier, n common.Node) error {
	if _, err := s.exec(ctx, q, s.dialect.Delete(TableNode).Where(goqu.C("node_id").Eq(n.NodeID))); err != nil {
		return fmt.Errorf("delete node %s: %w", n.NodeID, err)
	}
	_, err := s.exec(ctx, q, s.dialect.Insert(TableNode).Rows(goqu.Record{
		"node_id":       n.NodeID,
		"external_id":   n.ExternalID,
		"node_group_id": n.NodeGroupID,
		"sync_enabled":  boolInt(n.SyncEnabled),
	}))
	if err != nil {
		return fmt.Errorf("insert node %s: %w", n.NodeID, err)
	}
	return nil
}

// ListNodes returns all nodes ordered by id
func (s *Store) ListNodes(ctx context.Context, q Querier) ([]common.Node, error) {
	rows, err := s.query(ctx, q, s.dialect.From(TableNode).
		Select("node_id", "external_id", "node_group_id", "sync_enabled").
		Order(goqu.C("node_id").Asc()))
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []common.Node
	for rows.Next() {
		var n common.Node
		if err := rows.Scan(&n.NodeID, &n.ExternalID, &n.NodeGroupID, &n.SyncEnabled); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// SaveRouter inserts or replaces a router
func (s *Store) SaveRouter(ctx context.Context, q Querier, r common.Router) error {
	if _, err := s.exec(ctx, q, s.dialect.Delete(TableRouter).Where(goqu.C("router_id").Eq(r.RouterID))); err != nil {
		return fmt.Errorf("delete router %s: %w", r.RouterID, err)
	}
	routerType := r.RouterType
	if routerType == "" {
		routerType = common.RouterTypeDefault
	}
	_, err := s.exec(ctx, q, s.dialect.Insert(TableRouter).Rows(goqu.Record{
		"router_id":            r.RouterID,
		"source_node_group_id": r.SourceNodeGroupID,
		"target_node_group_id": r.TargetNodeGroupID,
		"router_type":          routerType,
		"router_expression":    r.RouterExpression,
		"sync_on_insert":       boolInt(r.SyncOnInsert),
		"sync_on_update":       boolInt(r.SyncOnUpdate),
		"sync_on_delete":       boolInt(r.SyncOnDelete),
	}))
	if err != nil {
		return fmt.Errorf("insert router %s: %w", r.RouterID, err)
	}
	return nil
}

// SaveTrigger inserts or replaces a trigger
func (s *Store) SaveTrigger(ctx context.Context, q Querier, t common.Trigger) error {
	if _, err := s.exec(ctx, q, s.dialect.Delete(TableTrigger).Where(goqu.C("trigger_id").Eq(t.TriggerID))); err != nil {
		return fmt.Errorf("delete trigger %s: %w", t.TriggerID, err)
	}
	_, err := s.exec(ctx, q, s.dialect.Insert(TableTrigger).Rows(goqu.Record{
		"trigger_id":        t.TriggerID,
		"source_table_name": t.SourceTableName,
		"channel_id":        t.ChannelID,
	}))
	if err != nil {
		return fmt.Errorf("insert trigger %s: %w", t.TriggerID, err)
	}
	return nil
}

// SaveTriggerRouter links a trigger to a router
func (s *Store) SaveTriggerRouter(ctx context.Context, q Querier, triggerID, routerID string, enabled bool) error {
	_, err := s.exec(ctx, q, s.dialect.Delete(TableTriggerRouter).Where(
		goqu.C("trigger_id").Eq(triggerID), goqu.C("router_id").Eq(routerID)))
	if err != nil {
		return fmt.Errorf("delete trigger router %s/%s: %w", triggerID, routerID, err)
	}
	_, err = s.exec(ctx, q, s.dialect.Insert(TableTriggerRouter).Rows(goqu.Record{
		"trigger_id": triggerID,
		"router_id":  routerID,
		"enabled":    boolInt(enabled),
	}))
	if err != nil {
		return fmt.Errorf("insert trigger router %s/%s: %w", triggerID, routerID, err)
	}
	return nil
}

// ListTriggerRouters returns the enabled trigger/router links whose trigger
// captures onto channelID
func (s *Store) ListTriggerRouters(ctx context.Context, q Querier, channelID string) ([]common.TriggerRouter, error) {
	ds := s.dialect.From(goqu.T(TableTriggerRouter).As("tr")).
		Join(goqu.T(TableTrigger).As("t"), goqu.On(goqu.I("t.trigger_id").Eq(goqu.I("tr.trigger_id")))).
		Join(goqu.T(TableRouter).As("r"), goqu.On(goqu.I("r.router_id").Eq(goqu.I("tr.router_id")))).
		Select(
			"t.trigger_id", "t.source_table_name", "t.channel_id",
			"r.router_id", "r.source_node_group_id", "r.target_node_group_id", "r.router_type",
			goqu.COALESCE(goqu.I("r.router_expression"), ""),
			"r.sync_on_insert", "r.sync_on_update", "r.sync_on_delete", "tr.enabled",
		).
		Where(goqu.I("t.channel_id").Eq(channelID), goqu.I("tr.enabled").Eq(1)).
		Order(goqu.I("t.trigger_id").Asc(), goqu.I("r.router_id").Asc())

	rows, err := s.query(ctx, q, ds)
	if err != nil {
		return nil, fmt.Errorf("list trigger routers: %w", err)
	}
	defer rows.Close()

	var out []common.TriggerRouter
	for rows.Next() {
		var tr common.TriggerRouter
		err := rows.Scan(&tr.Trigger.TriggerID, &tr.Trigger.SourceTableName, &tr.Trigger.ChannelID,
			&tr.Router.RouterID, &tr.Router.SourceNodeGroupID, &tr.Router.TargetNodeGroupID,
			&tr.Router.RouterType, &tr.Router.RouterExpression,
			&tr.Router.SyncOnInsert, &tr.Router.SyncOnUpdate, &tr.Router.SyncOnDelete, &tr.Enabled)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// InsertTriggerHistory records the column layout a trigger captures with
// and returns its id
func (s *Store) InsertTriggerHistory(ctx context.Context, q Querier, h common.TriggerHistory) (int64, error) {
	res, err := s.exec(ctx, q, s.dialect.Insert(TableTriggerHist).Rows(goqu.Record{
		"trigger_id":        h.TriggerID,
		"source_table_name": h.SourceTableName,
		"column_names":      strings.Join(h.ColumnNames, ","),
		"pk_column_names":   strings.Join(h.PKColumnNames, ","),
	}))
	if err != nil {
		return 0, fmt.Errorf("insert trigger history %s: %w", h.TriggerID, err)
	}
	return res.LastInsertId()
}

// ListTriggerHistories returns every trigger history keyed by id
func (s *Store) ListTriggerHistories(ctx context.Context, q Querier) (map[int64]*common.TriggerHistory, error) {
	rows, err := s.query(ctx, q, s.dialect.From(TableTriggerHist).
		Select("trigger_hist_id", "trigger_id", "source_table_name", "column_names", "pk_column_names"))
	if err != nil {
		return nil, fmt.Errorf("list trigger histories: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*common.TriggerHistory)
	for rows.Next() {
		var h common.TriggerHistory
		var cols, pks string
		if err := rows.Scan(&h.TriggerHistID, &h.TriggerID, &h.SourceTableName, &cols, &pks); err != nil {
			return nil, err
		}
		h.ColumnNames = splitNames(cols)
		h.PKColumnNames = splitNames(pks)
		out[h.TriggerHistID] = &h
	}
	return out, rows.Err()
}

func splitNames(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// SaveRedirect maps a registering external id to its registration node
func (s *Store) SaveRedirect(ctx context.Context, q Querier, r common.Redirect) error {
	_, err := s.exec(ctx, q, s.dialect.Delete(TableRegistrationRedirect).
		Where(goqu.C("registrant_external_id").Eq(r.ExternalID)))
	if err != nil {
		return fmt.Errorf("delete redirect %s: %w", r.ExternalID, err)
	}
	_, err = s.exec(ctx, q, s.dialect.Insert(TableRegistrationRedirect).Rows(goqu.Record{
		"registrant_external_id": r.ExternalID,
		"registration_node_id":   r.RegistrationNodeID,
	}))
	if err != nil {
		return fmt.Errorf("insert redirect %s: %w", r.ExternalID, err)
	}
	return nil
}

// LoadRedirects returns external id → registration node id
func (s *Store) LoadRedirects(ctx context.Context, q Querier) (map[string]string, error) {
	rows, err := s.query(ctx, q, s.dialect.From(TableRegistrationRedirect).
		Select("registrant_external_id", "registration_node_id"))
	if err != nil {
		return nil, fmt.Errorf("load redirects: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var ext, node string
		if err := rows.Scan(&ext, &node); err != nil {
			return nil, err
		}
		out[ext] = node
	}
	return out, rows.Err()
}
