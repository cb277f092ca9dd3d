package db

import (
	"fmt"
	"strings"
)

// Table names
const (
	TableData                 = "sym_data"
	TableDataGap              = "sym_data_gap"
	TableDataEvent            = "sym_data_event"
	TableOutgoingBatch        = "sym_outgoing_batch"
	TableChannel              = "sym_channel"
	TableNode                 = "sym_node"
	TableRouter               = "sym_router"
	TableTrigger              = "sym_trigger"
	TableTriggerRouter        = "sym_trigger_router"
	TableTriggerHist          = "sym_trigger_hist"
	TableRegistrationRedirect = "sym_registration_redirect"
)

type tableDef struct {
	name    string
	columns []string
	indexes []indexDef
}

type indexDef struct {
	name    string
	columns string
}

// Column types use placeholders resolved per dialect:
// %AUTO% auto-increment primary key, %TEXT% unbounded text,
// %TIME% timestamp, %NOW% current timestamp default.
var tables = []tableDef{
	{
		name: TableChannel,
		columns: []string{
			"channel_id VARCHAR(128) NOT NULL PRIMARY KEY",
			"processing_order INTEGER NOT NULL DEFAULT 1",
			"max_batch_size INTEGER NOT NULL DEFAULT 1000",
			"max_batch_to_send INTEGER NOT NULL DEFAULT 60",
			"max_batch_interval_ms BIGINT NOT NULL DEFAULT 0",
			"batch_algorithm VARCHAR(50) NOT NULL DEFAULT 'default'",
			"enabled SMALLINT NOT NULL DEFAULT 1",
			"reload_flag SMALLINT NOT NULL DEFAULT 0",
			"use_old_data_to_route SMALLINT NOT NULL DEFAULT 1",
			"use_row_data_to_route SMALLINT NOT NULL DEFAULT 1",
			"use_pk_data_to_route SMALLINT NOT NULL DEFAULT 1",
		},
	},
	{
		name: TableNode,
		columns: []string{
			"node_id VARCHAR(50) NOT NULL PRIMARY KEY",
			"external_id VARCHAR(255) NOT NULL DEFAULT ''",
			"node_group_id VARCHAR(50) NOT NULL",
			"sync_enabled SMALLINT NOT NULL DEFAULT 1",
		},
		indexes: []indexDef{{"idx_node_group", "node_group_id"}},
	},
	{
		name: TableRouter,
		columns: []string{
			"router_id VARCHAR(50) NOT NULL PRIMARY KEY",
			"source_node_group_id VARCHAR(50) NOT NULL",
			"target_node_group_id VARCHAR(50) NOT NULL",
			"router_type VARCHAR(50) NOT NULL DEFAULT 'default'",
			"router_expression %TEXT%",
			"sync_on_insert SMALLINT NOT NULL DEFAULT 1",
			"sync_on_update SMALLINT NOT NULL DEFAULT 1",
			"sync_on_delete SMALLINT NOT NULL DEFAULT 1",
		},
	},
	{
		name: TableTrigger,
		columns: []string{
			"trigger_id VARCHAR(128) NOT NULL PRIMARY KEY",
			"source_table_name VARCHAR(255) NOT NULL",
			"channel_id VARCHAR(128) NOT NULL",
		},
	},
	{
		name: TableTriggerRouter,
		columns: []string{
			"trigger_id VARCHAR(128) NOT NULL",
			"router_id VARCHAR(50) NOT NULL",
			"enabled SMALLINT NOT NULL DEFAULT 1",
			"PRIMARY KEY (trigger_id, router_id)",
		},
	},
	{
		name: TableTriggerHist,
		columns: []string{
			"trigger_hist_id %AUTO%",
			"trigger_id VARCHAR(128) NOT NULL",
			"source_table_name VARCHAR(255) NOT NULL",
			"column_names %TEXT% NOT NULL",
			"pk_column_names %TEXT% NOT NULL",
			"create_time %TIME% NOT NULL DEFAULT %NOW%",
		},
	},
	{
		name: TableRegistrationRedirect,
		columns: []string{
			"registrant_external_id VARCHAR(255) NOT NULL PRIMARY KEY",
			"registration_node_id VARCHAR(50) NOT NULL",
		},
	},
	{
		name: TableData,
		columns: []string{
			"data_id %AUTO%",
			"table_name VARCHAR(255) NOT NULL",
			"event_type CHAR(1) NOT NULL",
			"row_data %TEXT%",
			"pk_data %TEXT%",
			"old_data %TEXT%",
			"trigger_hist_id BIGINT NOT NULL DEFAULT 0",
			"channel_id VARCHAR(128)",
			"transaction_id VARCHAR(255)",
			"source_node_id VARCHAR(50)",
			"external_data VARCHAR(50)",
			"create_time %TIME% NOT NULL DEFAULT %NOW%",
		},
		indexes: []indexDef{{"idx_d_channel_id", "channel_id, data_id"}},
	},
	{
		name: TableDataGap,
		columns: []string{
			"channel_id VARCHAR(128) NOT NULL",
			"start_id BIGINT NOT NULL",
			"end_id BIGINT NOT NULL",
			"status CHAR(2) NOT NULL",
			"create_time %TIME% NOT NULL",
			"last_update_time %TIME% NOT NULL",
			"PRIMARY KEY (channel_id, start_id, end_id)",
		},
		indexes: []indexDef{{"idx_dg_status", "channel_id, status"}},
	},
	{
		name: TableOutgoingBatch,
		columns: []string{
			"batch_id %AUTO%",
			"node_id VARCHAR(50) NOT NULL",
			"channel_id VARCHAR(128) NOT NULL",
			"status CHAR(2) NOT NULL",
			"batch_type CHAR(1) NOT NULL DEFAULT 'I'",
			"data_event_count BIGINT NOT NULL DEFAULT 0",
			"insert_event_count BIGINT NOT NULL DEFAULT 0",
			"update_event_count BIGINT NOT NULL DEFAULT 0",
			"delete_event_count BIGINT NOT NULL DEFAULT 0",
			"other_event_count BIGINT NOT NULL DEFAULT 0",
			"last_data_id BIGINT NOT NULL DEFAULT 0",
			"last_transaction_id VARCHAR(255) NOT NULL DEFAULT ''",
			"router_millis BIGINT NOT NULL DEFAULT 0",
			"create_time %TIME% NOT NULL",
			"last_update_time %TIME% NOT NULL",
		},
		indexes: []indexDef{
			{"idx_ob_channel_status", "channel_id, status"},
			{"idx_ob_node_status", "node_id, status"},
		},
	},
	{
		name: TableDataEvent,
		columns: []string{
			"data_id BIGINT NOT NULL",
			"batch_id BIGINT NOT NULL",
			"router_id VARCHAR(50) NOT NULL",
			"create_time %TIME% NOT NULL",
			"PRIMARY KEY (data_id, batch_id, router_id)",
		},
		indexes: []indexDef{{"idx_de_batch_id", "batch_id"}},
	},
}

// Schemas returns the CREATE statements for every table in dialect d
func Schemas(d Dialect) []string {
	r := strings.NewReplacer(
		"%AUTO%", d.types.autoPK,
		"%TEXT%", d.types.text,
		"%TIME%", d.types.timestamp,
		"%NOW%", d.types.now,
	)

	var stmts []string
	for _, t := range tables {
		cols := make([]string, 0, len(t.columns)+len(t.indexes))
		for _, c := range t.columns {
			cols = append(cols, r.Replace(c))
		}
		if d.types.inlineIndex {
			for _, idx := range t.indexes {
				cols = append(cols, fmt.Sprintf("INDEX %s (%s)", idx.name, idx.columns))
			}
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.name, strings.Join(cols, ",\n\t")))

		if !d.types.inlineIndex {
			for _, idx := range t.indexes {
				stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idx.name, t.name, idx.columns))
			}
		}
	}
	return stmts
}
