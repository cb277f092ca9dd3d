package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// DatabaseConfiguration selects the change-log database
type DatabaseConfiguration struct {
	Driver        string `toml:"driver"` // "sqlite3" or "mysql"
	DSN           string `toml:"dsn"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	MaxOpenConns  int    `toml:"max_open_conns"`
}

// RoutingConfiguration controls routing passes
type RoutingConfiguration struct {
	PrefetchWindow    int `toml:"prefetch_window"`     // Read-ahead queue capacity
	GapGraceSeconds   int `toml:"gap_grace_seconds"`   // Age after which an empty gap is retired
	GapRetentionHours int `toml:"gap_retention_hours"` // How long retired gaps are kept
	MaxGaps           int `toml:"max_gaps"`            // Live gaps tracked per channel before skipping
	PollIntervalMS    int `toml:"poll_interval_ms"`    // Interval between passes per channel
	MaxBackoffMS      int `toml:"max_backoff_ms"`      // Backoff cap after failed passes
	ScriptCacheSize   int `toml:"script_cache_size"`   // Compiled router programs kept per pass
}

// ChannelConfiguration seeds sym_channel
type ChannelConfiguration struct {
	ID                 string `toml:"id"`
	ProcessingOrder    int    `toml:"processing_order"`
	MaxBatchSize       int    `toml:"max_batch_size"`
	MaxBatchToSend     int    `toml:"max_batch_to_send"`
	MaxBatchIntervalMS int64  `toml:"max_batch_interval_ms"`
	BatchAlgorithm     string `toml:"batch_algorithm"`
	Enabled            *bool  `toml:"enabled"`
	Reload             bool   `toml:"reload"`
	UseOldDataToRoute  *bool  `toml:"use_old_data_to_route"`
	UseRowDataToRoute  *bool  `toml:"use_row_data_to_route"`
	UsePKDataToRoute   *bool  `toml:"use_pk_data_to_route"`
}

// NodeConfiguration seeds sym_node
type NodeConfiguration struct {
	ID          string `toml:"id"`
	ExternalID  string `toml:"external_id"`
	NodeGroupID string `toml:"node_group_id"`
	SyncEnabled *bool  `toml:"sync_enabled"`
}

// RouterConfiguration seeds sym_router
type RouterConfiguration struct {
	ID                string `toml:"id"`
	SourceNodeGroupID string `toml:"source_node_group_id"`
	TargetNodeGroupID string `toml:"target_node_group_id"`
	Type              string `toml:"type"`
	Expression        string `toml:"expression"`
	SyncOnInsert      *bool  `toml:"sync_on_insert"`
	SyncOnUpdate      *bool  `toml:"sync_on_update"`
	SyncOnDelete      *bool  `toml:"sync_on_delete"`
}

// TriggerConfiguration seeds sym_trigger
type TriggerConfiguration struct {
	ID          string `toml:"id"`
	SourceTable string `toml:"source_table"`
	ChannelID   string `toml:"channel_id"`
}

// TriggerRouterConfiguration seeds sym_trigger_router
type TriggerRouterConfiguration struct {
	TriggerID string `toml:"trigger_id"`
	RouterID  string `toml:"router_id"`
	Enabled   *bool  `toml:"enabled"`
}

// RedirectConfiguration seeds sym_registration_redirect
type RedirectConfiguration struct {
	ExternalID         string `toml:"external_id"`
	RegistrationNodeID string `toml:"registration_node_id"`
}

// SinkConfiguration configures a batch-ready publisher sink
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`   // "kafka" or "nats"
	Format          string   `toml:"format"` // "json"
	Brokers         []string `toml:"brokers"`
	NatsURL         string   `toml:"nats_url"`
	TopicPrefix     string   `toml:"topic_prefix"`
	FilterChannels  []string `toml:"filter_channels"`
	FilterNodes     []string `toml:"filter_nodes"`
	BatchSize       int      `toml:"batch_size"`
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
}

// AdminConfiguration controls the HTTP admin API
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	// Secret, when set, is required as X-Courier-Secret or a bearer token
	Secret string `toml:"secret"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID      string `toml:"node_id"`
	NodeGroupID string `toml:"node_group_id"`
	DataDir     string `toml:"data_dir"`

	Database       DatabaseConfiguration        `toml:"database"`
	Routing        RoutingConfiguration         `toml:"routing"`
	Channels       []ChannelConfiguration       `toml:"channels"`
	Nodes          []NodeConfiguration          `toml:"nodes"`
	Routers        []RouterConfiguration        `toml:"routers"`
	Triggers       []TriggerConfiguration       `toml:"triggers"`
	TriggerRouters []TriggerRouterConfiguration `toml:"trigger_routers"`
	Redirects      []RedirectConfiguration      `toml:"redirects"`
	Sinks          []SinkConfiguration          `toml:"sinks"`
	Admin          AdminConfiguration           `toml:"admin"`
	Logging        LoggingConfiguration         `toml:"logging"`
	Prometheus     PrometheusConfiguration      `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.String("node-id", "", "Node ID (overrides config, empty=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:      "", // Auto-generate
	NodeGroupID: "corp",
	DataDir:     "./courier-data",

	Database: DatabaseConfiguration{
		Driver:        "sqlite3",
		DSN:           "", // defaults to {data_dir}/courier.db
		BusyTimeoutMS: 5000,
		MaxOpenConns:  4,
	},

	Routing: RoutingConfiguration{
		PrefetchWindow:    1000,
		GapGraceSeconds:   600, // 10 minutes
		GapRetentionHours: 24,
		MaxGaps:           5000,
		PollIntervalMS:    1000,
		MaxBackoffMS:      60000,
		ScriptCacheSize:   128,
	},

	Admin: AdminConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    31415,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != "" {
		Config.NodeID = *NodeIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate node ID if not set
	if Config.NodeID == "" {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Str("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if Config.Database.Driver == "sqlite3" && Config.Database.DSN == "" {
		Config.Database.DSN = filepath.Join(Config.DataDir, "courier.db")
	}

	return nil
}

// generateNodeID derives a stable node id from the machine id, falling back
// to the hostname when no machine id is available
func generateNodeID() (string, error) {
	id, err := machineid.ProtectedID("courier")
	if err != nil {
		host, herr := os.Hostname()
		if herr != nil {
			return "", fmt.Errorf("machine id: %w, hostname: %v", err, herr)
		}
		h := fnv.New64a()
		h.Write([]byte(host))
		return fmt.Sprintf("%012x", h.Sum64())[:12], nil
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id, nil
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Database.Driver {
	case "sqlite3":
	case "mysql":
		if Config.Database.DSN == "" {
			return fmt.Errorf("mysql driver requires database.dsn")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", Config.Database.Driver)
	}

	if Config.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database max open connections must be >= 1")
	}

	if Config.Routing.PrefetchWindow < 1 {
		return fmt.Errorf("routing prefetch window must be >= 1")
	}

	if Config.Routing.GapGraceSeconds < 0 {
		return fmt.Errorf("routing gap grace period must be >= 0")
	}

	if Config.Routing.GapRetentionHours < 0 {
		return fmt.Errorf("routing gap retention hours must be >= 0")
	}

	if Config.Routing.MaxGaps < 1 {
		return fmt.Errorf("routing max gaps must be >= 1")
	}

	if Config.Routing.PollIntervalMS < 1 {
		return fmt.Errorf("routing poll interval must be >= 1ms")
	}

	if Config.Routing.MaxBackoffMS < Config.Routing.PollIntervalMS {
		return fmt.Errorf("routing max backoff must be >= poll interval")
	}

	if Config.Routing.ScriptCacheSize < 1 {
		return fmt.Errorf("routing script cache size must be >= 1")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	channels := make(map[string]bool, len(Config.Channels))
	for _, ch := range Config.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel id is required")
		}
		if channels[ch.ID] {
			return fmt.Errorf("duplicate channel: %s", ch.ID)
		}
		channels[ch.ID] = true

		if ch.MaxBatchSize < 0 {
			return fmt.Errorf("channel %s: max batch size must be >= 0", ch.ID)
		}
		switch ch.BatchAlgorithm {
		case "", "default", "transactional":
		default:
			return fmt.Errorf("channel %s: unknown batch algorithm %q", ch.ID, ch.BatchAlgorithm)
		}
	}

	routers := make(map[string]bool, len(Config.Routers))
	for _, r := range Config.Routers {
		if r.ID == "" {
			return fmt.Errorf("router id is required")
		}
		routers[r.ID] = true
		switch r.Type {
		case "", "default", "column", "subselect", "script":
		default:
			return fmt.Errorf("router %s: unknown router type %q", r.ID, r.Type)
		}
	}

	triggers := make(map[string]bool, len(Config.Triggers))
	for _, tr := range Config.Triggers {
		if tr.ID == "" || tr.SourceTable == "" {
			return fmt.Errorf("trigger id and source table are required")
		}
		if len(channels) > 0 && !channels[tr.ChannelID] {
			return fmt.Errorf("trigger %s: unknown channel %q", tr.ID, tr.ChannelID)
		}
		triggers[tr.ID] = true
	}

	for _, link := range Config.TriggerRouters {
		if !triggers[link.TriggerID] {
			return fmt.Errorf("trigger router: unknown trigger %q", link.TriggerID)
		}
		if !routers[link.RouterID] {
			return fmt.Errorf("trigger router: unknown router %q", link.RouterID)
		}
	}

	for _, s := range Config.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sink name is required")
		}
		switch s.Type {
		case "kafka":
			if len(s.Brokers) == 0 {
				return fmt.Errorf("sink %s: kafka requires brokers", s.Name)
			}
		case "nats":
			if s.NatsURL == "" {
				return fmt.Errorf("sink %s: nats requires nats_url", s.Name)
			}
		default:
			return fmt.Errorf("sink %s: unknown type %q", s.Name, s.Type)
		}
	}

	return nil
}

// BoolOr dereferences an optional flag
func BoolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
