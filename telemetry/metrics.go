package telemetry

// Histogram bucket definitions
var (
	// PassBuckets for routing pass duration
	PassBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	// PublishBuckets for sink publish latency
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Routing Metrics
var (
	// RoutingPassesTotal counts passes by channel and result (success, failed)
	RoutingPassesTotal CounterVec = noopCounterVec{}

	// RoutingPassSeconds measures pass duration by channel
	RoutingPassSeconds HistogramVec = noopHistogramVec{}

	// DataReadTotal counts change rows read by channel
	DataReadTotal CounterVec = noopCounterVec{}

	// DataRoutedTotal counts change rows routed to at least one node
	DataRoutedTotal CounterVec = noopCounterVec{}

	// DataUnroutedTotal counts change rows no router selected a node for
	DataUnroutedTotal CounterVec = noopCounterVec{}

	// GapFillsTotal counts rows found inside a recorded gap
	GapFillsTotal CounterVec = noopCounterVec{}

	// GapsCreatedTotal counts gaps recorded from id jumps
	GapsCreatedTotal CounterVec = noopCounterVec{}

	// GapsResolvedTotal counts gaps retired by status (OK, SK)
	GapsResolvedTotal CounterVec = noopCounterVec{}

	// OpenGaps tracks live gaps per channel
	OpenGaps GaugeVec = noopGaugeVec{}

	// BatchesClosedTotal counts batches closed by channel
	BatchesClosedTotal CounterVec = noopCounterVec{}

	// OpenBatches tracks NE batches per channel
	OpenBatches GaugeVec = noopGaugeVec{}

	// RoutedBatches tracks RT batches awaiting extraction per channel
	RoutedBatches GaugeVec = noopGaugeVec{}

	// RouterExpressionErrorsTotal counts router expressions that failed and
	// were treated as no match
	RouterExpressionErrorsTotal CounterVec = noopCounterVec{}
)

// Publisher Metrics
var (
	// PublishLogAppendsTotal counts batch events appended to the publish log
	PublishLogAppendsTotal Counter = NoopStat{}

	// PublishedTotal counts events delivered by sink and result
	PublishedTotal CounterVec = noopCounterVec{}

	// PublishSeconds measures sink publish latency
	PublishSeconds HistogramVec = noopHistogramVec{}
)

// InitMetrics creates the prometheus-backed metrics
func InitMetrics() {
	RoutingPassesTotal = NewCounterVec(
		"routing_passes_total",
		"Routing passes by channel and result",
		[]string{"channel", "result"},
	)
	RoutingPassSeconds = NewHistogramVec(
		"routing_pass_seconds",
		"Routing pass duration in seconds",
		[]string{"channel"},
		PassBuckets,
	)
	DataReadTotal = NewCounterVec(
		"data_read_total",
		"Change rows read by channel",
		[]string{"channel"},
	)
	DataRoutedTotal = NewCounterVec(
		"data_routed_total",
		"Change rows routed to at least one node",
		[]string{"channel"},
	)
	DataUnroutedTotal = NewCounterVec(
		"data_unrouted_total",
		"Change rows no router selected a node for",
		[]string{"channel"},
	)
	GapFillsTotal = NewCounterVec(
		"gap_fills_total",
		"Change rows found inside a recorded gap",
		[]string{"channel"},
	)
	GapsCreatedTotal = NewCounterVec(
		"gaps_created_total",
		"Gaps recorded from data id jumps",
		[]string{"channel"},
	)
	GapsResolvedTotal = NewCounterVec(
		"gaps_resolved_total",
		"Gaps retired by status",
		[]string{"channel", "status"},
	)
	OpenGaps = NewGaugeVec(
		"open_gaps",
		"Live gaps per channel",
		[]string{"channel"},
	)
	BatchesClosedTotal = NewCounterVec(
		"batches_closed_total",
		"Outgoing batches closed by channel",
		[]string{"channel"},
	)
	OpenBatches = NewGaugeVec(
		"open_batches",
		"Outgoing batches still accepting data",
		[]string{"channel"},
	)
	RoutedBatches = NewGaugeVec(
		"routed_batches",
		"Outgoing batches routed and awaiting extraction",
		[]string{"channel"},
	)
	RouterExpressionErrorsTotal = NewCounterVec(
		"router_expression_errors_total",
		"Router expressions that failed and routed nowhere",
		[]string{"router"},
	)

	PublishLogAppendsTotal = NewCounter(
		"publish_log_appends_total",
		"Batch events appended to the publish log",
	)
	PublishedTotal = NewCounterVec(
		"published_total",
		"Batch events delivered by sink and result",
		[]string{"sink", "result"},
	)
	PublishSeconds = NewHistogramVec(
		"publish_seconds",
		"Sink publish latency in seconds",
		[]string{"sink"},
		PublishBuckets,
	)
}
