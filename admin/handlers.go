package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/courier-cdc/courier/db"
	"github.com/courier-cdc/courier/publisher"
	"github.com/courier-cdc/courier/routing"
	"github.com/courier-cdc/courier/telemetry"
	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"
)

// PassTrigger requests an out-of-schedule routing pass
type PassTrigger interface {
	Trigger(channelID string) *future.Future[routing.Stats]
}

// SinkReporter reports publisher sink positions
type SinkReporter interface {
	Sinks() []publisher.SinkStatus
	LastSeq() uint64
}

// Handlers serves the admin API
type Handlers struct {
	store     *db.Store
	service   *routing.Service
	trigger   PassTrigger
	publisher SinkReporter
}

// NewHandlers creates admin handlers. trigger and publisher may be nil.
func NewHandlers(store *db.Store, service *routing.Service, trigger PassTrigger, publisher SinkReporter) *Handlers {
	return &Handlers{store: store, service: service, trigger: trigger, publisher: publisher}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses the limit parameter, 256 by default and at most 1024
func parseLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 256, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}
	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}
	return limit, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// handleNodes lists every configured node
func (h *Handlers) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.store.ListNodes(r.Context(), h.store.Reader())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, map[string]interface{}{
			"node_id":       n.NodeID,
			"external_id":   n.ExternalID,
			"node_group_id": n.NodeGroupID,
			"sync_enabled":  n.SyncEnabled,
		})
	}
	writeJSONResponse(w, out)
}

// handleBacklog reports open gaps and undelivered batches per channel
func (h *Handlers) handleBacklog(w http.ResponseWriter, r *http.Request) {
	backlog, err := h.service.Backlog(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if backlog == nil {
		backlog = []telemetry.ChannelBacklog{}
	}
	writeJSONResponse(w, backlog)
}

// handleSinks reports publisher sink cursors
func (h *Handlers) handleSinks(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeErrorResponse(w, http.StatusNotFound, "publisher not configured")
		return
	}
	writeJSONResponse(w, map[string]interface{}{
		"last_seq": h.publisher.LastSeq(),
		"sinks":    h.publisher.Sinks(),
	})
}

// routeTimeout bounds how long POST /channels/{id}/route waits for a pass
const routeTimeout = 5 * time.Minute

func waitStats(ctx context.Context, fut *future.Future[routing.Stats]) (routing.Stats, error) {
	type result struct {
		stats routing.Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		s, err := fut.Get()
		done <- result{s, err}
	}()

	ctx, cancel := context.WithTimeout(ctx, routeTimeout)
	defer cancel()
	select {
	case res := <-done:
		return res.stats, res.err
	case <-ctx.Done():
		return routing.Stats{}, ctx.Err()
	}
}
