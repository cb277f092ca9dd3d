package admin

import (
	"errors"
	"net/http"

	"github.com/courier-cdc/courier/common"
	"github.com/courier-cdc/courier/routing"
	"github.com/go-chi/chi/v5"
)

func channelView(ch common.Channel) map[string]interface{} {
	return map[string]interface{}{
		"channel_id":            ch.ChannelID,
		"processing_order":      ch.ProcessingOrder,
		"max_batch_size":        ch.MaxBatchSize,
		"max_batch_to_send":     ch.MaxBatchToSend,
		"max_batch_interval_ms": ch.MaxBatchIntervalMS,
		"batch_algorithm":       string(ch.BatchAlgorithm),
		"enabled":               ch.Enabled,
		"reload":                ch.Reload,
	}
}

func gapView(g common.Gap) map[string]interface{} {
	v := map[string]interface{}{
		"start_id":         g.StartID,
		"end_id":           g.EndID,
		"status":           string(g.Status),
		"tail":             g.IsTail(),
		"create_time":      formatTime(g.CreateTime),
		"last_update_time": formatTime(g.LastUpdateTime),
	}
	if !g.IsTail() {
		v["width"] = g.Width()
	}
	return v
}

func batchView(b *common.Batch) map[string]interface{} {
	return map[string]interface{}{
		"batch_id":            b.BatchID,
		"node_id":             b.NodeID,
		"status":              string(b.Status),
		"batch_type":          string(b.BatchType),
		"data_event_count":    b.DataEventCount,
		"insert_event_count":  b.InsertEventCount,
		"update_event_count":  b.UpdateEventCount,
		"delete_event_count":  b.DeleteEventCount,
		"other_event_count":   b.OtherEventCount,
		"last_data_id":        b.LastDataID,
		"last_transaction_id": b.LastTransactionID,
		"router_millis":       b.RouterMillis,
		"create_time":         formatTime(b.CreateTime),
		"last_update_time":    formatTime(b.LastUpdateTime),
	}
}

// channelFromPath loads the {channelID} channel or writes a 404
func (h *Handlers) channelFromPath(w http.ResponseWriter, r *http.Request) (common.Channel, bool) {
	id := chi.URLParam(r, "channelID")
	ch, ok, err := h.store.GetChannel(r.Context(), h.store.Reader(), id)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return ch, false
	}
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "channel '"+id+"' not found")
		return ch, false
	}
	return ch, true
}

func (h *Handlers) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.service.Channels(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]interface{}, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelView(ch))
	}
	writeJSONResponse(w, out)
}

func (h *Handlers) handleGaps(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channelFromPath(w, r)
	if !ok {
		return
	}
	gaps, err := h.store.ListGaps(r.Context(), h.store.Reader(), ch.ChannelID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := r.URL.Query().Get("status")
	out := make([]map[string]interface{}, 0, len(gaps))
	for _, g := range gaps {
		if status == "" || string(g.Status) == status {
			out = append(out, gapView(g))
		}
	}
	writeJSONResponse(w, out)
}

func (h *Handlers) handleBatches(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channelFromPath(w, r)
	if !ok {
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	status := common.BatchStatus(r.URL.Query().Get("status"))
	batches, err := h.store.ListBatches(r.Context(), h.store.Reader(), ch.ChannelID, status)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	// newest batches are the interesting ones
	if len(batches) > limit {
		batches = batches[len(batches)-limit:]
	}
	out := make([]map[string]interface{}, 0, len(batches))
	for _, b := range batches {
		out = append(out, batchView(b))
	}
	writeJSONResponse(w, out)
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	ch, ok := h.channelFromPath(w, r)
	if !ok {
		return
	}
	stats, ok := h.service.LastStats(ch.ChannelID)
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "no routing pass has run for channel '"+ch.ChannelID+"'")
		return
	}
	writeJSONResponse(w, stats)
}

func (h *Handlers) handleRoute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "channelID")
	if h.trigger == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}

	stats, err := waitStats(r.Context(), h.trigger.Trigger(id))
	switch {
	case err == nil:
		writeJSONResponse(w, stats)
	case errors.Is(err, routing.ErrUnknownChannel):
		writeErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, routing.ErrChannelDisabled):
		writeErrorResponse(w, http.StatusConflict, err.Error())
	default:
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
	}
}
