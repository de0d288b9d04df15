package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lvonguyen/netsentry/internal/event"
	"github.com/lvonguyen/netsentry/internal/pipeline"
)

type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: code, Message: message})
}

// decodeBody decodes a size-bounded JSON body, distinguishing oversized
// payloads from malformed ones.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large",
				"request body exceeds the ingest size limit")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

// submit forwards a raw record to the pipeline and maps queue outcomes to
// status codes.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, raw any) {
	err := s.coord.Submit(r.Context(), raw)
	switch {
	case err == nil:
		if s.metrics != nil {
			kind := "network"
			if _, ok := raw.(event.RawMetricsRecord); ok {
				kind = "system"
			}
			s.metrics.EventsIngested.WithLabelValues(kind).Inc()
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case errors.Is(err, pipeline.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "pipeline is shutting down")
	case errors.Is(err, pipeline.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "queue_full", "event queue is full, retry later")
	default:
		s.logger.Error("ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to enqueue event")
	}
}

func (s *Server) handleIngestPacket(w http.ResponseWriter, r *http.Request) {
	var raw event.RawPacketRecord
	if !s.decodeBody(w, r, &raw) {
		return
	}
	s.submit(w, r, raw)
}

func (s *Server) handleIngestMetrics(w http.ResponseWriter, r *http.Request) {
	var raw event.RawMetricsRecord
	if !s.decodeBody(w, r, &raw) {
		return
	}
	s.submit(w, r, raw)
}

// handleIngestBatch accepts a JSON array or newline-delimited packet
// records. Records are admitted individually; one bad record does not fail
// the batch.
func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large",
				"request body exceeds the ingest size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "read_error", err.Error())
		return
	}

	records, err := parseBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_batch", err.Error())
		return
	}

	accepted, rejected := 0, 0
	for _, raw := range records {
		if err := s.coord.Submit(r.Context(), raw); err != nil {
			rejected++
			continue
		}
		accepted++
		if s.metrics != nil {
			s.metrics.EventsIngested.WithLabelValues("network").Inc()
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": accepted, "rejected": rejected})
}

// parseBatch parses a JSON array or newline-delimited packet records.
func parseBatch(body []byte) ([]event.RawPacketRecord, error) {
	var records []event.RawPacketRecord
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var rec event.RawPacketRecord
		if err := decoder.Decode(&rec); err != nil {
			return nil, errors.New("body is neither a JSON array nor newline-delimited records")
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, errors.New("no records found")
	}
	return records, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.StatsSnapshot())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.coord.RecentAlerts(queryLimit(r, 100))
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events := s.coord.RecentEvents(queryLimit(r, 100))
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleChannelHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.coord.ChannelHealth()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"queue_depth": s.coord.QueueDepth(),
	})
}

// queryLimit reads ?limit= with a default, capped to the retention windows.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
