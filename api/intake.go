package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/traywatch/alarm"
	"github.com/nvr-ai/traywatch/queue"
)

// decodeWorkItem reads a work item, fills its defaults and enqueues it.
func (s *Server) decodeWorkItem(w http.ResponseWriter, r *http.Request) (queue.WorkItem, bool) {
	var item queue.WorkItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return item, false
	}
	if err := item.Validate(); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return item, false
	}
	item = item.WithDefaults(s.clock.Now())
	if item.TransactionID == "" {
		item.TransactionID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(ctx, item); err != nil {
		s.logger.Warn("enqueue failed", zap.String("task", item.ID), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeJSONError(w, status, "failed to enqueue task: "+err.Error())
		return item, false
	}
	s.logger.Info("task queued",
		zap.String("task", item.ID),
		zap.String("transaction", item.TransactionID),
		zap.String("video_url", item.VideoSource))
	return item, true
}

func (s *Server) enqueueVideoTask(w http.ResponseWriter, r *http.Request) {
	item, ok := s.decodeWorkItem(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "queued",
		"task_id":          item.ID,
		"transaction_uuid": item.TransactionID,
	})
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	item, ok := s.decodeWorkItem(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":           "queued",
		"transaction_uuid": item.TransactionID,
	})
}

func (s *Server) listJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONError(w, http.StatusNotFound, "journal is not readable")
		return
	}
	events, err := s.journal.List(r.Context(), r.PathValue("transaction"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if events == nil {
		events = []alarm.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
