package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

type dispatchRequest struct {
	BatchID          string `json:"batchId"`
	MaxParallel      *int   `json:"maxParallel"`
	PrioritizeSimple *bool  `json:"prioritizeSimple"`
	SkipProcessed    *bool  `json:"skipProcessed"`
}

type dispatchResponse struct {
	Success      bool                    `json:"success"`
	BatchID      string                  `json:"batchId"`
	Processed    int                     `json:"processed"`
	Successful   int                     `json:"successful"`
	Failed       int                     `json:"failed"`
	DurationMs   int64                   `json:"durationMs"`
	AvgDocTimeMs int64                   `json:"avgDocTimeMs"`
	Waves        []domain.WaveSummary    `json:"waves"`
	Results      []domain.DocumentResult `json:"results"`
	Error        string                  `json:"error,omitempty"`
}

func (rt *Router) dispatchBatch(w http.ResponseWriter, r *http.Request) {
	if !requireCaller(w, r) {
		return
	}
	var req dispatchRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	opts := domain.DefaultDispatchOptions()
	if rt.cfg.DispatchMaxParallel > 0 {
		opts.MaxParallel = rt.cfg.DispatchMaxParallel
	}
	if req.MaxParallel != nil {
		if *req.MaxParallel < 1 {
			writeError(w, domain.WrapError(domain.ErrInvalidInput, "dispatch batch", errors.New("maxParallel must be at least 1")))
			return
		}
		opts.MaxParallel = *req.MaxParallel
	}
	if req.PrioritizeSimple != nil {
		opts.PrioritizeSimple = *req.PrioritizeSimple
	}
	if req.SkipProcessed != nil {
		opts.SkipProcessed = *req.SkipProcessed
	}

	summary, err := rt.dispatcher.DispatchBatch(r.Context(), req.BatchID, opts)
	if err != nil {
		if !domain.IsKind(err, domain.ErrSelection) {
			writeError(w, err)
			return
		}
		rt.logger.Error("dispatch_selection_failed", "request_id", requestIDFromContext(r.Context()), "batch_id", req.BatchID, "error", err)
		res := dispatchResponse{
			Success: false,
			BatchID: req.BatchID,
			Waves:   []domain.WaveSummary{},
			Results: []domain.DocumentResult{},
			Error:   "document selection failed",
		}
		if summary != nil {
			res.DurationMs = summary.DurationMs
		}
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}

	writeJSON(w, http.StatusOK, dispatchResponse{
		Success:      true,
		BatchID:      summary.BatchID,
		Processed:    summary.Processed,
		Successful:   summary.Successful,
		Failed:       summary.Failed,
		DurationMs:   summary.DurationMs,
		AvgDocTimeMs: summary.AvgDocTimeMs,
		Waves:        summary.Waves,
		Results:      summary.Results,
	})
}

type batchResponse struct {
	domain.Batch
	Phase          domain.Phase `json:"phase"`
	ExportInFlight bool         `json:"exportInFlight"`
}

func (rt *Router) getBatch(w http.ResponseWriter, r *http.Request) {
	if !requireCaller(w, r) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	batch, err := rt.batches.Batch(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{
		Batch:          *batch,
		Phase:          domain.DerivePhase(*batch),
		ExportInFlight: batch.ExportStartedAt != nil,
	})
}

// receiveExtractionEvent accepts a result the extraction service finished
// after the dispatcher stopped waiting and hands it to the workers.
func (rt *Router) receiveExtractionEvent(w http.ResponseWriter, r *http.Request) {
	if !requireCaller(w, r) {
		return
	}
	var event domain.ExtractionEvent
	if err := decodeJSONBody(r, &event); err != nil {
		writeError(w, err)
		return
	}
	event.DocumentID = strings.TrimSpace(event.DocumentID)
	switch {
	case event.DocumentID == "":
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "receive extraction event", errors.New("documentId is required")))
		return
	case event.Error == "" && len(event.Metadata) == 0:
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "receive extraction event", errors.New("metadata is required unless error is set")))
		return
	}

	if err := rt.events.PublishExtractionEvent(r.Context(), event); err != nil {
		rt.logger.Error("extraction_event_publish_failed", "request_id", requestIDFromContext(r.Context()), "document_id", event.DocumentID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// streamBatch pushes the batch's current progress and every later change
// over a websocket.
func (rt *Router) streamBatch(w http.ResponseWriter, r *http.Request) {
	if !requireCaller(w, r) {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	batch, err := rt.batches.Batch(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	rt.serveProgress(w, r, func(fn func(domain.BatchProgress)) func() {
		return rt.batches.SubscribeToBatch(id, fn)
	}, domain.ProgressOf(*batch))
}

// streamAllBatches pushes progress of every batch.
func (rt *Router) streamAllBatches(w http.ResponseWriter, r *http.Request) {
	if !requireCaller(w, r) {
		return
	}
	rt.serveProgress(w, r, rt.batches.SubscribeToAll)
}

func (rt *Router) serveProgress(
	w http.ResponseWriter,
	r *http.Request,
	subscribe func(func(domain.BatchProgress)) func(),
	initial ...domain.BatchProgress,
) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.logger.Warn("websocket_upgrade_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	updates := make(chan domain.BatchProgress, 32)
	unsubscribe := subscribe(func(progress domain.BatchProgress) {
		select {
		case updates <- progress:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	if rt.metrics != nil {
		rt.metrics.StreamOpened("batch")
		defer rt.metrics.StreamClosed("batch")
	}

	// Reading detects the client going away; incoming messages are ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(progress domain.BatchProgress) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(progress)
	}
	for _, progress := range initial {
		if err := send(progress); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case progress := <-updates:
			if err := send(progress); err != nil {
				return
			}
		}
	}
}

type rateLimitResponse struct {
	Allowed bool               `json:"allowed"`
	Reason  string             `json:"reason,omitempty"`
	Usage   domain.TenantUsage `json:"usage"`
}

func (rt *Router) checkTenantRateLimit(w http.ResponseWriter, r *http.Request) {
	if !requireCaller(w, r) {
		return
	}
	customerID, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	jobType := r.URL.Query().Get("jobType")

	decision, err := rt.admission.CheckAdmission(r.Context(), customerID, jobType)
	if err != nil {
		writeError(w, err)
		return
	}
	usage, err := rt.admission.Usage(r.Context(), customerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rateLimitResponse{Allowed: decision.Allowed, Reason: decision.Reason, Usage: usage})
}
