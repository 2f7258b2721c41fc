package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jinford/blogforge/internal/module/pipeline/application"
	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// JobHandler はジョブ操作のHTTPハンドラ
type JobHandler struct {
	supervisor *application.Supervisor
	logger     *slog.Logger
}

// NewJobHandler は新しい JobHandler を作成する
func NewJobHandler(supervisor *application.Supervisor, logger *slog.Logger) *JobHandler {
	return &JobHandler{supervisor: supervisor, logger: logger}
}

// CreateJobRequest は POST /v1/jobs のリクエストボディ
type CreateJobRequest struct {
	Topic         string   `json:"topic"`
	Audience      string   `json:"audience"`
	ReferenceURLs []string `json:"referenceUrls,omitempty"`
}

// CreateJobResponse は POST /v1/jobs のレスポンス
type CreateJobResponse struct {
	ID        uuid.UUID       `json:"id"`
	State     domain.JobState `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
}

// CreateJob は POST /v1/jobs を処理する
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jobID, err := h.supervisor.StartJob(r.Context(), req.Topic, req.Audience, req.ReferenceURLs)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	job, err := h.supervisor.GetStatus(r.Context(), jobID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateJobResponse{
		ID:        job.ID,
		State:     job.State,
		CreatedAt: job.CreatedAt,
	})
}

// GetJob は GET /v1/jobs/{id} を処理する
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseJobID(w, r)
	if !ok {
		return
	}

	job, err := h.supervisor.GetStatus(r.Context(), jobID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// PauseJob は POST /v1/jobs/{id}/pause を処理する
func (h *JobHandler) PauseJob(w http.ResponseWriter, r *http.Request) {
	h.controlAction(w, r, h.supervisor.PauseJob)
}

// ResumeJob は POST /v1/jobs/{id}/resume を処理する
func (h *JobHandler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	h.controlAction(w, r, h.supervisor.ResumeJob)
}

// CancelJob は POST /v1/jobs/{id}/cancel を処理する
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	h.controlAction(w, r, h.supervisor.CancelJob)
}

// GetTrace は GET /v1/jobs/{id}/trace を処理する
func (h *JobHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.parseJobID(w, r)
	if !ok {
		return
	}

	events, err := h.supervisor.GetTrace(r.Context(), jobID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []domain.TraceEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Healthz は GET /healthz を処理する
func (h *JobHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// controlAction は一時停止・再開・キャンセルの共通処理
func (h *JobHandler) controlAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, jobID uuid.UUID) error) {
	jobID, ok := h.parseJobID(w, r)
	if !ok {
		return
	}

	if err := action(r.Context(), jobID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	job, err := h.supervisor.GetStatus(r.Context(), jobID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": job.ID, "state": job.State})
}

func (h *JobHandler) parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return jobID, true
}

// writeDomainError はドメインエラーをHTTPステータスに対応付ける
func (h *JobHandler) writeDomainError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
