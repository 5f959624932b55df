package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"waterwatch/api/services"
	"waterwatch/pkg/flow"
	"waterwatch/pkg/geo"
	"waterwatch/pkg/logger"
	"waterwatch/pkg/ontology"
	"waterwatch/pkg/services/flowstate"
	"waterwatch/pkg/services/flowstore"
	"waterwatch/pkg/shared"
)

const maxBodyBytes = 1 << 20

// FlowController runs and reports flow computations.
type FlowController interface {
	RecomputeNow(ctx context.Context, reason string) (flowstate.State, error)
	Latest() (flowstate.State, bool)
}

// HealthCheck reports an error when a dependency is unhealthy. Critical
// checks make the whole service unhealthy; others degrade it.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

type Handlers struct {
	tanks     *services.TankService
	valves    *services.ValveService
	pipelines *services.PipelineService
	telemetry *services.TelemetryService
	flow      FlowController
	store     flowstore.Store
	checks    []HealthCheck
	version   string
	started   time.Time
}

type Config struct {
	Tanks     *services.TankService
	Valves    *services.ValveService
	Pipelines *services.PipelineService
	Telemetry *services.TelemetryService
	Flow      FlowController
	Store     flowstore.Store
	Checks    []HealthCheck
	Version   string
}

func NewHandlers(cfg Config) *Handlers {
	return &Handlers{
		tanks:     cfg.Tanks,
		valves:    cfg.Valves,
		pipelines: cfg.Pipelines,
		telemetry: cfg.Telemetry,
		flow:      cfg.Flow,
		store:     cfg.Store,
		checks:    cfg.Checks,
		version:   cfg.Version,
		started:   time.Now(),
	}
}

// Tank handlers
func (h *Handlers) CreateTank(w http.ResponseWriter, r *http.Request) {
	var req ontology.CreateTankRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tank, err := h.tanks.CreateTank(r.Context(), &req)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusCreated, tank)
}

func (h *Handlers) ListTanks(w http.ResponseWriter, r *http.Request) {
	tanks, err := h.tanks.ListTanks(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, tanks)
}

func (h *Handlers) GetTank(w http.ResponseWriter, r *http.Request) {
	tank, err := h.tanks.GetTank(r.Context(), r.PathValue("id"))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, tank)
}

func (h *Handlers) UpdateTank(w http.ResponseWriter, r *http.Request) {
	var req ontology.UpdateTankRequest
	if !decodeBody(w, r, &req) {
		return
	}

	tank, err := h.tanks.UpdateTank(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, tank)
}

func (h *Handlers) SetTankStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive *bool `json:"is_active"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		sendError(w, http.StatusBadRequest, shared.ErrCodeInvalidRequest, "is_active is required")
		return
	}

	tank, err := h.tanks.SetActive(r.Context(), r.PathValue("id"), *req.IsActive)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, tank)
}

func (h *Handlers) DeleteTank(w http.ResponseWriter, r *http.Request) {
	if err := h.tanks.DeleteTank(r.Context(), r.PathValue("id")); err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": "Tank deleted successfully"})
}

func (h *Handlers) ListReadings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			sendError(w, http.StatusBadRequest, shared.ErrCodeInvalidRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	readings, err := h.telemetry.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, readings)
}

// Valve handlers
func (h *Handlers) CreateValve(w http.ResponseWriter, r *http.Request) {
	var req ontology.CreateValveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	valve, err := h.valves.CreateValve(r.Context(), &req)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusCreated, valve)
}

func (h *Handlers) ListValves(w http.ResponseWriter, r *http.Request) {
	valves, err := h.valves.ListValves(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, valves)
}

func (h *Handlers) GetValve(w http.ResponseWriter, r *http.Request) {
	valve, err := h.valves.GetValve(r.Context(), r.PathValue("id"))
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, valve)
}

func (h *Handlers) UpdateValve(w http.ResponseWriter, r *http.Request) {
	var req ontology.UpdateValveRequest
	if !decodeBody(w, r, &req) {
		return
	}

	valve, err := h.valves.UpdateValve(r.Context(), r.PathValue("id"), &req)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, valve)
}

func (h *Handlers) SetValveStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsOpen *bool `json:"is_open"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IsOpen == nil {
		sendError(w, http.StatusBadRequest, shared.ErrCodeInvalidRequest, "is_open is required")
		return
	}

	valve, err := h.valves.SetOpen(r.Context(), r.PathValue("id"), *req.IsOpen)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, valve)
}

func (h *Handlers) DeleteValve(w http.ResponseWriter, r *http.Request) {
	if err := h.valves.DeleteValve(r.Context(), r.PathValue("id")); err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": "Valve deleted successfully"})
}

func (h *Handlers) SnapValve(w http.ResponseWriter, r *http.Request) {
	var p geo.GeoPoint
	if !decodeBody(w, r, &p) {
		return
	}

	snap, err := h.valves.Snap(r.Context(), p)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, snap)
}

// Pipeline handlers
func (h *Handlers) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req ontology.CreatePipelineRequest
	if !decodeBody(w, r, &req) {
		return
	}

	pipeline, err := h.pipelines.CreatePipeline(r.Context(), &req)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusCreated, pipeline)
}

func (h *Handlers) ListPipelines(w http.ResponseWriter, r *http.Request) {
	pipelines, err := h.pipelines.ListPipelines(r.Context())
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, pipelines)
}

func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pipelineID(w, r)
	if !ok {
		return
	}

	pipeline, err := h.pipelines.GetPipeline(r.Context(), id)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, pipeline)
}

func (h *Handlers) UpdatePipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pipelineID(w, r)
	if !ok {
		return
	}
	var req ontology.UpdatePipelineRequest
	if !decodeBody(w, r, &req) {
		return
	}

	pipeline, err := h.pipelines.UpdatePipeline(r.Context(), id, &req)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, pipeline)
}

func (h *Handlers) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pipelineID(w, r)
	if !ok {
		return
	}

	if err := h.pipelines.DeletePipeline(r.Context(), id); err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": "Pipeline deleted successfully"})
}

func pipelineID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		sendError(w, http.StatusBadRequest, shared.ErrCodeInvalidRequest, "pipeline id must be an integer")
		return 0, false
	}
	return id, true
}

// Telemetry handlers
func (h *Handlers) SubmitTelemetry(w http.ResponseWriter, r *http.Request) {
	var sample ontology.TelemetrySample
	if !decodeBody(w, r, &sample) {
		return
	}

	if err := h.telemetry.Submit(r.Context(), sample); err != nil {
		sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusAccepted, map[string]string{"message": "Sample accepted"})
}

// Flow handlers

// FlowResponse is the flow state with its summary precomputed for clients.
type FlowResponse struct {
	flowstate.State
	Summary flow.Summary `json:"summary"`
}

func newFlowResponse(state flowstate.State) FlowResponse {
	return FlowResponse{State: state, Summary: state.Result.Summary()}
}

func (h *Handlers) GetFlow(w http.ResponseWriter, r *http.Request) {
	state, err := h.latestFlow(r.Context())
	if err != nil {
		if errors.Is(err, flowstore.ErrNoState) {
			sendError(w, http.StatusServiceUnavailable, shared.ErrCodeUnavailable, err.Error())
			return
		}
		sendServiceError(w, err)
		return
	}

	if r.URL.Query().Get("summary") == "true" {
		sendSuccess(w, http.StatusOK, state.Event())
		return
	}
	sendSuccess(w, http.StatusOK, newFlowResponse(state))
}

// latestFlow prefers the shared store and falls back to the recomputer's
// in-process state.
func (h *Handlers) latestFlow(ctx context.Context) (flowstate.State, error) {
	if h.store != nil {
		state, err := h.store.Latest(ctx)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, flowstore.ErrNoState) {
			logger.Warn("failed to read flow store", "error", err)
		}
	}
	if h.flow != nil {
		if state, ok := h.flow.Latest(); ok {
			return state, nil
		}
	}
	return flowstate.State{}, flowstore.ErrNoState
}

func (h *Handlers) RecomputeFlow(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		sendError(w, http.StatusServiceUnavailable, shared.ErrCodeUnavailable, "flow computation is not available")
		return
	}

	state, err := h.flow.RecomputeNow(r.Context(), shared.ReasonManual)
	if err != nil {
		sendError(w, http.StatusServiceUnavailable, shared.ErrCodeUnavailable, err.Error())
		return
	}

	sendSuccess(w, http.StatusOK, newFlowResponse(state))
}

// Health check
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := shared.HealthStatus{
		Status:    shared.StatusHealthy,
		Service:   shared.ServiceName,
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now(),
		Details:   make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			health.Details[c.Name] = shared.StatusUnhealthy + ": " + err.Error()
			if c.Critical {
				health.Status = shared.StatusUnhealthy
			} else if health.Status == shared.StatusHealthy {
				health.Status = shared.StatusDegraded
			}
		} else {
			health.Details[c.Name] = shared.StatusHealthy
		}
	}

	statusCode := http.StatusOK
	if health.Status == shared.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	sendSuccess(w, statusCode, health)
}

// Helper functions
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		sendError(w, http.StatusBadRequest, shared.ErrCodeInvalidRequest, err.Error())
		return false
	}
	return true
}

func sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		sendError(w, http.StatusNotFound, shared.ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrNoUpdates):
		sendError(w, http.StatusBadRequest, shared.ErrCodeInvalidRequest, err.Error())
	default:
		logger.Error("request failed", "error", err)
		sendError(w, http.StatusInternalServerError, shared.ErrCodeInternal, "internal error")
	}
}

func sendSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: true,
		Data:    data,
	}

	json.NewEncoder(w).Encode(response)
}

func sendError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := shared.Response{
		Success: false,
		Error: &shared.Error{
			Code:    code,
			Message: message,
		},
	}

	json.NewEncoder(w).Encode(response)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	sendError(w, http.StatusMethodNotAllowed, shared.ErrCodeMethodNotAllowed, "Method not allowed")
}
