package api

import (
	"net/http"
)

// Routes lists the optional non-API endpoints mounted next to the API.
type Routes struct {
	Realtime    http.Handler // websocket sessions, mounted at /ws
	Metrics     http.Handler
	MetricsPath string
}

// RegisterRoutes sets up all API routes
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, extra Routes) {
	mux.HandleFunc("/health", h.HealthCheck)

	if extra.Metrics != nil {
		path := extra.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, extra.Metrics)
	}
	if extra.Realtime != nil {
		mux.Handle("/ws", extra.Realtime)
	}

	// Tank endpoints
	mux.HandleFunc("/api/v1/tanks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.CreateTank(w, r)
		case http.MethodGet:
			h.ListTanks(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})
	mux.HandleFunc("/api/v1/tanks/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetTank(w, r)
		case http.MethodPut, http.MethodPatch:
			h.UpdateTank(w, r)
		case http.MethodDelete:
			h.DeleteTank(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})
	mux.HandleFunc("/api/v1/tanks/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut, http.MethodPatch:
			h.SetTankStatus(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})
	mux.HandleFunc("/api/v1/tanks/{id}/readings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListReadings(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})

	// Valve endpoints
	mux.HandleFunc("/api/v1/valves", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.CreateValve(w, r)
		case http.MethodGet:
			h.ListValves(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})
	mux.HandleFunc("/api/v1/valves/snap", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.SnapValve(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})
	mux.HandleFunc("/api/v1/valves/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetValve(w, r)
		case http.MethodPut, http.MethodPatch:
			h.UpdateValve(w, r)
		case http.MethodDelete:
			h.DeleteValve(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})
	mux.HandleFunc("/api/v1/valves/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut, http.MethodPatch:
			h.SetValveStatus(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})

	// Pipeline endpoints
	mux.HandleFunc("/api/v1/pipelines", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.CreatePipeline(w, r)
		case http.MethodGet:
			h.ListPipelines(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})
	mux.HandleFunc("/api/v1/pipelines/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetPipeline(w, r)
		case http.MethodPut, http.MethodPatch:
			h.UpdatePipeline(w, r)
		case http.MethodDelete:
			h.DeletePipeline(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})

	// Telemetry endpoint
	mux.HandleFunc("/api/v1/telemetry", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.SubmitTelemetry(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})

	// Flow endpoints
	mux.HandleFunc("/api/v1/flow", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetFlow(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})
	mux.HandleFunc("/api/v1/flow/recompute", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.RecomputeFlow(w, r)
		default:
			methodNotAllowed(w, r)
		}
	})
}
