package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router standard library http.ServeMux (avoids a third-party router
// dependency).
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterComplianceRoutes wires the compliance endpoints.
func (r *Router) RegisterComplianceRoutes(h *ComplianceHandler) {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})

	r.Handle("/compliance/status", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.GetStatus(w, req)
	})

	r.Handle("/compliance/sweep", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.TriggerSweep(w, req)
	})

	// summary/{patientId}
	r.Handle("/compliance/summary/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		patientID := strings.TrimPrefix(req.URL.Path, "/compliance/summary/")
		if patientID == "" || strings.Contains(patientID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.GetSummary(w, req, patientID)
	})

	// records/{patientId} and records/{patientId}/export
	r.Handle("/compliance/records/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(req.URL.Path, "/compliance/records/")
		if rest == "" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if patientID, found := strings.CutSuffix(rest, "/export"); found {
			if patientID == "" || strings.Contains(patientID, "/") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			h.ExportRecords(w, req, patientID)
			return
		}
		if strings.Contains(rest, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.GetRecords(w, req, rest)
	})

	// classify/{eventId}: on-demand classification of one intake event
	r.Handle("/compliance/classify/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		eventID := strings.TrimPrefix(req.URL.Path, "/compliance/classify/")
		if eventID == "" || strings.Contains(eventID, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.ClassifyEvent(w, req, eventID)
	})

	r.Handle("/compliance/classifier/test", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.TestClassifier(w, req)
	})
}
