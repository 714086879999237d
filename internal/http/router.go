package httpapi

import (
	"net/http"
	"time"

	"registro-pacientes/internal/metrics"

	"go.uber.org/zap"
)

// APIPrefix 随访 API 路径前缀
const APIPrefix = "/tracker/api/v1"

// Router 使用标准库 http.ServeMux
type Router struct {
	mux     *http.ServeMux
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewRouter(logger *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		metrics: m,
	}
}

// Handle 注册路由；请求计数按注册的 pattern 统计
func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, r.instrument(pattern, h))
}

// HandleHandler 支持 http.Handler 接口（/metrics 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, req)
		r.metrics.RecordHTTPRequest(req.Method, route, rec.status, time.Since(start))
		if rec.status >= http.StatusInternalServerError {
			r.logger.Error("Request failed",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status_code", rec.status),
			)
		}
	}
}

// RegisterTrackerRoutes 注册随访 API
func (r *Router) RegisterTrackerRoutes(h *TrackerHandler) {
	r.Handle(APIPrefix+"/state", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.GetState(w, req)
	})

	r.Handle(APIPrefix+"/summary", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.GetSummary(w, req)
	})

	r.Handle(APIPrefix+"/export", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.Export(w, req)
	})

	r.Handle(APIPrefix+"/export/report.xlsx", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.ExportReport(w, req)
	})

	r.Handle(APIPrefix+"/import", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		h.Import(w, req)
	})

	// patients/{cohort}
	r.Handle(APIPrefix+"/patients/cait", h.ClinicPatients)
	r.Handle(APIPrefix+"/patients/private", h.PrivatePatients)

	// patients/{cohort}/{id}[/...]
	r.Handle(APIPrefix+"/patients/", h.PatientRoutes)
}

// RegisterOpsRoutes /metrics 与 /healthz
func (r *Router) RegisterOpsRoutes() {
	r.HandleHandler("/metrics", r.metrics.Handler())
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
}
