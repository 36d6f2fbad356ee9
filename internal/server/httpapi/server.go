// Package httpapi exposes the activation ledger over JSON/HTTP.
package httpapi

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/and161185/keyledger/internal/convert"
	"github.com/and161185/keyledger/internal/errs"
	"github.com/and161185/keyledger/internal/licensekey"
	"github.com/and161185/keyledger/internal/metrics"
	"github.com/and161185/keyledger/internal/service"
	"github.com/and161185/keyledger/internal/sysinfo"
)

// APIPrefix is the mount point of the license and system routes.
const APIPrefix = "/api/v1"

// maxBodyBytes bounds activation request bodies.
const maxBodyBytes = 4 << 10

// Server wires the ledger service into HTTP handlers.
type Server struct {
	ledger   service.LedgerService
	cores    sysinfo.CoreCounter
	met      *metrics.Metrics
	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time
}

// New constructs the HTTP server. A nil met disables GET /metrics.
func New(ledger service.LedgerService, cores sysinfo.CoreCounter, met *metrics.Metrics, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cores == nil {
		cores = sysinfo.Probe{}
	}
	return &Server{
		ledger:   ledger,
		cores:    cores,
		met:      met,
		log:      log,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.health)
	if s.met != nil {
		r.Method(http.MethodGet, "/metrics", s.met.Handler())
	}

	r.Route(APIPrefix, func(r chi.Router) {
		r.Post("/license/activation", s.activate)
		r.Get("/license/status", s.status)
		r.Get("/system/cpu-cores", s.cpuCores)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, convert.HealthResponse{Status: "ok", TS: s.now().UTC()})
}

func (s *Server) cpuCores(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, convert.ToCPUCoresResponse(s.cores.CPU(), s.now()))
}

func (s *Server) activate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req convert.ActivationRequest
	if err := render.Bind(r, &req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "licenseKey required")
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, validationMessage(err))
		return
	}

	a, err := s.ledger.Submit(r.Context(), req.LicenseKey, remoteIP(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, convert.ToActivationResponse(a))
}

// validationMessage names the first failed rule of an activation request.
func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 && ve[0].Tag() == "max" {
		return licensekey.ReasonLength.Message()
	}
	return "licenseKey required"
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.ledger.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !st.Found {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, convert.ErrorResponse{})
		return
	}
	render.JSON(w, r, convert.ToStatusResponse(st))
}

// writeError maps service errors to HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ke *licensekey.Error
	switch {
	case errors.As(err, &ke):
		writeMessage(w, r, http.StatusBadRequest, ke.Reason.Message())
	case errors.Is(err, errs.ErrInvalidKey):
		writeMessage(w, r, http.StatusBadRequest, "invalid key")
	case errors.Is(err, errs.ErrRateLimited):
		writeMessage(w, r, http.StatusTooManyRequests, "too many failed activation attempts")
	default:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeMessage(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, convert.ErrorResponse{Message: msg})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
