package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/appmgt/pkg/appmgt"
	"github.com/platinummonkey/appmgt/pkg/audit"
	"github.com/platinummonkey/appmgt/pkg/httputil"
)

// maxBodyBytes bounds application documents.
const maxBodyBytes = 1 << 20

// AuditSearcher queries recorded audit events.
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.Filter) ([]*audit.Event, error)
}

// Server serves the application API.
type Server struct {
	svc    *appmgt.Service
	audit  AuditSearcher
	log    logrus.FieldLogger
	router *mux.Router
}

// NewServer creates a Server. A nil searcher disables /audit. Audit
// searches are limited to the caller's tenant.
func NewServer(svc *appmgt.Service, searcher AuditSearcher, log logrus.FieldLogger) *Server {
	s := &Server{svc: svc, audit: searcher, log: log, router: mux.NewRouter()}
	s.setupRoutes(s.router.PathPrefix("/api/v1").Subrouter())
	return s
}

// Register mounts the API under /api/v1 on r.
func (s *Server) Register(r *mux.Router) {
	r.PathPrefix("/api/v1/").Handler(s)
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.Use(
		httputil.RecoveryMiddleware(s.log),
		httputil.RequestIDMiddleware,
		httputil.PrincipalMiddleware,
		httputil.LoggingMiddleware(s.log),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)

	r.HandleFunc("/applications", s.listApplications).Methods(http.MethodGet)
	r.HandleFunc("/applications", s.createApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id:[0-9]+}", s.updateApplication).Methods(http.MethodPut)
	r.HandleFunc("/applications/{name}", s.getApplication).Methods(http.MethodGet)
	r.HandleFunc("/applications/{name}", s.deleteApplication).Methods(http.MethodDelete)
	r.HandleFunc("/applications/{name}/claims", s.getClaimMapping).Methods(http.MethodGet)
	r.HandleFunc("/applications/{name}/requested-claims", s.getRequestedClaims).Methods(http.MethodGet)
	r.HandleFunc("/inbound", s.getByInboundKey).Methods(http.MethodGet)
	if s.audit != nil {
		r.HandleFunc("/audit", s.searchAudit).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func tenantOf(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("tenant"))
}

// CreatedResponse is returned by POST /applications.
type CreatedResponse struct {
	ID int64 `json:"id"`
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.svc.ListApplications(r.Context(), tenantOf(r), nil)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if apps == nil {
		apps = []appmgt.ApplicationBasicInfo{}
	}
	_ = httputil.WriteSuccess(w, apps)
}

func (s *Server) createApplication(w http.ResponseWriter, r *http.Request) {
	var sp appmgt.ServiceProvider
	if !httputil.ParseJSONOrError(w, r, &sp) {
		return
	}
	id, err := s.svc.CreateApplication(r.Context(), &sp, tenantOf(r))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, CreatedResponse{ID: id})
}

func (s *Server) getApplication(w http.ResponseWriter, r *http.Request) {
	sp, err := s.svc.GetApplication(r.Context(), httputil.PathString(r, "name"), tenantOf(r))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, sp)
}

func (s *Server) updateApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var sp appmgt.ServiceProvider
	if !httputil.ParseJSONOrError(w, r, &sp) {
		return
	}
	sp.ID = id
	if err := s.svc.UpdateApplication(r.Context(), &sp); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) deleteApplication(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteApplication(r.Context(), httputil.PathString(r, "name")); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) getClaimMapping(w http.ResponseWriter, r *http.Request) {
	direction := appmgt.LocalToRemote
	switch httputil.ParseQueryString(r, "direction", "local") {
	case "local":
	case "remote":
		direction = appmgt.RemoteToLocal
	default:
		httputil.WriteBadRequest(w, "direction must be local or remote")
		return
	}
	mapping, err := s.svc.GetClaimMapping(r.Context(), httputil.PathString(r, "name"), tenantOf(r), direction)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, mapping)
}

func (s *Server) getRequestedClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := s.svc.GetRequestedClaims(r.Context(), httputil.PathString(r, "name"), tenantOf(r))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if claims == nil {
		claims = []string{}
	}
	_ = httputil.WriteSuccess(w, claims)
}

func (s *Server) getByInboundKey(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, inboundType := q.Get("key"), q.Get("type")
	if key == "" || inboundType == "" {
		httputil.WriteBadRequest(w, "key and type are required")
		return
	}
	sp, err := s.svc.GetApplicationByInboundKey(r.Context(), key, inboundType, tenantOf(r))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, sp)
}

func (s *Server) searchAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", audit.DefaultSearchLimit)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	tenantID, err := s.svc.TenantID(r.Context(), tenantOf(r))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		TenantID: &tenantID,
		AppName:  q.Get("app"),
		Action:   audit.Action(q.Get("action")),
		Status:   audit.Status(q.Get("status")),
		Limit:    limit,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	events, err := s.audit.Search(r.Context(), filter)
	if err != nil {
		s.log.WithError(err).Error("audit search failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := audit.Export(w, events, audit.ExportFormatJSON); err != nil {
		s.log.WithError(err).Warn("failed to write audit events")
	}
}
