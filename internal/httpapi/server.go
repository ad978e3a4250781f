package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
	"github.com/BrandonDHaskell/corenest/internal/corenest/service"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

// PrincipalHeader carries the caller identity on every authenticated call.
// Authentication itself happens in front of this server.
const PrincipalHeader = "X-Principal"

type Dependencies struct {
	Logger logrus.FieldLogger
	Addr   string
	Vault  *service.Vault

	// Per-principal request budget.  RateLimitRPS 0 disables limiting.
	RateLimitRPS   int
	RateLimitBurst int
}

type Server struct {
	httpServer *http.Server
	logger     logrus.FieldLogger
	router     chi.Router
	vault      *service.Vault
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := chi.NewRouter()
	s := &Server{
		logger: logger,
		router: r,
		vault:  d.Vault,
	}

	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(d.RateLimitRPS, d.RateLimitBurst))

		r.Post("/v1/records", s.handleStoreData)
		r.Get("/v1/records/{id}", s.handleRecordInfo)
		r.Get("/v1/records/{id}/key-hash", s.handleKeyHash)
		r.Post("/v1/records/{id}/access", s.handleAccessData)
		r.Put("/v1/records/{id}/grants/{grantee}", s.handleGrantAccess)
		r.Delete("/v1/records/{id}/grants/{grantee}", s.handleRevokeAccess)
		r.Get("/v1/records/{id}/access-log/{grantee}", s.handleAccessLog)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, types.ErrorBody{Kind: "no_route", Message: "no such route"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, types.ErrorBody{Kind: "method_not_allowed", Message: "method not allowed"})
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, types.OKResponse{OK: true})
}

// ── Record store ─────────────────────────────────────────────────────────────

func (s *Server) handleStoreData(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req types.StoreDataRequest
	if !s.decode(w, r, &req) {
		return
	}

	id, err := s.vault.StoreData(r.Context(), caller, req.Reference, req.KeyHash)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, types.StoreDataResponse{ID: id})
}

func (s *Server) handleRecordInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	info, err := s.vault.GetRecordInfo(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, info)
}

func (s *Server) handleKeyHash(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	kh, err := s.vault.GetKeyHash(r.Context(), caller, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, types.KeyHashResponse{KeyHash: kh})
}

// ── Grant table ──────────────────────────────────────────────────────────────

func (s *Server) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	caller, id, grantee, ok := s.grantTarget(w, r)
	if !ok {
		return
	}
	var req types.GrantAccessRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.vault.GrantAccess(r.Context(), caller, id, grantee, req.EncryptedKey); err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, types.OKResponse{OK: true})
}

func (s *Server) handleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	caller, id, grantee, ok := s.grantTarget(w, r)
	if !ok {
		return
	}
	if err := s.vault.RevokeAccess(r.Context(), caller, id, grantee); err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, types.OKResponse{OK: true})
}

// ── Access ───────────────────────────────────────────────────────────────────

func (s *Server) handleAccessData(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := s.recordID(w, r)
	if !ok {
		return
	}
	res, err := s.vault.AccessData(r.Context(), caller, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, res)
}

func (s *Server) handleAccessLog(w http.ResponseWriter, r *http.Request) {
	caller, id, grantee, ok := s.grantTarget(w, r)
	if !ok {
		return
	}
	lg, err := s.vault.GetDataAccessLog(r.Context(), caller, id, grantee)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, lg)
}

// ── request parsing ──────────────────────────────────────────────────────────

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	p, err := types.ParsePrincipal(r.Header.Get(PrincipalHeader))
	if err != nil {
		s.fail(w, r, fault.Invalid("%s header: %v", PrincipalHeader, err))
		return "", false
	}
	return p, true
}

// recordID parses the {id} route segment.  Zero is passed through so the
// vault reports it as not found.
func (s *Server) recordID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.fail(w, r, fault.Invalid("record id must be an unsigned integer"))
		return 0, false
	}
	return id, true
}

// grantee decodes the trailing {grantee} segment exactly once from the
// escaped path.  chi.URLParam is not used here: it yields the raw segment
// when the URL carries a RawPath and the decoded one otherwise.
func (s *Server) grantee(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	escaped := r.URL.EscapedPath()
	raw, err := url.PathUnescape(escaped[strings.LastIndexByte(escaped, '/')+1:])
	if err != nil {
		s.fail(w, r, fault.Invalid("grantee is not a valid path segment"))
		return "", false
	}
	p, err := types.ParsePrincipal(raw)
	if err != nil {
		s.fail(w, r, fault.Invalid("grantee: %v", err))
		return "", false
	}
	return p, true
}

func (s *Server) grantTarget(w http.ResponseWriter, r *http.Request) (types.Principal, uint64, types.Principal, bool) {
	caller, ok := s.caller(w, r)
	if !ok {
		return "", 0, "", false
	}
	id, ok := s.recordID(w, r)
	if !ok {
		return "", 0, "", false
	}
	grantee, ok := s.grantee(w, r)
	if !ok {
		return "", 0, "", false
	}
	return caller, id, grantee, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := readBody(r, dst); err != nil {
		s.fail(w, r, fault.Invalid("invalid request body"))
		return false
	}
	return true
}
