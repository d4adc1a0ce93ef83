// Package adminapi exposes the circuit coordinator over HTTP: payload
// submission and read-only circuit/proposal listings, mounted with the same
// chi router and CORS/observability middleware stack used for the rest of
// the gateway's proxy routes.
package adminapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"circuitadmin/admin"
	gwauth "circuitadmin/gateway/auth"
	"circuitadmin/gateway/middleware"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Config wires the admin REST surface to a running coordinator and store.
type Config struct {
	Coordinator   *admin.Coordinator
	Store         admin.AdminStore
	SelfNodeID    string
	Observability *middleware.Observability
	CORS          middleware.CORSConfig

	// SubmitAuth, when non-nil, requires a valid HMAC-signed, nonce-backed
	// request (X-Api-Key/X-Timestamp/X-Nonce/X-Signature) on POST
	// /admin/submit, on top of the payload's own requester signature.
	SubmitAuth *gwauth.Authenticator

	// ReadAuth, when non-nil, requires a bearer token carrying the
	// "circuit-read" scope on the listing endpoints.
	ReadAuth *middleware.Authenticator

	// RateLimiter, when non-nil, throttles POST /admin/submit per caller so
	// a single misbehaving member can't flood the single-outstanding-change
	// slot with proposals.
	RateLimiter *middleware.RateLimiter
}

// New builds the admin HTTP API router.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware("admin"))
	}

	r.Get("/status", handleStatus(cfg))
	r.Route("/admin", func(sr chi.Router) {
		submit := sr.With(requireSubmitAuth(cfg.SubmitAuth))
		if cfg.RateLimiter != nil {
			submit = submit.With(cfg.RateLimiter.Middleware("admin_submit"))
		}
		submit.Post("/submit", handleSubmit(cfg))

		sr.Group(func(gr chi.Router) {
			if cfg.ReadAuth != nil {
				gr.Use(cfg.ReadAuth.Middleware("circuit-read"))
			}
			gr.Get("/circuits", handleListCircuits(cfg))
			gr.Get("/circuits/{id}", handleGetCircuit(cfg))
			gr.Get("/proposals", handleListProposals(cfg))
			gr.Get("/proposals/{id}", handleGetProposal(cfg))
		})
	})

	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}
	return r
}

// requireSubmitAuth wraps handler with an HMAC/nonce check when auth is
// configured; it passes the request through unchanged when auth is nil so
// deployments without API keys configured keep working.
func requireSubmitAuth(auth *gwauth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if auth == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, int64(gwauth.MaxBodyForSignature)+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			if _, err := auth.Authenticate(r, body); err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleStatus(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"node_id": cfg.SelfNodeID, "status": "ok"})
	}
}

func handleSubmit(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload admin.CircuitManagementPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("decode payload: %v", err))
			return
		}
		if err := cfg.Coordinator.Submit(payload); err != nil {
			writeError(w, statusForErr(err), err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func statusForErr(err error) int {
	switch {
	case errors.Is(err, admin.ErrSignatureInvalid), errors.Is(err, admin.ErrNotPermitted):
		return http.StatusUnauthorized
	case errors.Is(err, admin.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, admin.ErrDuplicateProposal), errors.Is(err, admin.ErrDuplicateCircuit):
		return http.StatusConflict
	case errors.Is(err, admin.ErrUnknownAction):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func handleListCircuits(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var predicates []admin.CircuitPredicate
		if mt := r.URL.Query().Get("filter"); mt != "" {
			predicates = append(predicates, admin.WithManagementType(mt))
		}
		circuits, err := cfg.Store.ListCircuits(predicates...)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		items := make([]any, len(circuits))
		for i, c := range circuits {
			items[i] = c
		}
		writePage(w, r, items)
	}
}

func handleGetCircuit(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		c, ok, err := cfg.Store.GetCircuit(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("circuit %q not found", id))
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleListProposals(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var predicates []admin.ProposalPredicate
		q := r.URL.Query()
		if member := q.Get("member"); member != "" {
			predicates = append(predicates, admin.WithMember(member))
		}
		managementType := q.Get("management_type")
		proposals, err := cfg.Store.ListProposals(predicates...)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		items := make([]any, 0, len(proposals))
		for _, p := range proposals {
			if managementType != "" && p.ProposedCircuit.ManagementType != managementType {
				continue
			}
			items = append(items, p)
		}
		writePage(w, r, items)
	}
}

func handleGetProposal(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		p, ok, err := cfg.Store.GetProposal(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("proposal %q not found", id))
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// paging is the listing envelope's pagination block, named and shaped after
// Splinter-family admin APIs so clients can page through large circuit and
// proposal listings without loading them all at once.
type paging struct {
	Current int    `json:"current"`
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
	Total   int    `json:"total"`
	First   string `json:"first"`
	Prev    string `json:"prev,omitempty"`
	Next    string `json:"next,omitempty"`
	Last    string `json:"last"`
}

type listEnvelope struct {
	Data   []any  `json:"data"`
	Paging paging `json:"paging"`
}

func writePage(w http.ResponseWriter, r *http.Request, items []any) {
	limit := defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	total := len(items)
	end := offset + limit
	if end > total {
		end = total
	}
	var page []any
	if offset < total {
		page = items[offset:end]
	} else {
		page = []any{}
	}

	pageURL := func(off int) string {
		u := *r.URL
		q := u.Query()
		q.Set("offset", strconv.Itoa(off))
		q.Set("limit", strconv.Itoa(limit))
		u.RawQuery = q.Encode()
		return u.String()
	}
	lastOffset := 0
	if total > 0 {
		lastOffset = ((total - 1) / limit) * limit
	}
	env := listEnvelope{
		Data: page,
		Paging: paging{
			Current: offset,
			Offset:  offset,
			Limit:   limit,
			Total:   total,
			First:   pageURL(0),
			Last:    pageURL(lastOffset),
		},
	}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		env.Paging.Prev = pageURL(prev)
	}
	if end < total {
		env.Paging.Next = pageURL(end)
	}
	writeJSON(w, http.StatusOK, env)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
