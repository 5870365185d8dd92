// Package httpapi serves the mirror as a JSON API over chi.
//
// Every route decodes its request, calls the matching service endpoint and
// writes the result as JSON. Errors map to statuses: unknown node 404,
// remote rejection 409, timeout 504, bad arguments 400, no remote 503.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/dommirror/idgen"
	"github.com/hazyhaar/dommirror/inspector/internal/service"
	"github.com/hazyhaar/dommirror/kit"
	"github.com/hazyhaar/dommirror/mirror"
)

// Option configures an API.
type Option func(*API)

func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithRequestIDs sets the generator for X-Request-ID. Default: req_ + 12
// base-36 characters.
func WithRequestIDs(gen idgen.Generator) Option {
	return func(a *API) { a.newID = gen }
}

// WithMaxBody caps request bodies. Default: 1 MiB.
func WithMaxBody(n int64) Option {
	return func(a *API) { a.maxBody = n }
}

// API is the HTTP front of a service.
type API struct {
	eps     service.Endpoints
	logger  *slog.Logger
	newID   idgen.Generator
	maxBody int64
}

func New(eps service.Endpoints, opts ...Option) *API {
	a := &API{
		eps:     eps,
		logger:  slog.Default(),
		newID:   idgen.Prefixed("req_", idgen.NanoID(12)),
		maxBody: 1 << 20,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Handler returns a router serving only the API.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

// Routes mounts the API on r, so callers can add their own routes next to
// it.
func (a *API) Routes(r chi.Router) {
	r.Use(a.requestID, securityHeaders, headToGet, maxBody(a.maxBody))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/document", a.serve(a.eps.Document, func(*http.Request) (any, error) {
		return &service.DocumentRequest{}, nil
	}))
	r.Get("/search", a.serve(a.eps.Search, func(r *http.Request) (any, error) {
		return &service.SearchRequest{Query: r.URL.Query().Get("q")}, nil
	}))

	r.Route("/nodes/{id}", func(r chi.Router) {
		r.Get("/", a.serve(a.eps.Node, decodeNode))
		r.Get("/children", a.serve(a.eps.Children, decodeNode))
		r.Put("/attributes/{name}", a.serve(a.eps.SetAttribute, decodeSetAttribute))
		r.Delete("/attributes/{name}", a.serve(a.eps.RemoveAttribute, decodeRemoveAttribute))
		r.Put("/value", a.serve(a.eps.SetValue, decodeValue))
		r.Get("/styles", a.serve(a.eps.Styles, decodeStyles))
		r.Get("/export", a.serve(a.eps.Export, decodeExport))
	})
}

type decodeFunc func(*http.Request) (any, error)

func (a *API) serve(ep kit.Endpoint, decode decodeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, r.Context(), http.StatusBadRequest, err)
			return
		}
		resp, err := ep(r.Context(), req)
		if err != nil {
			writeError(w, r.Context(), statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// statusOf maps service and mirror errors to HTTP statuses.
func statusOf(err error) int {
	var (
		unknown  *mirror.ErrUnknownNode
		rejected *mirror.ErrRejected
	)
	switch {
	case errors.Is(err, service.ErrInvalid):
		return http.StatusBadRequest
	case errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.As(err, &rejected), errors.Is(err, mirror.ErrSessionReset):
		return http.StatusConflict
	case errors.Is(err, service.ErrTimeout), errors.Is(err, mirror.ErrCallTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, mirror.ErrLoopClosed), errors.Is(err, service.ErrUnavailable), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func nodeID(r *http.Request) (mirror.NodeID, error) {
	s := chi.URLParam(r, "id")
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: node id %q", service.ErrInvalid, s)
	}
	return mirror.NodeID(v), nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", service.ErrInvalid, key, s)
	}
	return v, nil
}

type valueBody struct {
	Value *string `json:"value"`
}

func decodeValueBody(r *http.Request) (string, error) {
	var body valueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: body: %v", service.ErrInvalid, err)
	}
	if body.Value == nil {
		return "", fmt.Errorf("%w: body needs a \"value\" field", service.ErrInvalid)
	}
	return *body.Value, nil
}

func decodeNode(r *http.Request) (any, error) {
	id, err := nodeID(r)
	if err != nil {
		return nil, err
	}
	return &service.NodeRequest{ID: id}, nil
}

func decodeSetAttribute(r *http.Request) (any, error) {
	id, err := nodeID(r)
	if err != nil {
		return nil, err
	}
	value, err := decodeValueBody(r)
	if err != nil {
		return nil, err
	}
	return &service.AttributeRequest{ID: id, Name: chi.URLParam(r, "name"), Value: value}, nil
}

func decodeRemoveAttribute(r *http.Request) (any, error) {
	id, err := nodeID(r)
	if err != nil {
		return nil, err
	}
	return &service.AttributeRequest{ID: id, Name: chi.URLParam(r, "name")}, nil
}

func decodeValue(r *http.Request) (any, error) {
	id, err := nodeID(r)
	if err != nil {
		return nil, err
	}
	value, err := decodeValueBody(r)
	if err != nil {
		return nil, err
	}
	return &service.ValueRequest{ID: id, Value: value}, nil
}

func decodeStyles(r *http.Request) (any, error) {
	id, err := nodeID(r)
	if err != nil {
		return nil, err
	}
	authorOnly, err := queryBool(r, "author_only")
	if err != nil {
		return nil, err
	}
	return &service.StylesRequest{ID: id, AuthorOnly: authorOnly}, nil
}

func decodeExport(r *http.Request) (any, error) {
	id, err := nodeID(r)
	if err != nil {
		return nil, err
	}
	sanitize, err := queryBool(r, "sanitize")
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	return &service.ExportRequest{ID: id, Format: q.Get("format"), Sanitize: sanitize, BaseURL: q.Get("base")}, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, ctx context.Context, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error(), "request_id": kit.GetRequestID(ctx)})
}
