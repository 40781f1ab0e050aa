package remote

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nevindra/vybe/sandbox"
)

// Handler serves a sandbox.Provider over HTTP:
//
//	POST   /sandboxes                  create from {"template"}
//	GET    /sandboxes/{id}             connect
//	DELETE /sandboxes/{id}             kill (when the provider supports it)
//	POST   /sandboxes/{id}/commands    run {"command"}
//	PUT    /sandboxes/{id}/files?path= write raw body
//	GET    /sandboxes/{id}/files?path= read raw body
//	GET    /health
type Handler struct {
	provider sandbox.Provider
	sem      chan struct{}
	logger   *slog.Logger
	mux      *http.ServeMux
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxConcurrent caps concurrently running commands; excess requests get
// 503 immediately.
func WithMaxConcurrent(n int) HandlerOption {
	return func(h *Handler) { h.sem = make(chan struct{}, n) }
}

func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(p sandbox.Provider, opts ...HandlerOption) *Handler {
	h := &Handler{
		provider: p,
		sem:      make(chan struct{}, 4),
		logger:   slog.New(slog.DiscardHandler),
		mux:      http.NewServeMux(),
	}
	for _, o := range opts {
		o(h)
	}
	h.mux.HandleFunc("POST /sandboxes", h.create)
	h.mux.HandleFunc("GET /sandboxes/{id}", h.connect)
	h.mux.HandleFunc("DELETE /sandboxes/{id}", h.kill)
	h.mux.HandleFunc("POST /sandboxes/{id}/commands", h.command)
	h.mux.HandleFunc("PUT /sandboxes/{id}/files", h.writeFile)
	h.mux.HandleFunc("GET /sandboxes/{id}/files", h.readFile)
	h.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	handle, err := h.provider.Create(r.Context(), req.Template)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	handle, err := h.provider.Connect(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handle)
}

func (h *Handler) kill(w http.ResponseWriter, r *http.Request) {
	k, ok := h.provider.(sandbox.Killer)
	if !ok {
		writeError(w, http.StatusMethodNotAllowed, errorResponse{Error: "kill not supported", Kind: kindBadRequest})
		return
	}
	if err := k.Kill(r.Context(), r.PathValue("id")); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "command is required", Kind: kindBadRequest})
		return
	}

	// Fail fast under load.
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		writeError(w, http.StatusServiceUnavailable, errorResponse{Error: "server busy: execution capacity reached", Kind: kindBusy})
		return
	}

	handle, err := h.provider.Connect(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	res, err := h.provider.RunCommand(r.Context(), handle, req.Command)
	if err != nil {
		if sandbox.IsGone(err) {
			h.writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commandResponse{Result: res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Result: res})
}

func (h *Handler) writeFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "path is required", Kind: kindBadRequest})
		return
	}
	body, err := readBody(r.Body, maxRequestBodyBytes)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	handle, err := h.provider.Connect(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.provider.WriteFile(r.Context(), handle, path, body); err != nil {
		h.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) readFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "path is required", Kind: kindBadRequest})
		return
	}
	handle, err := h.provider.Connect(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	data, err := h.provider.ReadFile(r.Context(), handle, path)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// writeErr maps provider errors onto status codes and error kinds.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var (
		nf *sandbox.NotFoundError
		pe *sandbox.ProvisionError
	)
	switch {
	case errors.As(err, &nf) && nf.Resource == sandbox.ResourceSandbox:
		writeError(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: kindSandboxNotFound, Name: nf.Name})
	case errors.As(err, &nf):
		writeError(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: kindFileNotFound, Name: nf.Name})
	case errors.As(err, &pe):
		writeError(w, http.StatusBadGateway, errorResponse{Error: pe.Err.Error(), Kind: kindProvision, Name: pe.Template})
	default:
		h.logger.Error("sandbox request failed", "error", err)
		writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Kind: kindInternal})
	}
}

func writeBodyError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error(), Kind: kindBadRequest})
		return
	}
	writeError(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body", Kind: kindBadRequest})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := readBody(r.Body, maxRequestBodyBytes)
	if err != nil {
		writeBodyError(w, err)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error(), Kind: kindBadRequest})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func writeError(w http.ResponseWriter, code int, e errorResponse) {
	writeJSON(w, code, e)
}
