package server

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// compileRequest is the shared payload for compile, preview, and live
// calls. The gateway in front of this service fills in the tenant.
type compileRequest struct {
	Graph  core.WorkflowGraph `json:"graph"`
	Target string             `json:"target"`
	Tenant core.TenantContext `json:"tenant"`
	Page   core.Pagination    `json:"pagination"`
}

type validateRequest struct {
	Graph  core.WorkflowGraph `json:"graph"`
	Tenant core.TenantContext `json:"tenant"`
}

type validateResponse struct {
	OK      bool                        `json:"ok"`
	Schemas map[string][]core.Column    `json:"schemas,omitempty"`
	Error   *core.SchemaValidationError `json:"error,omitempty"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	NodeID  string `json:"node_id,omitempty"`
	Store   string `json:"store,omitempty"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !s.decode(w, r, &req) {
		return
	}

	res := s.engine.PropagateAndValidate(req.Graph, req.Tenant)
	resp := validateResponse{OK: res.OK(), Schemas: res.Schemas, Error: res.Err}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if !s.decode(w, r, &req) {
		return
	}

	q, err := s.engine.Compile(req.Graph, req.Target, req.Tenant, req.Page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if !s.decode(w, r, &req) {
		return
	}

	rs, err := s.engine.Preview(r.Context(), req.Graph, req.Target, req.Tenant, req.Page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// handleLive streams row batches for the target node as server-sent
// events until the client disconnects.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	var req compileRequest
	if !s.decode(w, r, &req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
			Kind:    "streaming_unsupported",
			Message: "response writer does not support flushing",
		}})
		return
	}

	sub, err := s.engine.SubscribeLive(req.Graph, req.Target, req.Tenant)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer s.engine.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case batch, open := <-sub.Batches():
			if !open {
				return
			}
			data, err := json.Marshal(batch)
			if err != nil {
				s.logger.Error("encoding live batch", "error", err)
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// decode parses the JSON request body, answering 400 on malformed
// input. Returns false when the request was already answered.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBody{
			Kind:    "bad_request",
			Message: "malformed request body: " + err.Error(),
		}})
		return false
	}
	return true
}

// writeError maps typed engine failures to HTTP statuses. Compilation
// problems are the caller's to fix; execution problems are mostly
// ours.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var ce *core.CompilationError
	if errors.As(err, &ce) {
		status := http.StatusUnprocessableEntity
		if ce.Kind == core.CompilePaginationBound {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: errorBody{
			Kind:    string(ce.Kind),
			NodeID:  ce.NodeID,
			Message: ce.Message,
		}})
		return
	}

	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		status := http.StatusBadGateway
		switch ee.Kind {
		case core.ExecTimeout:
			status = http.StatusGatewayTimeout
		case core.ExecUnreachable:
			status = http.StatusServiceUnavailable
		case core.ExecRowCap:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, errorResponse{Error: errorBody{
			Kind:    string(ee.Kind),
			Store:   ee.Store,
			Message: ee.Message,
			Hint:    ee.Reason(),
		}})
		return
	}

	s.logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: errorBody{
		Kind:    "internal",
		Message: err.Error(),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
