package news_operator

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flant/news-operator/pkg/run"
	"github.com/flant/news-operator/pkg/workflow"
)

const nextRunsCount = 5

func registerRootRoute(op *NewsOperator) {
	op.APIServer.RegisterRoute(http.MethodGet, "/", func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(writer, `<html>
    <head><title>News operator</title></head>
    <body>
    <h1>News operator</h1>
    <p>
      <a href="/metrics">prometheus metrics</a><br>
      <a href="/api/v1/runs">recent runs</a><br>
      <a href="/api/v1/workflow">workflow</a>
    </p>
    </body>
    </html>`)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// WorkflowInfo is a summary of the active workflow.
type WorkflowInfo struct {
	Name           string             `json:"name"`
	Path           string             `json:"path"`
	Checksum       string             `json:"checksum"`
	ManualDispatch bool               `json:"manualDispatch"`
	Concurrency    string             `json:"concurrency"`
	Timeout        string             `json:"timeout,omitempty"`
	NextRuns       []workflow.NextRun `json:"nextRuns"`
	LastRun        *run.Snapshot      `json:"lastRun,omitempty"`
}

// RegisterAPIRoutes registers probes and the v1 API.
func (op *NewsOperator) RegisterAPIRoutes() {
	op.APIServer.RegisterRoute(http.MethodGet, "/healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})

	op.APIServer.RegisterRoute(http.MethodGet, "/readyz", func(writer http.ResponseWriter, _ *http.Request) {
		if !op.IsReady() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})

	op.APIServer.RegisterRoute(http.MethodPost, "/api/v1/dispatch", op.handleAPIDispatch)
	op.APIServer.RegisterRoute(http.MethodGet, "/api/v1/runs", op.handleAPIRuns)
	op.APIServer.RegisterRoute(http.MethodGet, "/api/v1/runs/{id}", op.handleAPIRun)
	op.APIServer.RegisterRoute(http.MethodGet, "/api/v1/workflow", op.handleAPIWorkflow)
}

type dispatchRequest struct {
	Requester string `json:"requester"`
}

func (op *NewsOperator) handleAPIDispatch(writer http.ResponseWriter, request *http.Request) {
	if !op.authorizeDispatch(request) {
		writer.Header().Set("WWW-Authenticate", `Bearer realm="news-operator"`)
		writeJSONError(writer, http.StatusUnauthorized, ErrUnauthorized)
		return
	}

	requester := request.URL.Query().Get("requester")

	// An empty body is valid: manual dispatch has no parameters.
	body, err := io.ReadAll(io.LimitReader(request.Body, 64*1024))
	if err != nil {
		writeJSONError(writer, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	if len(body) > 0 {
		var req dispatchRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSONError(writer, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
			return
		}
		if req.Requester != "" {
			requester = req.Requester
		}
	}

	res, err := op.Dispatch(requester)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			writer.Header().Set("Retry-After", "1")
		}
		writeJSONError(writer, dispatchErrorStatus(err), err)
		return
	}

	writeJSON(writer, http.StatusAccepted, res)
}

// authorizeDispatch checks the bearer token if one is configured.
func (op *NewsOperator) authorizeDispatch(request *http.Request) bool {
	if op.dispatchToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(request.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(op.dispatchToken)) == 1
}

func dispatchErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrManualDispatchDisabled):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrShuttingDown), errors.Is(err, ErrNoWorkflow):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (op *NewsOperator) handleAPIRuns(writer http.ResponseWriter, request *http.Request) {
	limit := 0
	if limitStr := request.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeJSONError(writer, http.StatusBadRequest, fmt.Errorf("'limit' should be a non-negative number, got %q", limitStr))
			return
		}
	}
	status := run.Status(request.URL.Query().Get("status"))

	writeJSON(writer, http.StatusOK, op.runSnapshots(status, limit))
}

func (op *NewsOperator) handleAPIRun(writer http.ResponseWriter, request *http.Request) {
	rn, err := op.History.Get(chi.URLParam(request, "id"))
	if err != nil {
		writeJSONError(writer, http.StatusNotFound, err)
		return
	}
	writeJSON(writer, http.StatusOK, rn.Snapshot())
}

func (op *NewsOperator) handleAPIWorkflow(writer http.ResponseWriter, _ *http.Request) {
	info, err := op.workflowInfo(time.Now())
	if err != nil {
		writeJSONError(writer, http.StatusInternalServerError, err)
		return
	}
	writeJSON(writer, http.StatusOK, info)
}

// runSnapshots returns runs newest first. Empty status means any, zero limit means all.
func (op *NewsOperator) runSnapshots(status run.Status, limit int) []run.Snapshot {
	runs := op.History.List()
	res := make([]run.Snapshot, 0, len(runs))
	for _, rn := range runs {
		snap := rn.Snapshot()
		if status != "" && snap.Status != status {
			continue
		}
		res = append(res, snap)
		if limit > 0 && len(res) == limit {
			break
		}
	}
	return res
}

func (op *NewsOperator) workflowInfo(now time.Time) (*WorkflowInfo, error) {
	wf := op.Workflow()
	if wf == nil {
		return nil, ErrNoWorkflow
	}

	nextRuns, err := wf.NextRuns(now, nextRunsCount)
	if err != nil {
		return nil, err
	}

	info := &WorkflowInfo{
		Name:           wf.Name,
		Path:           wf.Path,
		Checksum:       wf.Checksum,
		ManualDispatch: wf.ManualDispatch,
		Concurrency:    string(wf.Concurrency),
		Timeout:        wf.Timeout,
		NextRuns:       nextRuns,
	}
	if last := op.History.Last(); last != nil {
		snap := last.Snapshot()
		info.LastRun = &snap
	}
	return info, nil
}

func writeJSON(writer http.ResponseWriter, code int, val interface{}) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	_ = json.NewEncoder(writer).Encode(val)
}

func writeJSONError(writer http.ResponseWriter, code int, err error) {
	writeJSON(writer, code, errorResponse{Error: err.Error()})
}
