// Copyright 2025 Flant JSC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package news_operator

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	"github.com/go-chi/chi/v5"

	"github.com/flant/news-operator/pkg/config"
	"github.com/flant/news-operator/pkg/debug"
	"github.com/flant/news-operator/pkg/task/dump"
)

// RunDefaultDebugServer initialized and run default debug server on unix and http sockets
func RunDefaultDebugServer(unixSocket, httpServerAddress string, logger *log.Logger) (*debug.Server, error) {
	dbgSrv := debug.NewServer("/debug", unixSocket, httpServerAddress, logger)

	dbgSrv.RegisterHandler(http.MethodGet, "/", func(_ *http.Request) (interface{}, error) {
		return "debug endpoint is alive", nil
	})

	err := dbgSrv.Init()

	return dbgSrv, err
}

// RegisterDebugQueueRoutes register routes for dumping main queue
func (op *NewsOperator) RegisterDebugQueueRoutes(dbgSrv *debug.Server) {
	dbgSrv.RegisterHandler(http.MethodGet, "/queue/main.{format:(json|yaml|text)}", func(req *http.Request) (interface{}, error) {
		format := debug.FormatFromRequest(req)
		return dump.TaskQueue(op.TaskQueue, format), nil
	})
}

// RegisterDebugRunRoutes registers routes for run history, workflow info and manual dispatch.
func (op *NewsOperator) RegisterDebugRunRoutes(dbgSrv *debug.Server) {
	dbgSrv.RegisterHandler(http.MethodGet, "/runs/list.{format:(json|yaml|text)}", func(_ *http.Request) (interface{}, error) {
		return op.runSnapshots("", 0), nil
	})

	dbgSrv.RegisterHandler(http.MethodGet, "/runs/{id}.{format:(json|yaml|text)}", func(r *http.Request) (interface{}, error) {
		id := chi.URLParam(r, "id")
		rn, err := op.History.Get(id)
		if err != nil {
			return nil, &debug.NotFoundError{Msg: fmt.Sprintf("run '%s' is not found", id)}
		}
		return rn.Snapshot(), nil
	})

	dbgSrv.RegisterHandler(http.MethodGet, "/workflow.{format:(json|yaml|text)}", func(_ *http.Request) (interface{}, error) {
		return op.workflowInfo(time.Now())
	})

	dbgSrv.RegisterHandler(http.MethodPost, "/dispatch", func(r *http.Request) (interface{}, error) {
		if err := r.ParseForm(); err != nil {
			return nil, &debug.BadRequestError{Msg: err.Error()}
		}

		res, err := op.Dispatch(r.PostForm.Get("requester"))
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, ErrManualDispatchDisabled), errors.Is(err, ErrRateLimited), errors.Is(err, ErrShuttingDown):
			return nil, &debug.ConflictError{Msg: err.Error()}
		}
		return nil, err
	})
}

// RegisterDebugConfigRoutes registers routes to manage runtime configuration.
func (op *NewsOperator) RegisterDebugConfigRoutes(dbgSrv *debug.Server, runtimeConfig *config.Config) {
	dbgSrv.RegisterHandler(http.MethodGet, "/config/list.{format:(json|yaml|text)}", func(r *http.Request) (interface{}, error) {
		format := debug.FormatFromRequest(r)
		if format == "text" {
			return runtimeConfig.String(), nil
		}
		return runtimeConfig.List(), nil
	})

	dbgSrv.RegisterHandler(http.MethodPost, "/config/set", func(r *http.Request) (interface{}, error) {
		err := r.ParseForm()
		if err != nil {
			return nil, err
		}

		name := r.PostForm.Get("name")
		if name == "" {
			return nil, &debug.BadRequestError{Msg: "'name' parameter is required"}
		}
		if !runtimeConfig.Has(name) {
			return nil, &debug.BadRequestError{Msg: fmt.Sprintf("unknown runtime parameter %q", name)}
		}

		value := r.PostForm.Get("value")
		if value == "" {
			return nil, &debug.BadRequestError{Msg: "'value' parameter is required"}
		}

		if err = runtimeConfig.IsValid(name, value); err != nil {
			return nil, &debug.BadRequestError{Msg: fmt.Sprintf("'value' parameter is invalid: %s", err)}
		}

		var duration time.Duration
		durationStr := r.PostForm.Get("duration")
		if durationStr != "" {
			duration, err = time.ParseDuration(durationStr)
			if err != nil {
				return nil, &debug.BadRequestError{Msg: fmt.Sprintf("parse duration %q failed: %s", durationStr, err)}
			}
		}
		if duration == 0 {
			runtimeConfig.Set(name, value)
		} else {
			runtimeConfig.SetTemporarily(name, value, duration)
		}

		return nil, runtimeConfig.LastError(name)
	})
}
