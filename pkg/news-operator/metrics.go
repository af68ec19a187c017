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
	"fmt"
	"net/http"

	metricsstorage "github.com/deckhouse/deckhouse/pkg/metrics-storage"

	"github.com/flant/news-operator/internal/metrics"
)

// setupMetricStorage registers built-in operator metrics and the scrape handler.
func (op *NewsOperator) setupMetricStorage() error {
	groups := []struct {
		name     string
		register func(metricsstorage.Storage) error
	}{
		{"common", metrics.RegisterCommonMetrics},
		{"task queue", metrics.RegisterTaskQueueMetrics},
		{"run", metrics.RegisterRunMetrics},
		{"trigger", metrics.RegisterTriggerMetrics},
	}
	for _, group := range groups {
		if err := group.register(op.MetricStorage); err != nil {
			return fmt.Errorf("register %s metrics: %w", group.name, err)
		}
	}

	op.APIServer.RegisterRoute(http.MethodGet, "/metrics", op.MetricStorage.Handler().ServeHTTP)

	return nil
}
