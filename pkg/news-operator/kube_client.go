package news_operator

import (
	"fmt"
	"sync"

	"github.com/deckhouse/deckhouse/pkg/log"
	metricsstorage "github.com/deckhouse/deckhouse/pkg/metrics-storage"

	klient "github.com/flant/kube-client/client"
	"github.com/flant/news-operator/pkg/app"
	"github.com/flant/news-operator/pkg/metric"
	"github.com/flant/news-operator/pkg/secret"
	utils "github.com/flant/news-operator/pkg/utils/labels"
)

var defaultSecretsKubeClientMetricLabels = map[string]string{"component": "secrets"}

// defaultSecretsKubeClient creates a Kubernetes client to read Secrets. Requests are short, so timeout is set.
func defaultSecretsKubeClient(metricStorage metricsstorage.Storage, metricLabels map[string]string, logger *log.Logger) *klient.Client {
	client := klient.New(klient.WithLogger(logger))
	client.WithContextName(app.KubeContext)
	client.WithConfigPath(app.KubeConfig)
	client.WithRateLimiterSettings(app.KubeClientQps, app.KubeClientBurst)
	client.WithMetricStorage(metric.NewMetricsAdapter(metricStorage, logger.Named("kube-client-metrics-adapter")))
	client.WithMetricLabels(utils.DefaultIfEmpty(metricLabels, defaultSecretsKubeClientMetricLabels))
	client.WithTimeout(app.KubeClientTimeout)
	return client
}

var registerKubeClientMetricsOnce sync.Once

// newSecretsKubeClientFactory returns a factory for the secret store.
// The client is initialized on the first read of a kubernetes secret.
func newSecretsKubeClientFactory(metricStorage metricsstorage.Storage, logger *log.Logger) secret.KubeClientFactory {
	return func() (secret.KubeClient, error) {
		registerKubeClientMetricsOnce.Do(func() {
			//nolint:staticcheck
			klient.RegisterKubernetesClientMetrics(metric.NewMetricsAdapter(metricStorage, logger.Named("kube-client-metrics-adapter")), defaultSecretsKubeClientMetricLabels)
		})

		kubeClient := defaultSecretsKubeClient(metricStorage, defaultSecretsKubeClientMetricLabels, logger.Named("secrets-kube-client"))
		if err := kubeClient.Init(); err != nil {
			return nil, fmt.Errorf("initialize 'secrets' Kubernetes client: %w", err)
		}
		return kubeClient, nil
	}
}
