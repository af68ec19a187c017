package app

import (
	"time"

	"gopkg.in/alecthomas/kingpin.v2"
)

// A Kubernetes client is created only for secrets read from Kubernetes Secrets.
// Empty KubeConfig means in-cluster configuration or $KUBECONFIG.
var (
	KubeContext       = ""
	KubeConfig        = ""
	KubeClientQps     float32
	KubeClientBurst   int
	KubeClientTimeout time.Duration
)

// Defaults are the same as in k8s.io/client-go/rest.
const (
	KubeClientQpsDefault     = "5"
	KubeClientBurstDefault   = "10"
	KubeClientTimeoutDefault = "10s"
)

func DefineKubeClientFlags(cmd *kingpin.CmdClause) {
	cmd.Flag("kube-context", "Kubeconfig context to read secrets with. Can be set with $KUBE_CONTEXT.").
		Envar("KUBE_CONTEXT").
		Default(KubeContext).
		StringVar(&KubeContext)
	cmd.Flag("kube-config", "Kubeconfig file to read secrets with. Can be set with $KUBE_CONFIG.").
		Envar("KUBE_CONFIG").
		Default(KubeConfig).
		StringVar(&KubeConfig)

	// Secrets are read once per run, these limits rarely need tuning.
	cmd.Flag("kube-client-qps", "Requests per second to the API server. Can be set with $KUBE_CLIENT_QPS.").
		Envar("KUBE_CLIENT_QPS").
		Hidden().
		Default(KubeClientQpsDefault).
		Float32Var(&KubeClientQps)
	cmd.Flag("kube-client-burst", "Request burst to the API server. Can be set with $KUBE_CLIENT_BURST.").
		Envar("KUBE_CLIENT_BURST").
		Hidden().
		Default(KubeClientBurstDefault).
		IntVar(&KubeClientBurst)
	cmd.Flag("kube-client-timeout", "Timeout of a single request to the API server. Can be set with $KUBE_CLIENT_TIMEOUT.").
		Envar("KUBE_CLIENT_TIMEOUT").
		Default(KubeClientTimeoutDefault).
		DurationVar(&KubeClientTimeout)
}
