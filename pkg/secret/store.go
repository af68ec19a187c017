package secret

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/deckhouse/deckhouse/pkg/log"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	corev1client "k8s.io/client-go/kubernetes/typed/core/v1"
)

const serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// KubeClient is a part of kubernetes.Interface used to read Secrets.
type KubeClient interface {
	CoreV1() corev1client.CoreV1Interface
}

// KubeClientFactory lazily creates a client, so workflows without
// kubernetes secrets never touch the cluster configuration.
type KubeClientFactory func() (KubeClient, error)

// Store resolves secret references at run time. Values are never cached.
type Store struct {
	baseDir string
	lookup  func(string) (string, bool)

	kube *kubeState

	logger *log.Logger
}

type kubeState struct {
	factory KubeClientFactory
	once    sync.Once
	client  KubeClient
	err     error
}

type Option func(*Store)

// WithBaseDir sets a directory for relative file and dotenv paths.
func WithBaseDir(dir string) Option {
	return func(s *Store) {
		s.baseDir = dir
	}
}

func WithKubeClientFactory(f KubeClientFactory) Option {
	return func(s *Store) {
		s.kube = &kubeState{factory: f}
	}
}

// WithLookupEnv replaces os.LookupEnv for the env source.
func WithLookupEnv(f func(string) (string, bool)) Option {
	return func(s *Store) {
		s.lookup = f
	}
}

func NewStore(logger *log.Logger, opts ...Option) *Store {
	s := &Store{
		lookup: os.LookupEnv,
		kube:   &kubeState{},
		logger: logger.With(slog.String("operator.component", "secretStore")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InDir returns a Store that resolves relative paths from dir. The kubernetes client is shared.
func (s *Store) InDir(dir string) *Store {
	c := *s
	c.baseDir = dir
	return &c
}

// ResolveError is returned for a failed reference.
type ResolveError struct {
	Name   string
	Source Source
	Err    error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("secret '%s' from %s: %v", e.Name, e.Source.String(), e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Resolve reads all referenced secrets. Errors for every failed reference are returned together.
func (s *Store) Resolve(ctx context.Context, refs []Ref) (Values, error) {
	values := make(Values, len(refs))
	var allErrs *multierror.Error

	for _, ref := range refs {
		value, err := s.resolveOne(ctx, ref.From)
		if err != nil {
			allErrs = multierror.Append(allErrs, &ResolveError{Name: ref.Name, Source: ref.From, Err: err})
			continue
		}
		s.logger.Debug("secret resolved",
			slog.String("secret", ref.Name),
			slog.String("source", ref.From.Kind()))
		values[ref.Name] = value
	}

	if err := allErrs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *Store) resolveOne(ctx context.Context, src Source) (string, error) {
	if err := src.Validate(); err != nil {
		return "", err
	}

	switch src.Kind() {
	case KindEnv:
		return s.fromEnv(src.Env)
	case KindFile:
		return s.fromFile(src.File)
	case KindDotenv:
		return s.fromDotenv(src.Dotenv)
	case KindKubernetes:
		return s.fromKubernetes(ctx, src.Kubernetes)
	}
	return "", fmt.Errorf("unknown source")
}

func (s *Store) fromEnv(name string) (string, error) {
	value, has := s.lookup(name)
	if !has || value == "" {
		return "", fmt.Errorf("environment variable '%s' is not set", name)
	}
	return value, nil
}

func (s *Store) fromFile(path string) (string, error) {
	content, err := os.ReadFile(s.path(path))
	if err != nil {
		return "", err
	}
	value := strings.TrimRight(string(content), "\r\n")
	if value == "" {
		return "", fmt.Errorf("file is empty")
	}
	return value, nil
}

func (s *Store) fromDotenv(src *DotenvSource) (string, error) {
	path := src.Path
	if path == "" {
		path = ".env"
	}
	kv, err := godotenv.Read(s.path(path))
	if err != nil {
		return "", fmt.Errorf("read dotenv file: %w", err)
	}
	value, has := kv[src.Key]
	if !has || value == "" {
		return "", fmt.Errorf("key '%s' not found", src.Key)
	}
	return value, nil
}

func (s *Store) fromKubernetes(ctx context.Context, src *KubernetesSource) (string, error) {
	client, err := s.kubeClient()
	if err != nil {
		return "", fmt.Errorf("kubernetes client: %w", err)
	}

	namespace := src.Namespace
	if namespace == "" {
		namespace = currentNamespace()
	}

	obj, err := client.CoreV1().Secrets(namespace).Get(ctx, src.Name, metav1.GetOptions{})
	if err != nil {
		return "", err
	}

	if data, has := obj.Data[src.Key]; has && len(data) > 0 {
		return string(data), nil
	}
	if data, has := obj.StringData[src.Key]; has && data != "" {
		return data, nil
	}
	return "", fmt.Errorf("key '%s' not found in Secret %s/%s", src.Key, namespace, src.Name)
}

func (s *Store) kubeClient() (KubeClient, error) {
	k := s.kube
	k.once.Do(func() {
		if k.factory == nil {
			k.err = fmt.Errorf("kubernetes secret source is not configured")
			return
		}
		k.client, k.err = k.factory()
	})
	return k.client, k.err
}

func (s *Store) path(p string) string {
	if filepath.IsAbs(p) || s.baseDir == "" {
		return p
	}
	return filepath.Join(s.baseDir, p)
}

func currentNamespace() string {
	if ns := os.Getenv("POD_NAMESPACE"); ns != "" {
		return ns
	}
	if content, err := os.ReadFile(serviceAccountNamespaceFile); err == nil {
		if ns := strings.TrimSpace(string(content)); ns != "" {
			return ns
		}
	}
	return metav1.NamespaceDefault
}
