package secret

import "fmt"

// Ref binds an environment variable of the executed program to a secret source.
type Ref struct {
	Name string `json:"name"`
	From Source `json:"from"`
}

// Source describes where a secret value comes from. Exactly one field is set.
type Source struct {
	Env        string            `json:"env,omitempty"`
	File       string            `json:"file,omitempty"`
	Dotenv     *DotenvSource     `json:"dotenv,omitempty"`
	Kubernetes *KubernetesSource `json:"kubernetes,omitempty"`
}

type DotenvSource struct {
	// Path is relative to the workflow working directory. Default is ".env".
	Path string `json:"path,omitempty"`
	Key  string `json:"key"`
}

type KubernetesSource struct {
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`
	Key       string `json:"key"`
}

const (
	KindEnv        = "env"
	KindFile       = "file"
	KindDotenv     = "dotenv"
	KindKubernetes = "kubernetes"
)

// Kind returns a type of the source or empty string if no source is set.
func (s Source) Kind() string {
	switch {
	case s.Env != "":
		return KindEnv
	case s.File != "":
		return KindFile
	case s.Dotenv != nil:
		return KindDotenv
	case s.Kubernetes != nil:
		return KindKubernetes
	}
	return ""
}

func (s Source) count() int {
	n := 0
	if s.Env != "" {
		n++
	}
	if s.File != "" {
		n++
	}
	if s.Dotenv != nil {
		n++
	}
	if s.Kubernetes != nil {
		n++
	}
	return n
}

// Validate checks that exactly one source is defined.
func (s Source) Validate() error {
	switch s.count() {
	case 0:
		return fmt.Errorf("no source defined")
	case 1:
	default:
		return fmt.Errorf("only one of env, file, dotenv, kubernetes should be defined")
	}
	if s.Dotenv != nil && s.Dotenv.Key == "" {
		return fmt.Errorf("dotenv.key is required")
	}
	if s.Kubernetes != nil && (s.Kubernetes.Name == "" || s.Kubernetes.Key == "") {
		return fmt.Errorf("kubernetes.name and kubernetes.key are required")
	}
	return nil
}

func (s Source) String() string {
	switch s.Kind() {
	case KindEnv:
		return "env:" + s.Env
	case KindFile:
		return "file:" + s.File
	case KindDotenv:
		return fmt.Sprintf("dotenv:%s#%s", s.Dotenv.Path, s.Dotenv.Key)
	case KindKubernetes:
		return fmt.Sprintf("kubernetes:%s/%s#%s", s.Kubernetes.Namespace, s.Kubernetes.Name, s.Kubernetes.Key)
	}
	return "<none>"
}

// Values are resolved secrets by env variable name.
type Values map[string]string

// Env returns values as a list of NAME=value pairs.
func (v Values) Env() []string {
	res := make([]string, 0, len(v))
	for name, value := range v {
		res = append(res, name+"="+value)
	}
	return res
}
