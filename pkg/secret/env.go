package secret

import "strings"

// ScrubEnv removes from environ all variables used as env sources
// and all variables named as secrets.
func ScrubEnv(environ []string, refs []Ref) []string {
	if len(refs) == 0 {
		return environ
	}

	drop := make(map[string]struct{}, len(refs)*2)
	for _, ref := range refs {
		drop[ref.Name] = struct{}{}
		if ref.From.Env != "" {
			drop[ref.From.Env] = struct{}{}
		}
	}

	res := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		if _, has := drop[name]; has {
			continue
		}
		res = append(res, kv)
	}
	return res
}

// Names returns names of env variables to be injected.
func Names(refs []Ref) []string {
	res := make([]string, 0, len(refs))
	for _, ref := range refs {
		res = append(res, ref.Name)
	}
	return res
}
