package workflow

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// TemplateData is available in run.env templates.
type TemplateData struct {
	Workflow    string
	RunID       string
	Trigger     string
	TriggerInfo string
}

func newEnvTemplate(name, text string) (*template.Template, error) {
	return template.New(name).
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(text)
}

// RenderEnv renders run.env values.
func (w *Workflow) RenderEnv(data TemplateData) (map[string]string, error) {
	names := make([]string, 0, len(w.Run.Env))
	for name := range w.Run.Env {
		names = append(names, name)
	}
	sort.Strings(names)

	res := make(map[string]string, len(names))
	for _, name := range names {
		tpl, err := newEnvTemplate(name, w.Run.Env[name])
		if err != nil {
			return nil, fmt.Errorf("parse env '%s': %w", name, err)
		}
		var buf bytes.Buffer
		if err := tpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("render env '%s': %w", name, err)
		}
		res[name] = buf.String()
	}
	return res, nil
}
