package catalog

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/y0f/apiprobe/internal/session"
)

var funcMap = sprig.TxtFuncMap()

func parseTemplate(s string) (*template.Template, error) {
	return template.New("").Funcs(funcMap).Option("missingkey=error").Parse(s)
}

// render expands s against data. Strings without actions are returned as is.
func render(s string, data map[string]any) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	t, err := parseTemplate(s)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// renderValue expands every string leaf of a decoded YAML value.
func renderValue(v any, data map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return render(t, data)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			r, err := renderValue(val, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key := fmt.Sprint(k)
			r, err := renderValue(val, data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			r, err := renderValue(val, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// checkTemplates parses every template string in v without executing it.
func checkTemplates(v any) error {
	switch t := v.(type) {
	case string:
		if strings.Contains(t, "{{") {
			_, err := parseTemplate(t)
			return err
		}
	case map[string]string:
		for _, val := range t {
			if err := checkTemplates(val); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, val := range t {
			if err := checkTemplates(val); err != nil {
				return err
			}
		}
	case map[any]any:
		for _, val := range t {
			if err := checkTemplates(val); err != nil {
				return err
			}
		}
	case []any:
		for _, val := range t {
			if err := checkTemplates(val); err != nil {
				return err
			}
		}
	}
	return nil
}

// templateData exposes the session store plus the target base URL.
func templateData(s *session.Session) map[string]any {
	data := s.Values()
	if _, ok := data["base_url"]; !ok {
		data["base_url"] = s.BaseURL()
	}
	return data
}
