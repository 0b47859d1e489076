package mailer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/osteele/liquid"
)

// TemplateStore renders liquid templates from a directory, caching compiled
// templates by file name. Rendering is a pure function of the file content
// and the supplied params.
type TemplateStore struct {
	dir    string
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateStore creates a store over the given template directory.
func NewTemplateStore(dir string) *TemplateStore {
	return &TemplateStore{dir: dir, engine: liquid.NewEngine()}
}

// Render loads, compiles, and renders the named template file.
func (t *TemplateStore) Render(name string, params map[string]interface{}) (string, error) {
	if cached, ok := t.cache.Load(name); ok {
		out, err := cached.(*liquid.Template).RenderString(params)
		if err != nil {
			return "", fmt.Errorf("render template %s: %w", name, err)
		}
		return out, nil
	}

	data, err := os.ReadFile(filepath.Join(t.dir, name))
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", name, err)
	}
	tpl, err := t.engine.ParseString(string(data))
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	t.cache.Store(name, tpl)

	out, err := tpl.RenderString(params)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out, nil
}
