package expressions

import (
	"sync"

	"github.com/rendis/socialflow/pkg/schema"
)

// programCache memoizes compiled programs by source text. Safe for
// concurrent use; the zero value is ready.
type programCache[P any] struct {
	mu    sync.RWMutex
	progs map[string]P
}

func (c *programCache[P]) get(src string, compile func() (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.progs[src]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.progs[src]; ok {
		return p, nil
	}
	p, err := compile()
	if err != nil {
		return p, err
	}
	if c.progs == nil {
		c.progs = make(map[string]P)
	}
	c.progs[src] = p
	return p, nil
}

// compileError reports a bad expression in node configuration.
func compileError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: cannot compile %q: %s", lang, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

// evalError reports an expression that compiled but failed on this run's data.
func evalError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeNodeExecution, "%s: %q failed: %s", lang, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

func emptyExpression(lang string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s: empty expression", lang)
}
