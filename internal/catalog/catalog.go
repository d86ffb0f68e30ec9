// Package catalog holds the survey question catalog. The catalog is read from
// a JSON file, checked against an embedded JSON schema and published as an
// immutable snapshot that readers load without locking.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/soaringjerry/csat/internal/models"
)

//go:embed schema.json
var schemaJSON []byte

var compiled = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
})

// Catalog is an immutable, ordered set of questions.
type Catalog struct {
	questions []models.Question
	byCode    map[string]int
}

// Questions returns a copy of the questions in catalog order.
func (c *Catalog) Questions() []models.Question {
	if c == nil {
		return nil
	}
	return append([]models.Question(nil), c.questions...)
}

// Lookup finds a question by code.
func (c *Catalog) Lookup(code string) (models.Question, bool) {
	if c == nil {
		return models.Question{}, false
	}
	i, ok := c.byCode[code]
	if !ok {
		return models.Question{}, false
	}
	return c.questions[i], true
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.questions)
}

// New builds a catalog from questions that are already known to be valid.
// Duplicate codes are rejected.
func New(questions []models.Question) (*Catalog, error) {
	c := &Catalog{
		questions: append([]models.Question(nil), questions...),
		byCode:    make(map[string]int, len(questions)),
	}
	for i, q := range c.questions {
		if _, dup := c.byCode[q.Code]; dup {
			return nil, fmt.Errorf("duplicate question code %q", q.Code)
		}
		c.byCode[q.Code] = i
	}
	return c, nil
}

// Parse validates raw catalog JSON against the schema and builds a Catalog.
func Parse(data []byte) (*Catalog, error) {
	schema, err := compiled()
	if err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid catalog: %s", strings.Join(msgs, "; "))
	}
	var qs []models.Question
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(qs)
}

// LoadFile reads and parses the catalog file at path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

type fileStamp struct {
	modTime int64
	size    int64
}

func stampOf(st os.FileInfo) fileStamp {
	return fileStamp{modTime: st.ModTime().UnixNano(), size: st.Size()}
}

// Holder publishes the current catalog snapshot and swaps it on reload. A
// failed reload keeps the previous snapshot.
type Holder struct {
	path   string
	logger *zap.Logger

	current atomic.Pointer[Catalog]

	mu    sync.Mutex
	stamp fileStamp
}

// NewHolder loads the catalog at path; the first load must succeed.
func NewHolder(path string, logger *zap.Logger) (*Holder, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Holder{path: path, logger: logger}
	if err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// NewStaticHolder wraps an already built catalog; Reload is a no-op.
func NewStaticHolder(c *Catalog) *Holder {
	h := &Holder{logger: zap.NewNop()}
	h.current.Store(c)
	return h
}

// Current returns the active snapshot.
func (h *Holder) Current() *Catalog { return h.current.Load() }

// Questions is shorthand for Current().Questions().
func (h *Holder) Questions() []models.Question { return h.Current().Questions() }

// Reload re-reads the catalog file unconditionally.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st, err := os.Stat(h.path)
	if err != nil {
		return fmt.Errorf("stat catalog: %w", err)
	}
	return h.reloadLocked(stampOf(st))
}

// ReloadIfChanged reloads only when the file's mtime or size moved since the
// last attempt, so a broken file is reported once rather than on every poll.
func (h *Holder) ReloadIfChanged() (bool, error) {
	if h.path == "" {
		return false, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st, err := os.Stat(h.path)
	if err != nil {
		return false, fmt.Errorf("stat catalog: %w", err)
	}
	stamp := stampOf(st)
	if stamp == h.stamp {
		return false, nil
	}
	if err := h.reloadLocked(stamp); err != nil {
		return false, err
	}
	return true, nil
}

func (h *Holder) reloadLocked(stamp fileStamp) error {
	h.stamp = stamp
	c, err := LoadFile(h.path)
	if err != nil {
		h.logger.Warn("catalog reload failed, keeping previous snapshot", zap.String("path", h.path), zap.Error(err))
		return err
	}
	h.current.Store(c)
	h.logger.Info("catalog loaded", zap.String("path", h.path), zap.Int("questions", c.Len()))
	return nil
}
