package catalog

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/soaringjerry/csat/internal/models"
)

const twoQuestions = `[
  {"code": "Q1", "text": "Cargo care", "section": "ONBOARD", "serviceArea": "Cargo"},
  {"code": "Q2", "text": "Reporting", "section": "ASHORE", "serviceArea": "Reporting"}
]`

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestParseValidCatalog(t *testing.T) {
	c, err := Parse([]byte(twoQuestions))
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	qs := c.Questions()
	assert.Equal(t, "Q1", qs[0].Code)
	assert.Equal(t, models.SectionAshore, qs[1].Section)

	q, ok := c.Lookup("Q2")
	require.True(t, ok)
	assert.Equal(t, "Reporting", q.ServiceArea)
	_, ok = c.Lookup("nope")
	assert.False(t, ok)
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"not an array":    `{"code":"Q1"}`,
		"bad section":     `[{"code":"Q1","text":"x","section":"DECK","serviceArea":"A"}]`,
		"missing area":    `[{"code":"Q1","text":"x","section":"ONBOARD"}]`,
		"empty code":      `[{"code":"","text":"x","section":"ONBOARD","serviceArea":"A"}]`,
		"broken json":     `[{"code":`,
		"duplicate codes": `[{"code":"Q1","text":"x","section":"ONBOARD","serviceArea":"A"},{"code":"Q1","text":"y","section":"ASHORE","serviceArea":"B"}]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestQuestionsReturnsCopy(t *testing.T) {
	c, err := Parse([]byte(twoQuestions))
	require.NoError(t, err)
	qs := c.Questions()
	qs[0].Text = "mutated"
	again, _ := c.Lookup("Q1")
	assert.Equal(t, "Cargo care", again.Text)
}

func TestHolderReloadIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.json")
	writeFile(t, path, twoQuestions)

	h, err := NewHolder(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, 2, h.Current().Len())

	changed, err := h.ReloadIfChanged()
	require.NoError(t, err)
	assert.False(t, changed)

	writeFile(t, path, `[{"code":"Q9","text":"Trust","section":"ASHORE","serviceArea":"Trust"}]`)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	changed, err = h.ReloadIfChanged()
	require.NoError(t, err)
	assert.True(t, changed)
	_, ok := h.Current().Lookup("Q9")
	assert.True(t, ok)
}

func TestHolderKeepsSnapshotOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.json")
	writeFile(t, path, twoQuestions)
	h, err := NewHolder(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	before := h.Current()

	writeFile(t, path, `[{"code":"Q1"}]`)
	assert.Error(t, h.Reload())
	assert.Same(t, before, h.Current())
}

func TestNewHolderRequiresReadableFile(t *testing.T) {
	_, err := NewHolder(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
	_, err = NewHolder("  ", nil)
	assert.Error(t, err)
}

func TestHolderConcurrentReadsDuringReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.json")
	writeFile(t, path, twoQuestions)
	h, err := NewHolder(path, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.Equal(t, 2, len(h.Questions()))
			}
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, h.Reload())
	}
	wg.Wait()
}

func TestRepositoryCatalogIsValid(t *testing.T) {
	c, err := LoadFile(filepath.Join("..", "..", "data", "questions.json"))
	require.NoError(t, err)
	assert.Greater(t, c.Len(), 0)
}
