package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.NotEmpty(t, c.List())

	tpl, err := c.Get("ugc-video")
	require.NoError(t, err)
	assert.Len(t, tpl.Specs, 5)
	require.NotNil(t, tpl.Specs[1].DependsOnIndex)
	assert.Equal(t, 0, *tpl.Specs[1].DependsOnIndex)
}

func TestGetUnknownTemplate(t *testing.T) {
	_, err := Default().Get("nope")
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
}

func TestListReturnsCopy(t *testing.T) {
	c := Default()
	list := c.List()
	list[0].ID = "mutated"
	assert.NotEqual(t, "mutated", c.Templates[0].ID)
}

func TestLoadHandEditedCatalogAllowsForwardDependency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yml")
	data := `templates:
  - id: custom
    name: Custom
    specs:
      - title: first
        days_from_start: 0
        priority: 1
        depends_on_index: 1
      - title: second
        days_from_start: 2
        priority: 5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	tpl, err := c.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, 1, *tpl.Specs[0].DependsOnIndex)
}

func TestValidateRejectsBadSpecs(t *testing.T) {
	cases := map[string]string{
		"empty":    "templates: []\n",
		"no specs": "templates:\n  - id: a\n    specs: []\n",
		"negative offset": `templates:
  - id: a
    specs:
      - title: x
        days_from_start: -1
        priority: 1
`,
		"priority": `templates:
  - id: a
    specs:
      - title: x
        days_from_start: 1
        priority: 6
`,
		"duplicate": `templates:
  - id: a
    specs:
      - {title: x, days_from_start: 0, priority: 1}
  - id: a
    specs:
      - {title: y, days_from_start: 0, priority: 1}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadEmptyPathUsesDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, len(Default().Templates), len(c.Templates))
}
