// Package catalog holds the deliverable templates analysts apply to a
// project. The built-in catalog is immutable; a hand-edited YAML file can
// replace it at startup.
package catalog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec is one deliverable blueprint inside a template.
type Spec struct {
	Title          string   `yaml:"title" json:"title"`
	Description    string   `yaml:"description" json:"description,omitempty"`
	DaysFromStart  int      `yaml:"days_from_start" json:"days_from_start"`
	Priority       int      `yaml:"priority" json:"priority"`
	EstimatedHours *float64 `yaml:"estimated_hours,omitempty" json:"estimated_hours,omitempty"`
	DependsOnIndex *int     `yaml:"depends_on_index,omitempty" json:"depends_on_index,omitempty"`
}

type Template struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	Specs       []Spec `yaml:"specs" json:"specs"`
}

type Catalog struct {
	Templates []Template `yaml:"templates"`
}

var ErrTemplateNotFound = errors.New("template not found")

// Default returns the built-in catalog.
func Default() Catalog {
	c, err := FromYAML([]byte(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("built-in catalog: %v", err))
	}
	return c
}

// Load reads a catalog from path. An empty path yields the built-in catalog.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a catalog.
func FromYAML(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate checks template shape. Dependency indexes are not checked: a
// forward or out-of-range index expands to "no dependency".
func (c Catalog) Validate() error {
	if len(c.Templates) == 0 {
		return fmt.Errorf("catalog has no templates")
	}
	seen := map[string]bool{}
	for _, t := range c.Templates {
		if t.ID == "" {
			return fmt.Errorf("template id is required")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate template id %s", t.ID)
		}
		seen[t.ID] = true
		if len(t.Specs) == 0 {
			return fmt.Errorf("template %s has no deliverables", t.ID)
		}
		for i, s := range t.Specs {
			if s.Title == "" {
				return fmt.Errorf("template %s deliverable %d: title is required", t.ID, i)
			}
			if s.DaysFromStart < 0 {
				return fmt.Errorf("template %s deliverable %d: days_from_start must be >= 0", t.ID, i)
			}
			if s.Priority < 1 || s.Priority > 5 {
				return fmt.Errorf("template %s deliverable %d: priority must be 1-5", t.ID, i)
			}
			if s.EstimatedHours != nil && *s.EstimatedHours < 0 {
				return fmt.Errorf("template %s deliverable %d: estimated_hours must be >= 0", t.ID, i)
			}
		}
	}
	return nil
}

// Get returns the template with the given id.
func (c Catalog) Get(id string) (Template, error) {
	for _, t := range c.Templates {
		if t.ID == id {
			return t, nil
		}
	}
	return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
}

// List returns the templates in catalog order.
func (c Catalog) List() []Template {
	out := make([]Template, len(c.Templates))
	copy(out, c.Templates)
	return out
}

const defaultCatalog = `templates:
  - id: ugc-video
    name: "Campanha de vídeo UGC"
    description: "Roteiro, gravação, edição e entrega de um vídeo curto"
    specs:
      - title: "Briefing e alinhamento"
        description: "Reunião de alinhamento e leitura do briefing da marca"
        days_from_start: 0
        priority: 1
        estimated_hours: 1
      - title: "Roteiro"
        description: "Roteiro do vídeo para aprovação"
        days_from_start: 3
        priority: 1
        estimated_hours: 3
        depends_on_index: 0
      - title: "Gravação"
        description: "Captação do material bruto"
        days_from_start: 7
        priority: 2
        estimated_hours: 4
        depends_on_index: 1
      - title: "Edição"
        description: "Primeira versão editada"
        days_from_start: 10
        priority: 2
        estimated_hours: 5
        depends_on_index: 2
      - title: "Entrega final"
        description: "Versão final com ajustes solicitados"
        days_from_start: 14
        priority: 1
        estimated_hours: 2
        depends_on_index: 3

  - id: social-photo
    name: "Campanha de fotos para redes sociais"
    description: "Sessão de fotos e publicação em feed e stories"
    specs:
      - title: "Moodboard"
        description: "Referências visuais para aprovação"
        days_from_start: 2
        priority: 2
        estimated_hours: 2
      - title: "Sessão de fotos"
        days_from_start: 6
        priority: 2
        estimated_hours: 4
        depends_on_index: 0
      - title: "Seleção e tratamento"
        days_from_start: 9
        priority: 3
        estimated_hours: 3
        depends_on_index: 1
      - title: "Publicação"
        description: "Post no feed e sequência de stories"
        days_from_start: 12
        priority: 1
        estimated_hours: 1
        depends_on_index: 2

  - id: review-unboxing
    name: "Review / unboxing"
    description: "Recebimento do produto, review honesto e publicação"
    specs:
      - title: "Recebimento do produto"
        days_from_start: 0
        priority: 3
      - title: "Gravação do unboxing"
        days_from_start: 3
        priority: 2
        estimated_hours: 2
        depends_on_index: 0
      - title: "Review completo"
        days_from_start: 10
        priority: 2
        estimated_hours: 4
        depends_on_index: 1
      - title: "Relatório de métricas"
        description: "Alcance, engajamento e cliques após 7 dias"
        days_from_start: 17
        priority: 4
        estimated_hours: 1
        depends_on_index: 2

  - id: long-form
    name: "Conteúdo longo"
    description: "Vídeo longo para YouTube com cortes para redes"
    specs:
      - title: "Pauta"
        days_from_start: 1
        priority: 2
        estimated_hours: 2
      - title: "Roteiro detalhado"
        days_from_start: 5
        priority: 1
        estimated_hours: 6
        depends_on_index: 0
      - title: "Gravação"
        days_from_start: 12
        priority: 2
        estimated_hours: 8
        depends_on_index: 1
      - title: "Edição do vídeo longo"
        days_from_start: 20
        priority: 2
        estimated_hours: 12
        depends_on_index: 2
      - title: "Cortes para redes"
        days_from_start: 24
        priority: 3
        estimated_hours: 4
        depends_on_index: 3
      - title: "Publicação e relatório"
        days_from_start: 30
        priority: 3
        estimated_hours: 2
        depends_on_index: 4
`
