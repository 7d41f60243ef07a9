package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentType selects which part of the marketing copy the backend generates.
type ContentType string

const (
	ContentTypeTitle         ContentType = "title"
	ContentTypeSellingPoints ContentType = "selling_points"
	ContentTypeDescription   ContentType = "description"
	ContentTypeFullCopy      ContentType = "full_copy"
)

func (c ContentType) IsValid() bool {
	switch c {
	case ContentTypeTitle, ContentTypeSellingPoints, ContentTypeDescription, ContentTypeFullCopy:
		return true
	}
	return false
}

// Style is the tone of voice requested for generated copy.
type Style string

const (
	StyleProfessional Style = "professional"
	StyleCasual       Style = "casual"
	StylePlayful      Style = "playful"
	StyleFormal       Style = "formal"
)

func (s Style) IsValid() bool {
	switch s {
	case StyleProfessional, StyleCasual, StylePlayful, StyleFormal:
		return true
	}
	return false
}

// ProductDescription is an inline product submitted without a catalog record.
type ProductDescription struct {
	Name           string   `json:"name" validate:"required,max=200"`
	Brand          string   `json:"brand,omitempty" validate:"max=100"`
	Features       []string `json:"features,omitempty" validate:"max=50,dive,max=500"`
	TargetAudience string   `json:"target_audience,omitempty" validate:"max=200"`
	Price          *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Category       string   `json:"category,omitempty" validate:"max=100"`
}

// GenerationItem is one unit of a batch. Exactly one of Ref and Inline is set.
type GenerationItem struct {
	Ref    string              `json:"product_id,omitempty"`
	Inline *ProductDescription `json:"product,omitempty"`
}

// NewRefItem returns an item that references a catalog record by id.
func NewRefItem(id string) GenerationItem {
	return GenerationItem{Ref: id}
}

// NewInlineItem returns an item carrying a full product description.
func NewInlineItem(p ProductDescription) GenerationItem {
	return GenerationItem{Inline: &p}
}

// DisplayName is the label shown for the item before the backend reports on it.
func (g GenerationItem) DisplayName() string {
	if g.Inline != nil {
		return g.Inline.Name
	}
	return g.Ref
}

// Validate enforces the reference-xor-inline invariant and the required inline name.
func (g GenerationItem) Validate() error {
	hasRef := strings.TrimSpace(g.Ref) != ""
	hasInline := g.Inline != nil
	switch {
	case hasRef && hasInline:
		return fmt.Errorf("%w: both product_id and product are set", ErrInvalidItem)
	case !hasRef && !hasInline:
		return fmt.Errorf("%w: one of product_id or product is required", ErrInvalidItem)
	case hasInline && strings.TrimSpace(g.Inline.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidItem)
	}
	return nil
}

// GenerationConfig holds the parameters applied uniformly to every item of a batch.
// The language list is ordered, deduplicated, and never empty.
type GenerationConfig struct {
	ContentType ContentType
	Style       Style
	languages   []string
}

// NewGenerationConfig builds a config; languages are trimmed and deduplicated in order.
func NewGenerationConfig(ct ContentType, style Style, languages []string) (GenerationConfig, error) {
	if !ct.IsValid() {
		return GenerationConfig{}, fmt.Errorf("%w: unknown content type %q", ErrInvalidConfig, ct)
	}
	if !style.IsValid() {
		return GenerationConfig{}, fmt.Errorf("%w: unknown style %q", ErrInvalidConfig, style)
	}
	langs := dedupLanguages(languages)
	if len(langs) == 0 {
		return GenerationConfig{}, fmt.Errorf("%w: at least one language is required", ErrInvalidConfig)
	}
	return GenerationConfig{ContentType: ct, Style: style, languages: langs}, nil
}

// Languages returns a copy of the target language codes.
func (c GenerationConfig) Languages() []string {
	out := make([]string, len(c.languages))
	copy(out, c.languages)
	return out
}

// Clone returns a config that shares no state with c.
func (c GenerationConfig) Clone() GenerationConfig {
	c.languages = c.Languages()
	return c
}

// HasLanguage reports whether code is selected.
func (c GenerationConfig) HasLanguage(code string) bool {
	for _, l := range c.languages {
		if l == code {
			return true
		}
	}
	return false
}

// AddLanguage appends code unless it is blank or already selected.
func (c *GenerationConfig) AddLanguage(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || c.HasLanguage(code) {
		return false
	}
	c.languages = append(c.languages, code)
	return true
}

// RemoveLanguage deselects code. Removing the last remaining language is a no-op
// and returns false.
func (c *GenerationConfig) RemoveLanguage(code string) bool {
	if len(c.languages) <= 1 {
		return false
	}
	for i, l := range c.languages {
		if l == code {
			c.languages = append(c.languages[:i:i], c.languages[i+1:]...)
			return true
		}
	}
	return false
}

// ToggleLanguage adds code if absent, removes it if present.
func (c *GenerationConfig) ToggleLanguage(code string) bool {
	if c.HasLanguage(code) {
		return c.RemoveLanguage(code)
	}
	return c.AddLanguage(code)
}

type generationConfigJSON struct {
	ContentType ContentType `json:"content_type"`
	Style       Style       `json:"style"`
	Languages   []string    `json:"languages"`
}

func (c GenerationConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(generationConfigJSON{
		ContentType: c.ContentType,
		Style:       c.Style,
		Languages:   c.Languages(),
	})
}

func (c *GenerationConfig) UnmarshalJSON(data []byte) error {
	var raw generationConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cfg, err := NewGenerationConfig(raw.ContentType, raw.Style, raw.Languages)
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}

func dedupLanguages(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, l := range in {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
