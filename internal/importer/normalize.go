// Package importer turns catalog selections and import rows into generation items.
package importer

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/praxisllmlab/copydesk/internal/model"
)

// CatalogRecord is a product the user picked from the existing catalog.
type CatalogRecord struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// RejectedRow is an import row excluded from the batch, kept for user correction.
type RejectedRow struct {
	Row    int    `json:"row"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Normalized is the result of FromRows: valid items plus the rows that were dropped.
type Normalized struct {
	Items    []model.GenerationItem `json:"-"`
	Rejected []RejectedRow          `json:"rejected"`
}

// FromCatalog turns each record into a reference item. Records without an id are skipped.
func FromCatalog(records []CatalogRecord) []model.GenerationItem {
	items := make([]model.GenerationItem, 0, len(records))
	for _, r := range records {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			continue
		}
		items = append(items, model.NewRefItem(id))
	}
	return items
}

// FromRows turns each row into an inline item. Invalid rows are moved to Rejected.
func FromRows(rows []Row) Normalized {
	out := Normalized{Items: make([]model.GenerationItem, 0, len(rows))}
	for _, row := range rows {
		desc, reason := describe(row)
		if reason != "" {
			name := desc.Name
			if name == "" {
				name = fmt.Sprintf("row %d", row.Number)
			}
			out.Rejected = append(out.Rejected, RejectedRow{Row: row.Number, Name: name, Reason: reason})
			continue
		}
		out.Items = append(out.Items, model.NewInlineItem(desc))
	}
	return out
}

// FromProducts validates inline descriptions posted directly to the API.
// Numbering follows the slice order, starting at 1.
func FromProducts(products []model.ProductDescription) Normalized {
	out := Normalized{Items: make([]model.GenerationItem, 0, len(products))}
	for i, p := range products {
		p.Name = strings.TrimSpace(p.Name)
		if reason := check(&p); reason != "" {
			name := p.Name
			if name == "" {
				name = fmt.Sprintf("row %d", i+1)
			}
			out.Rejected = append(out.Rejected, RejectedRow{Row: i + 1, Name: name, Reason: reason})
			continue
		}
		out.Items = append(out.Items, model.NewInlineItem(p))
	}
	return out
}

func describe(row Row) (model.ProductDescription, string) {
	desc := model.ProductDescription{
		Name:           strings.TrimSpace(row.Name),
		Brand:          row.Brand,
		Features:       row.Features,
		TargetAudience: row.TargetAudience,
		Category:       row.Category,
	}
	if desc.Name == "" {
		return desc, "name is required"
	}
	if row.Price != "" {
		price, err := strconv.ParseFloat(strings.TrimPrefix(row.Price, "$"), 64)
		if err != nil || math.IsInf(price, 0) || math.IsNaN(price) {
			return desc, "price must be a number"
		}
		desc.Price = &price
	}
	return desc, check(&desc)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check returns the first validation failure as a user-facing reason, or "".
func check(desc *model.ProductDescription) string {
	err := validate.Struct(desc)
	if err == nil {
		return ""
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Field()
	if i := strings.IndexByte(field, '['); i >= 0 {
		field = field[:i]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte":
		return field + " must not be negative"
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at most %s entries", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
