// Package importer merges externally-sourced export files into the live
// store, appending only items not already present, and produces export
// documents of the same shape.
package importer

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/slyderc/roboprep-sub000/pkg/models"
)

// ErrStructural reports a malformed import file or a missing required field.
// Structural failures are rejected before any mutation and surfaced verbatim
// to the caller.
var ErrStructural = errors.New("invalid import file")

// ParseExport parses and validates an import document. Files missing the
// type marker or whose prompts field is not a list never reach the store.
func ParseExport(data []byte) (*models.ExportDocument, error) {
	// Probe the shape before committing to a full decode so a wrong-typed
	// prompts field reports a structural error, not a decoder error.
	var probe struct {
		Type    string          `json:"type"`
		Prompts json.RawMessage `json:"prompts"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructural, err)
	}
	if probe.Type != models.ExportType {
		return nil, fmt.Errorf("%w: missing %q type marker", ErrStructural, models.ExportType)
	}
	if len(probe.Prompts) == 0 || probe.Prompts[0] != '[' {
		return nil, fmt.Errorf("%w: prompts must be a list", ErrStructural)
	}

	var doc models.ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructural, err)
	}

	if err := validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// validate checks required fields on every item before any merge runs.
func validate(doc *models.ExportDocument) error {
	for i := range doc.Prompts {
		p := &doc.Prompts[i]
		if p.Title == "" {
			return fmt.Errorf("%w: prompt %d missing title", ErrStructural, i)
		}
		if p.PromptText == "" {
			return fmt.Errorf("%w: prompt %d missing promptText", ErrStructural, i)
		}
	}
	for i := range doc.Categories {
		if doc.Categories[i].Name == "" {
			return fmt.Errorf("%w: category %d missing name", ErrStructural, i)
		}
	}
	for i := range doc.Responses {
		r := &doc.Responses[i]
		if r.PromptID == "" {
			return fmt.Errorf("%w: response %d missing promptId", ErrStructural, i)
		}
		if r.ResponseText == "" {
			return fmt.Errorf("%w: response %d missing responseText", ErrStructural, i)
		}
	}
	return nil
}
