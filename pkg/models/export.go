package models

// ExportType is the marker every import/export document must carry.
// Files without it are rejected before any merge is attempted.
const ExportType = "DJPromptsExport"

// ExportDocument is the wire format for import and export files.
type ExportDocument struct {
	Type       string     `json:"type"`
	Version    string     `json:"version"`
	Timestamp  string     `json:"timestamp"`
	Prompts    []Prompt   `json:"prompts"`
	Categories []Category `json:"categories,omitempty"`
	Responses  []Response `json:"responses,omitempty"`
}

// ImportCounts reports the outcome for one collection of a merge import.
// Imported + Duplicates always equals Total; individual-item duplicates are
// never surfaced as errors.
type ImportCounts struct {
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Total      int `json:"total"`
}

// ImportReport aggregates merge-import outcomes for caller-facing
// "imported N, skipped M duplicates" messaging.
type ImportReport struct {
	Prompts    ImportCounts `json:"prompts"`
	Categories ImportCounts `json:"categories"`
	Responses  ImportCounts `json:"responses"`
}
