package docmodel

import (
	"encoding/json"
	"fmt"
)

// Paragraph is one block of recognized text with its reading order.
type Paragraph struct {
	Box         []int  `json:"box"`
	Contents    string `json:"contents"`
	Direction   string `json:"direction,omitempty"`
	IndentLevel *int   `json:"indent_level,omitempty"`
	Order       int    `json:"order"`
	Role        string `json:"role,omitempty"`
}

// TableCell is one cell of a recognized table.
type TableCell struct {
	Box      []int  `json:"box"`
	Contents string `json:"contents"`
	Col      int    `json:"col"`
	Row      int    `json:"row"`
	ColSpan  int    `json:"col_span"`
	RowSpan  int    `json:"row_span"`
}

// Table is a recognized table with its cell grid.
type Table struct {
	Box     []int            `json:"box"`
	Caption map[string]any   `json:"caption,omitempty"`
	Cells   []TableCell      `json:"cells"`
	Cols    []map[string]any `json:"cols,omitempty"`
	NCol    int              `json:"n_col"`
	NRow    int              `json:"n_row"`
	Order   int              `json:"order"`
	Rows    []map[string]any `json:"rows,omitempty"`
	Spans   []any            `json:"spans,omitempty"`
}

// Figure is a detected figure region, possibly containing paragraphs.
type Figure struct {
	Box        []int          `json:"box"`
	Caption    map[string]any `json:"caption,omitempty"`
	Direction  string         `json:"direction,omitempty"`
	Order      int            `json:"order"`
	Paragraphs []Paragraph    `json:"paragraphs,omitempty"`
	Role       string         `json:"role,omitempty"`
}

// Word is a single recognized word with detection/recognition scores.
type Word struct {
	Content   string  `json:"content"`
	DetScore  float64 `json:"det_score"`
	Direction string  `json:"direction"`
	Points    [][]int `json:"points"`
	RecScore  float64 `json:"rec_score"`
}

// Page is the analysis result of one document page.
type Page struct {
	Figures    []Figure       `json:"figures"`
	Paragraphs []Paragraph    `json:"paragraphs"`
	Preprocess map[string]any `json:"preprocess,omitempty"`
	Tables     []Table        `json:"tables"`
	Words      []Word         `json:"words"`
}

// ParsePages decodes a merged batch payload's list field into typed
// pages. The merged payload is the free-form structure the dispatcher
// assembled; this is the typed view downstream consumers work with.
func ParsePages(merged map[string]any, key string) ([]Page, error) {
	rawList, ok := merged[key]
	if !ok || rawList == nil {
		return nil, fmt.Errorf("merged payload missing %q field", key)
	}

	// Single-page passthrough payloads carry the page structure directly.
	list, ok := rawList.([]any)
	if !ok {
		list = []any{rawList}
	}

	pages := make([]Page, 0, len(list))
	for i, item := range list {
		b, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		var p Page
		if err := json.Unmarshal(b, &p); err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, p)
	}
	return pages, nil
}

// Validate checks that a page carries content and a consistent paragraph
// reading order.
func (p Page) Validate() error {
	if len(p.Paragraphs) == 0 && len(p.Tables) == 0 && len(p.Figures) == 0 {
		return fmt.Errorf("page has no paragraphs, tables or figures")
	}

	seen := make(map[int]bool, len(p.Paragraphs))
	for _, para := range p.Paragraphs {
		if para.Order < 0 {
			return fmt.Errorf("paragraph has negative reading order %d", para.Order)
		}
		if seen[para.Order] {
			return fmt.Errorf("duplicate paragraph reading order %d", para.Order)
		}
		seen[para.Order] = true
	}
	return nil
}
