package report

import "fmt"

type Kind string

const (
	KindSection   Kind = "section"
	KindParagraph Kind = "paragraph"
	KindBullet    Kind = "bullet"
	KindTable     Kind = "table"
	KindCallout   Kind = "callout"
)

// Record is one structured element of the report. Renderers decide the
// layout; records carry only content.
type Record struct {
	Kind   Kind       `json:"kind"`
	Level  int        `json:"level,omitempty"`
	Text   string     `json:"text,omitempty"`
	Header []string   `json:"header,omitempty"`
	Rows   [][]string `json:"rows,omitempty"`
}

// Builder accumulates report records and the numeric checkpoint that goes
// to stats.json. It is not safe for concurrent use.
type Builder struct {
	records []Record
	stats   map[string]float64
}

func NewBuilder() *Builder {
	return &Builder{stats: make(map[string]float64)}
}

func (b *Builder) Section(level int, title string) *Builder {
	if level < 1 {
		level = 1
	}
	b.records = append(b.records, Record{Kind: KindSection, Level: level, Text: title})
	return b
}

func (b *Builder) Paragraph(format string, args ...any) *Builder {
	b.records = append(b.records, Record{Kind: KindParagraph, Text: fmt.Sprintf(format, args...)})
	return b
}

func (b *Builder) Bullet(format string, args ...any) *Builder {
	b.records = append(b.records, Record{Kind: KindBullet, Text: fmt.Sprintf(format, args...)})
	return b
}

// Table adds a table. Short rows are padded to the header width.
func (b *Builder) Table(header []string, rows [][]string) *Builder {
	padded := make([][]string, len(rows))
	for i, r := range rows {
		if len(r) < len(header) {
			r = append(append([]string(nil), r...), make([]string, len(header)-len(r))...)
		}
		padded[i] = r
	}
	b.records = append(b.records, Record{Kind: KindTable, Header: header, Rows: padded})
	return b
}

func (b *Builder) Callout(format string, args ...any) *Builder {
	b.records = append(b.records, Record{Kind: KindCallout, Text: fmt.Sprintf(format, args...)})
	return b
}

// Stat records a checkpoint value. Later values overwrite earlier ones.
func (b *Builder) Stat(key string, value float64) *Builder {
	b.stats[key] = value
	return b
}

func (b *Builder) Records() []Record {
	return append([]Record(nil), b.records...)
}

func (b *Builder) Stats() map[string]float64 {
	out := make(map[string]float64, len(b.stats))
	for k, v := range b.stats {
		out[k] = v
	}
	return out
}
