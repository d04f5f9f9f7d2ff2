package report

import (
	"bytes"
	"strings"
)

// Markdown renders records as GitHub-flavoured Markdown.
func Markdown(records []Record) []byte {
	var buf bytes.Buffer
	for i, r := range records {
		if i > 0 && records[i-1].Kind == KindBullet && r.Kind != KindBullet {
			buf.WriteByte('\n')
		}
		switch r.Kind {
		case KindSection:
			buf.WriteString(strings.Repeat("#", r.Level))
			buf.WriteByte(' ')
			buf.WriteString(r.Text)
			buf.WriteString("\n\n")
		case KindParagraph:
			buf.WriteString(r.Text)
			buf.WriteString("\n\n")
		case KindBullet:
			buf.WriteString("- ")
			buf.WriteString(r.Text)
			buf.WriteByte('\n')
		case KindCallout:
			buf.WriteString("> ")
			buf.WriteString(r.Text)
			buf.WriteString("\n\n")
		case KindTable:
			writeTable(&buf, r.Header, r.Rows)
		}
	}
	if n := len(records); n > 0 && records[n-1].Kind == KindBullet {
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func writeTable(buf *bytes.Buffer, header []string, rows [][]string) {
	if len(header) == 0 {
		return
	}
	writeRow(buf, header)
	buf.WriteByte('|')
	for range header {
		buf.WriteString(" --- |")
	}
	buf.WriteByte('\n')
	for _, r := range rows {
		writeRow(buf, r)
	}
	buf.WriteByte('\n')
}

func writeRow(buf *bytes.Buffer, cells []string) {
	buf.WriteByte('|')
	for _, c := range cells {
		buf.WriteByte(' ')
		buf.WriteString(escapeCell(c))
		buf.WriteString(" |")
	}
	buf.WriteByte('\n')
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
