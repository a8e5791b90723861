package documents

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/ahrav/go-versus/internal/ports"
)

// extractDOCX returns the body paragraphs of a Word document joined by
// newlines. Table cells contribute their paragraphs in reading order. Zip
// archives without a main document part are unsupported.
func extractDOCX(data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ports.ErrUnsupportedFormat, err)
	}
	// The main part is only decoded when word/document.xml exists.
	if doc.Document.XMLName.Local != "document" {
		return "", fmt.Errorf("%w: archive has no word/document.xml", ports.ErrUnsupportedFormat)
	}

	var out []string
	for _, item := range doc.Document.Body.Items {
		switch it := item.(type) {
		case *docx.Paragraph:
			out = append(out, paragraphText(it))
		case *docx.Table:
			out = appendTable(out, it)
		}
	}
	return strings.Join(out, "\n"), nil
}

func appendTable(out []string, t *docx.Table) []string {
	for _, row := range t.TableRows {
		for _, cell := range row.TableCells {
			for _, p := range cell.Paragraphs {
				out = append(out, paragraphText(p))
			}
			for _, nested := range cell.Tables {
				out = appendTable(out, nested)
			}
		}
	}
	return out
}

func paragraphText(p *docx.Paragraph) string {
	var b strings.Builder
	for _, child := range p.Children {
		switch c := child.(type) {
		case *docx.Run:
			writeRun(&b, c)
		case *docx.Hyperlink:
			writeRun(&b, &c.Run)
		}
	}
	return b.String()
}

// writeRun keeps text, tabs and breaks; drawings carry no prose.
func writeRun(b *strings.Builder, r *docx.Run) {
	for _, child := range r.Children {
		switch c := child.(type) {
		case *docx.Text:
			b.WriteString(c.Text)
		case *docx.Tab:
			b.WriteByte('\t')
		case *docx.BarterRabbet:
			b.WriteByte('\n')
		}
	}
}
