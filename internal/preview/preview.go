// Package preview extracts a text preview from PDF attachments so the API
// can show page counts and a snippet without shipping the whole document.
package preview

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// maxSnippet bounds the stored preview text.
const maxSnippet = 2000

// PDF describes the extracted preview of one PDF upload.
type PDF struct {
	Pages   int
	Snippet string
}

// FromPDF reads PDF bytes and returns the page count plus a plain-text
// snippet from the leading pages.
func FromPDF(data []byte) (*PDF, error) {
	reader := bytes.NewReader(data)
	doc, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("new pdf reader: %w", err)
	}
	var builder strings.Builder
	total := doc.NumPage()
	for page := 1; page <= total && builder.Len() < maxSnippet; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	snippet := builder.String()
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return &PDF{Pages: total, Snippet: snippet}, nil
}
