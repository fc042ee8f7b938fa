package document

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"
)

const (
	DefaultTitle = "AI-Generated Meeting Minutes"
	MediaType    = "application/pdf"

	// Substitute replaces every rune the core PDF fonts cannot encode.
	Substitute = '?'

	fontFamily    = "Helvetica"
	titleFontSize = 16
	bodyFontSize  = 12
	lineHeight    = 10
	titleGap      = 10
)

// creationDate is used for both info dates so identical text renders to identical bytes.
var creationDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Document is a rendered PDF. The zero value is an empty document.
type Document struct {
	data []byte
}

// Bytes returns a copy of the PDF bytes.
func (d Document) Bytes() []byte {
	return bytes.Clone(d.data)
}

func (d Document) Len() int {
	return len(d.data)
}

type Option func(*Renderer)

func WithTitle(title string) Option {
	return func(r *Renderer) {
		if title != "" {
			r.title = title
		}
	}
}

type Renderer struct {
	title string
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{title: DefaultTitle}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Render lays out the title and the text as wrapped plain-text paragraphs.
// Markdown is not interpreted. Runes outside Latin-1 are replaced with
// Substitute, so the only possible error is an internal fpdf failure.
func (r *Renderer) Render(text string) (Document, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(creationDate)
	pdf.SetModificationDate(creationDate)
	pdf.SetCatalogSort(true)
	pdf.AddPage()

	pdf.SetFont(fontFamily, "B", titleFontSize)
	pdf.CellFormat(0, lineHeight, ToLatin1(r.title), "0", 1, "C", false, 0, "")
	pdf.Ln(titleGap)

	pdf.SetFont(fontFamily, "", bodyFontSize)
	pdf.MultiCell(0, lineHeight, ToLatin1(text), "0", "J", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Document{}, fmt.Errorf("write pdf: %w", err)
	}
	return Document{data: buf.Bytes()}, nil
}

// ToLatin1 encodes s as ISO-8859-1 bytes, substituting unsupported runes.
// The result is a byte string meant for fpdf core fonts, not valid UTF-8.
func ToLatin1(s string) string {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.ISO8859_1.EncodeRune(r)
		if !ok {
			b = Substitute
		}
		out = append(out, b)
	}
	return string(out)
}

// FileName is the download name offered for a document rendered at t.
func FileName(t time.Time) string {
	return "meeting_minutes_" + strconv.FormatInt(t.Unix(), 10) + ".pdf"
}
