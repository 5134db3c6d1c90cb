// Package pdf extracts per-page text from PDF bytes with Document AI.
package pdf

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"
)

// Page is one extracted page. Numbers start at 1.
type Page struct {
	Number int
	Text   string
}

// Extractor sends PDFs through a Document AI OCR processor.
type Extractor struct {
	client    *documentai.DocumentProcessorClient
	processor string
}

// NewExtractor dials the regional Document AI endpoint. processor is the
// full resource name, projects/{p}/locations/{l}/processors/{id}.
func NewExtractor(ctx context.Context, location, processor string) (*Extractor, error) {
	client, err := documentai.NewDocumentProcessorClient(ctx,
		option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", location)))
	if err != nil {
		return nil, fmt.Errorf("pdf.NewExtractor: %w", err)
	}
	return &Extractor{client: client, processor: processor}, nil
}

// Close releases the underlying connection.
func (e *Extractor) Close() error { return e.client.Close() }

// ExtractPages runs OCR over the PDF and returns its pages in order.
func (e *Extractor) ExtractPages(ctx context.Context, data []byte) ([]Page, error) {
	resp, err := e.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: e.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: "application/pdf",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pdf.ExtractPages: %w", err)
	}
	doc := resp.GetDocument()
	pages := make([]Page, 0, len(doc.GetPages()))
	for i, page := range doc.GetPages() {
		pages = append(pages, Page{
			Number: i + 1,
			Text:   anchorText(doc.GetText(), page.GetLayout().GetTextAnchor()),
		})
	}
	return pages, nil
}

// anchorText resolves a text anchor's segments against the document text.
func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 || end > int64(len(text)) || start > end {
			continue
		}
		b.WriteString(text[start:end])
	}
	return b.String()
}
