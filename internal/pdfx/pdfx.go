// Package pdfx extracts page-aware text from PDF attachments.
//
// Page numbers are 1-based and every page of the document appears in the
// result, including pages with no extractable text. Chunking never
// crosses page boundaries, so dropping blank pages here would shift the
// page numbers cited in answers.
package pdfx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	ragerr "github.com/zoterag/zoterag/internal/errors"
)

// Page is one page of extracted text.
type Page struct {
	// Num is the 1-based page number.
	Num int

	// Text is the extracted plain text, empty for scanned or image-only
	// pages.
	Text string
}

// Extractor pulls per-page text from a PDF file.
type Extractor interface {
	ExtractPages(ctx context.Context, path string) ([]Page, error)
}

// FileExtractor reads PDFs from the local filesystem.
type FileExtractor struct{}

var _ Extractor = (*FileExtractor)(nil)

// NewFileExtractor creates a filesystem PDF extractor.
func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

// ExtractPages extracts text from every page of the PDF at path. A page
// whose content cannot be decoded yields an empty Text rather than
// failing the document; a document that cannot be opened or parsed at
// all returns a data error.
func (e *FileExtractor) ExtractPages(ctx context.Context, path string) (pages []Page, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, ragerr.New(ragerr.ErrCodeFileNotFound,
			fmt.Sprintf("pdf not found: %s", path), statErr)
	}

	// The parser panics on some malformed files. Convert that into an
	// extraction error so one broken attachment cannot kill an indexing
	// run.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = ragerr.New(ragerr.ErrCodePDFExtract,
				fmt.Sprintf("pdf parser panic: %v", r), nil).WithDetail("path", path)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, ragerr.New(ragerr.ErrCodePDFExtract,
			fmt.Sprintf("open pdf: %v", err), err).WithDetail("path", path)
	}
	defer func() { _ = f.Close() }()

	total := reader.NumPage()
	pages = make([]Page, 0, total)
	for i := 1; i <= total; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		page := Page{Num: i}
		p := reader.Page(i)
		if !p.V.IsNull() {
			text, textErr := p.GetPlainText(nil)
			if textErr != nil {
				slog.Debug("page text extraction failed",
					slog.String("path", path),
					slog.Int("page", i),
					slog.String("error", textErr.Error()))
			} else {
				page.Text = text
			}
		}
		pages = append(pages, page)
	}

	return pages, nil
}

// HasText reports whether any page carries non-whitespace text. Fully
// blank documents are skipped by the indexer as unextractable.
func HasText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
