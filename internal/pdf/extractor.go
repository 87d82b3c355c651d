package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	pdftext "github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// TextExtractor returns the plain text of single-page documents
type TextExtractor struct {
	logger *zap.Logger
}

// NewTextExtractor creates a new text extractor
func NewTextExtractor(logger *zap.Logger) *TextExtractor {
	return &TextExtractor{logger: logger}
}

// Extract reads the text of every page in path, with URL-style percent
// escapes decoded.
func (e *TextExtractor) Extract(ctx context.Context, path string) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// the parser panics on some malformed font tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser error in %s: %v", path, r)
		}
	}()

	file, reader, err := pdftext.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract text from %s: %w", path, err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", path, err)
	}

	e.logger.Debug("Text extracted", zap.String("file", path), zap.Int("chars", buf.Len()))
	return DecodeEscapes(buf.String()), nil
}

// DecodeEscapes replaces every valid %XX sequence with the byte it encodes.
// A '%' not followed by two hex digits is kept as is.
func DecodeEscapes(text string) string {
	if !strings.Contains(text, "%") {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '%' && i+2 < len(text) && isHex(text[i+1]) && isHex(text[i+2]) {
			b.WriteByte(unhex(text[i+1])<<4 | unhex(text[i+2]))
			i += 2
			continue
		}
		b.WriteByte(text[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
