// Package pdf implements the document collaborators of the slicer on top of
// pdfcpu (page count, single page extraction, encryption) and
// ledongthuc/pdf (text extraction).
package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// KeyLength is the AES key size used for protected pages.
const KeyLength = 256

var disableConfigDir sync.Once

func pdfcpuConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	return model.NewDefaultConfiguration()
}

// Splitter counts and extracts pages with pdfcpu
type Splitter struct {
	logger *zap.Logger
}

// NewSplitter creates a new pdfcpu backed splitter
func NewSplitter(logger *zap.Logger) *Splitter {
	return &Splitter{logger: logger}
}

// PageCount returns the number of pages of doc
func (s *Splitter) PageCount(ctx context.Context, doc string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	disableConfigDir.Do(api.DisableConfigDir)
	n, err := api.PageCountFile(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to read page count: %w", err)
	}
	return n, nil
}

// ExtractPage writes page of doc as a standalone document to outputPath
func (s *Splitter) ExtractPage(ctx context.Context, doc string, page int, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if page < 1 {
		return fmt.Errorf("invalid page number %d", page)
	}
	if err := api.TrimFile(doc, outputPath, []string{strconv.Itoa(page)}, pdfcpuConfig()); err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("failed to extract page %d: %w", page, err)
	}
	s.logger.Debug("Page extracted", zap.Int("page", page), zap.String("output", outputPath))
	return nil
}

// Encrypter applies AES-256 password protection with full print permission
type Encrypter struct {
	logger *zap.Logger
}

// NewEncrypter creates a new pdfcpu backed encrypter
func NewEncrypter(logger *zap.Logger) *Encrypter {
	return &Encrypter{logger: logger}
}

// Encrypt writes the protected copy to a temporary file next to outputPath
// and renames it into place, so a failure never leaves a partial artifact.
func (e *Encrypter) Encrypt(ctx context.Context, inputPath, outputPath, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("empty password for %s", inputPath)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".encrypt-*.pdf")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewAESConfiguration(password, password, KeyLength)
	conf.Permissions = model.PermissionsPrint

	if err := api.EncryptFile(inputPath, tmpPath, conf); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encrypt: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to move encrypted file into place: %w", err)
	}

	e.logger.Debug("Page encrypted", zap.String("input", inputPath), zap.String("output", outputPath))
	return nil
}
