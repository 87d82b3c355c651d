package slicer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Protector finalizes a classified page under its keyword-based name
type Protector struct {
	encrypter Encrypter
	logger    *zap.Logger
}

// NewProtector creates a new page protector
func NewProtector(encrypter Encrypter, logger *zap.Logger) *Protector {
	return &Protector{encrypter: encrypter, logger: logger}
}

// Protect encrypts the working file into the keyword-named artifact and
// removes the original, or renames it in place when the rule has no
// password. On success only the artifact exists.
func (p *Protector) Protect(ctx context.Context, task PageTask, rule RecipientRule) (string, error) {
	target := ArtifactPath(task.SourcePath, rule.Keyword)

	if !rule.Protected() {
		if err := os.Rename(task.WorkingPath, target); err != nil {
			return "", fmt.Errorf("failed to rename %s: %w", task.WorkingPath, err)
		}
		p.logger.Debug("Page renamed",
			zap.Int("page", task.PageNumber),
			zap.String("artifact", target))
		return target, nil
	}

	if err := p.encrypter.Encrypt(ctx, task.WorkingPath, target, rule.Password); err != nil {
		return "", fmt.Errorf("failed to encrypt %s: %w", task.WorkingPath, err)
	}
	if err := os.Remove(task.WorkingPath); err != nil {
		// never leave the plain page next to its encrypted copy
		_ = os.Remove(target)
		return "", fmt.Errorf("failed to remove unencrypted page %s: %w", task.WorkingPath, err)
	}

	p.logger.Debug("Page encrypted",
		zap.Int("page", task.PageNumber),
		zap.String("artifact", target))
	return target, nil
}

// WorkingPath is the transient per-page file: <dir>/<base>-<page>.pdf
func WorkingPath(source string, page int) string {
	return filepath.Join(filepath.Dir(source), fmt.Sprintf("%s-%d.pdf", baseName(source), page))
}

// ArtifactPath is the final per-recipient file: <dir>/<base>-<keyword>.pdf
func ArtifactPath(source, keyword string) string {
	return filepath.Join(filepath.Dir(source), fmt.Sprintf("%s-%s.pdf", baseName(source), keyword))
}

func baseName(source string) string {
	base := filepath.Base(source)
	return base[:len(base)-len(filepath.Ext(base))]
}
