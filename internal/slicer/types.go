package slicer

import (
	"context"
	"strings"
)

// RecipientRule maps a keyword found in page text to a recipient
type RecipientRule struct {
	Keyword  string `yaml:"keyword" mapstructure:"keyword"`
	Password string `yaml:"password,omitempty" mapstructure:"password"` // empty means no protection
	Contact  string `yaml:"email,omitempty" mapstructure:"email"`       // empty means <keyword>@<domain>
}

// Protected reports whether pages for this rule get encrypted
func (r RecipientRule) Protected() bool {
	return r.Password != ""
}

// Email resolves the recipient address, falling back to the keyword with
// spaces replaced by dots at the given domain.
func (r RecipientRule) Email(domain string) string {
	if r.Contact != "" {
		return r.Contact
	}
	return strings.ReplaceAll(r.Keyword, " ", ".") + "@" + domain
}

// PageTask is one page of the source document from split to final artifact
type PageTask struct {
	PageNumber  int    `json:"page_number"`
	SourcePath  string `json:"source_path"`
	WorkingPath string `json:"working_path"`
}

// Outcome is the per-page result. Exactly one Outcome exists per page.
type Outcome struct {
	Page         int           `json:"page"`
	Matched      bool          `json:"matched"`
	Rule         RecipientRule `json:"-"`
	Email        string        `json:"email,omitempty"`
	ArtifactPath string        `json:"artifact_path"`
	Reason       string        `json:"reason,omitempty"` // set when Matched is false
}

// DispatchRecord is a fully resolved mail derived from a matched page
type DispatchRecord struct {
	RecipientName  string `json:"recipient_name"`
	Email          string `json:"email"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	AttachmentName string `json:"attachment_name"`
	AttachmentPath string `json:"attachment_path"`
	IsProtected    bool   `json:"is_protected"`
}

// Result is the outcome of one pipeline run
type Result struct {
	Document  string           `json:"document"`
	PageCount int              `json:"page_count"`
	Outcomes  []Outcome        `json:"outcomes"` // ordered by page number
	Records   []DispatchRecord `json:"records"`
}

// Dispatchable returns the number of pages ready to be mailed
func (r *Result) Dispatchable() int {
	return len(r.Records)
}

// DocumentSplitter counts pages and writes single pages to their own files
type DocumentSplitter interface {
	PageCount(ctx context.Context, doc string) (int, error)
	ExtractPage(ctx context.Context, doc string, page int, outputPath string) error
}

// TextExtractor returns the searchable text of a single-page document
type TextExtractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Encrypter writes a password protected copy of inputPath to outputPath.
// Implementations must either produce the complete output file or none.
type Encrypter interface {
	Encrypt(ctx context.Context, inputPath, outputPath, password string) error
}

// Config contains pipeline configuration
type Config struct {
	EmailDomain     string `yaml:"email_domain" mapstructure:"email_domain"`
	SubjectTemplate string `yaml:"subject" mapstructure:"subject"`
	BodyTemplate    string `yaml:"body" mapstructure:"body"`
	Workers         int    `yaml:"workers" mapstructure:"workers"` // <= 0 means unlimited
}
