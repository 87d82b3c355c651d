package slicer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"text/template"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline splits a document, classifies every page and finalizes the
// artifacts of the pages that matched exactly one recipient.
//
// A run happens in two phases. The classify phase extracts and classifies
// all pages without touching anything but the transient page files; any
// ambiguous page, extraction failure or recipient claimed twice aborts the
// run there and the page files are discarded. Only then does the protect
// phase rename or encrypt matched pages.
type Pipeline struct {
	splitter  *Splitter
	doc       DocumentSplitter
	extractor TextExtractor
	protector *Protector
	rules     []RecipientRule
	config    *Config
	subject   *template.Template
	body      *template.Template
	logger    *zap.Logger
}

// templateData is exposed to the subject and body templates
type templateData struct {
	Name       string
	Keyword    string
	Attachment string
	Document   string
	Page       int
}

// NewPipeline creates a new pipeline over an immutable rule set
func NewPipeline(
	doc DocumentSplitter,
	extractor TextExtractor,
	encrypter Encrypter,
	rules []RecipientRule,
	config *Config,
	logger *zap.Logger,
) (*Pipeline, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}

	subject, err := template.New("subject").Option("missingkey=error").Parse(config.SubjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subject template: %w", err)
	}
	body, err := template.New("body").Option("missingkey=error").Parse(config.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse body template: %w", err)
	}

	return &Pipeline{
		splitter:  NewSplitter(doc, config.Workers, logger),
		doc:       doc,
		extractor: extractor,
		protector: NewProtector(encrypter, logger),
		rules:     append([]RecipientRule(nil), rules...),
		config:    config,
		subject:   subject,
		body:      body,
		logger:    logger,
	}, nil
}

// Run processes one document
func (p *Pipeline) Run(ctx context.Context, source string) (*Result, error) {
	start := time.Now()
	p.logger.Info("Loading pdf", zap.String("file", source))

	pageCount, err := p.doc.PageCount(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages of %s: %w", source, err)
	}
	if pageCount < 1 {
		return nil, fmt.Errorf("%s: %w", source, ErrNoPages)
	}
	p.logger.Info("Processing pages",
		zap.Int("pages", pageCount),
		zap.Int("rules", len(p.rules)),
		zap.Int("workers", p.config.Workers))

	tasks, err := p.splitter.Split(ctx, source, pageCount)
	if err != nil {
		return nil, fmt.Errorf("failed to split %s: %w", source, err)
	}

	classes, err := p.classifyAll(ctx, tasks)
	if err == nil {
		err = checkDuplicates(tasks, classes)
	}
	if err != nil {
		p.logger.Error("Run aborted before protecting any page", zap.Error(err))
		paths := make([]string, len(tasks))
		for i, task := range tasks {
			paths[i] = task.WorkingPath
		}
		discard(p.logger, paths...)
		return nil, err
	}

	outcomes, err := p.protectAll(ctx, tasks, classes)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Document:  source,
		PageCount: pageCount,
		Outcomes:  outcomes,
	}
	for _, outcome := range outcomes {
		if !outcome.Matched {
			continue
		}
		record, err := p.dispatchRecord(source, outcome)
		if err != nil {
			return nil, err
		}
		result.Records = append(result.Records, record)
	}

	p.logger.Info("Pipeline completed",
		zap.Int("pages", pageCount),
		zap.Int("matched", result.Dispatchable()),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

// classifyAll extracts and classifies every page concurrently. All pages
// run to completion; the joined error lists failures in page order.
func (p *Pipeline) classifyAll(ctx context.Context, tasks []PageTask) ([]Classification, error) {
	classes := make([]Classification, len(tasks))
	errs := make([]error, len(tasks))

	var g errgroup.Group
	if p.config.Workers > 0 {
		g.SetLimit(p.config.Workers)
	}

	for i, task := range tasks {
		g.Go(func() error {
			file := filepath.Base(task.WorkingPath)
			p.logger.Info("Inspecting file", zap.String("file", task.WorkingPath))

			text, err := p.extractor.Extract(ctx, task.WorkingPath)
			if err != nil {
				errs[i] = &PageError{Page: task.PageNumber, Stage: StageExtract, Err: err}
				return nil
			}

			class := Classify(text, p.rules)
			switch class.Kind {
			case NoMatch:
				p.logger.Warn("No matching recipient", zap.String("file", file))
			case AmbiguousMatch:
				p.logger.Error("Multiple matching recipients",
					zap.String("file", file),
					zap.Strings("keywords", class.Candidates))
				errs[i] = &AmbiguityError{Page: task.PageNumber, File: file, Keywords: class.Candidates}
			}
			classes[i] = class
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return classes, nil
}

// checkDuplicates rejects keywords matched on several pages, since their
// artifacts would share a single file name.
func checkDuplicates(tasks []PageTask, classes []Classification) error {
	pages := make(map[string][]int)
	for i, class := range classes {
		if class.Kind == MatchFound {
			pages[class.Rule.Keyword] = append(pages[class.Rule.Keyword], tasks[i].PageNumber)
		}
	}

	keywords := make([]string, 0, len(pages))
	for keyword, found := range pages {
		if len(found) > 1 {
			keywords = append(keywords, keyword)
		}
	}
	sort.Strings(keywords)

	errs := make([]error, len(keywords))
	for i, keyword := range keywords {
		errs[i] = &DuplicateError{Keyword: keyword, Pages: pages[keyword]}
	}
	return errors.Join(errs...)
}

// protectAll finalizes matched pages concurrently. Each task writes only
// its own slot of the outcome slice.
func (p *Pipeline) protectAll(ctx context.Context, tasks []PageTask, classes []Classification) ([]Outcome, error) {
	outcomes := make([]Outcome, len(tasks))
	errs := make([]error, len(tasks))

	var g errgroup.Group
	if p.config.Workers > 0 {
		g.SetLimit(p.config.Workers)
	}

	for i, task := range tasks {
		class := classes[i]
		if class.Kind != MatchFound {
			outcomes[i] = Outcome{
				Page:         task.PageNumber,
				ArtifactPath: task.WorkingPath,
				Reason:       "no matching recipient for file " + filepath.Base(task.WorkingPath),
			}
			continue
		}

		g.Go(func() error {
			artifact, err := p.protector.Protect(ctx, task, class.Rule)
			if err != nil {
				p.logger.Error("Failed to protect page", zap.Int("page", task.PageNumber), zap.Error(err))
				errs[i] = &PageError{Page: task.PageNumber, Stage: StageProtect, Err: err}
				return nil
			}
			outcomes[i] = Outcome{
				Page:         task.PageNumber,
				Matched:      true,
				Rule:         class.Rule,
				Email:        class.Rule.Email(p.config.EmailDomain),
				ArtifactPath: artifact,
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// dispatchRecord renders the mail for a matched outcome
func (p *Pipeline) dispatchRecord(source string, outcome Outcome) (DispatchRecord, error) {
	data := templateData{
		Name:       outcome.Rule.Keyword,
		Keyword:    outcome.Rule.Keyword,
		Attachment: filepath.Base(outcome.ArtifactPath),
		Document:   filepath.Base(source),
		Page:       outcome.Page,
	}

	var subject, body bytes.Buffer
	if err := p.subject.Execute(&subject, data); err != nil {
		return DispatchRecord{}, fmt.Errorf("failed to render subject for %q: %w", data.Name, err)
	}
	if err := p.body.Execute(&body, data); err != nil {
		return DispatchRecord{}, fmt.Errorf("failed to render body for %q: %w", data.Name, err)
	}

	return DispatchRecord{
		RecipientName:  outcome.Rule.Keyword,
		Email:          outcome.Email,
		Subject:        subject.String(),
		Body:           body.String(),
		AttachmentName: data.Attachment,
		AttachmentPath: outcome.ArtifactPath,
		IsProtected:    outcome.Rule.Protected(),
	}, nil
}
