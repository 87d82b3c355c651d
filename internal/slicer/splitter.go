package slicer

import (
	"context"
	"errors"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Splitter materializes one working file per page
type Splitter struct {
	doc     DocumentSplitter
	workers int
	logger  *zap.Logger
}

// NewSplitter creates a new page splitter
func NewSplitter(doc DocumentSplitter, workers int, logger *zap.Logger) *Splitter {
	return &Splitter{doc: doc, workers: workers, logger: logger}
}

// Split extracts pages 1..pageCount of source concurrently. Every page is
// accounted for: failures are joined in page order and the files of the
// pages that did succeed are removed before returning.
func (s *Splitter) Split(ctx context.Context, source string, pageCount int) ([]PageTask, error) {
	tasks := make([]PageTask, pageCount)
	errs := make([]error, pageCount)

	var g errgroup.Group
	if s.workers > 0 {
		g.SetLimit(s.workers)
	}

	for i := range tasks {
		page := i + 1
		tasks[i] = PageTask{
			PageNumber:  page,
			SourcePath:  source,
			WorkingPath: WorkingPath(source, page),
		}

		g.Go(func() error {
			s.logger.Info("Slicing page", zap.Int("page", page))
			if err := s.doc.ExtractPage(ctx, source, page, tasks[i].WorkingPath); err != nil {
				s.logger.Error("Failed to slice page", zap.Int("page", page), zap.Error(err))
				errs[i] = &PageError{Page: page, Stage: StageSplit, Err: err}
				return nil
			}
			s.logger.Info("Slicing page done", zap.Int("page", page))
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		for i, task := range tasks {
			if errs[i] == nil {
				discard(s.logger, task.WorkingPath)
			}
		}
		return nil, err
	}

	return tasks, nil
}

// discard removes transient page files, logging what could not be removed.
func discard(logger *zap.Logger, paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove working file", zap.String("file", path), zap.Error(err))
		}
	}
}
