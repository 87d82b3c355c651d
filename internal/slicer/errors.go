package slicer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoPages            = errors.New("document has no pages")
	ErrAmbiguousMatch     = errors.New("multiple matching recipients")
	ErrDuplicateRecipient = errors.New("recipient matched on more than one page")
	ErrInvalidRules       = errors.New("invalid recipient rules")
)

// Stage names the step of a page task that failed.
type Stage string

const (
	StageSplit   Stage = "split"
	StageExtract Stage = "extract"
	StageProtect Stage = "protect"
)

// PageError wraps an I/O failure of a single page task.
type PageError struct {
	Page  int
	Stage Stage
	Err   error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %s failed: %v", e.Page, e.Stage, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// AmbiguityError reports a page whose text matched several keywords.
type AmbiguityError struct {
	Page     int
	File     string
	Keywords []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("%s for file %s (%s)", ErrAmbiguousMatch.Error(), e.File, strings.Join(e.Keywords, ", "))
}

func (e *AmbiguityError) Unwrap() error { return ErrAmbiguousMatch }

// DuplicateError reports a keyword claimed by more than one page.
type DuplicateError struct {
	Keyword string
	Pages   []int
}

func (e *DuplicateError) Error() string {
	pages := make([]string, len(e.Pages))
	for i, p := range e.Pages {
		pages[i] = fmt.Sprint(p)
	}
	return fmt.Sprintf("%s: %q on pages %s", ErrDuplicateRecipient.Error(), e.Keyword, strings.Join(pages, ", "))
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateRecipient }
