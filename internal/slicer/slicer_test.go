package slicer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Fakes for the document collaborators ---

// fakeDocument writes each page's text into its working file so that
// fakeExtractor can read it back.
type fakeDocument struct {
	pages    []string
	countErr error
	failOn   map[int]error
	jitter   bool
}

func (f *fakeDocument) PageCount(_ context.Context, _ string) (int, error) {
	return len(f.pages), f.countErr
}

func (f *fakeDocument) ExtractPage(_ context.Context, _ string, page int, outputPath string) error {
	if f.jitter {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	}
	if err := f.failOn[page]; err != nil {
		return err
	}
	if page < 1 || page > len(f.pages) {
		return fmt.Errorf("page %d out of range", page)
	}
	return os.WriteFile(outputPath, []byte(f.pages[page-1]), 0o600)
}

type fakeExtractor struct {
	failOn map[string]error
}

func (f *fakeExtractor) Extract(_ context.Context, path string) (string, error) {
	if err := f.failOn[filepath.Base(path)]; err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

type fakeEncrypter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEncrypter) Encrypt(_ context.Context, inputPath, outputPath, password string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, append([]byte("encrypted:"+password+":"), data...), 0o600)
}

func newTestPipeline(t *testing.T, doc *fakeDocument, extractor *fakeExtractor, enc *fakeEncrypter, rules []RecipientRule) (*Pipeline, string) {
	t.Helper()
	source := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(source, []byte("source"), 0o600))

	p, err := NewPipeline(doc, extractor, enc, rules, &Config{
		EmailDomain:     "example.com",
		SubjectTemplate: "Payslip {{.Name}}",
		BodyTemplate:    "Hello {{.Name}}, see {{.Attachment}} from {{.Document}}.",
		Workers:         4,
	}, zap.NewNop())
	require.NoError(t, err)
	return p, source
}

func exampleRules() []RecipientRule {
	return []RecipientRule{
		{Keyword: "Alice", Password: "x"},
		{Keyword: "Bob"},
	}
}

// --- Classifier ---

func TestClassify(t *testing.T) {
	rules := []RecipientRule{{Keyword: "Alice"}, {Keyword: "Bob"}, {Keyword: "Carol Smith"}}

	tests := []struct {
		name       string
		text       string
		kind       MatchKind
		keyword    string
		candidates []string
	}{
		{name: "single match", text: "Payslip for Alice, March", kind: MatchFound, keyword: "Alice"},
		{name: "keyword with space", text: "Employee: Carol Smith", kind: MatchFound, keyword: "Carol Smith"},
		{name: "no match", text: "Payslip for Dave", kind: NoMatch},
		{name: "case sensitive", text: "payslip for alice", kind: NoMatch},
		{name: "empty text", text: "", kind: NoMatch},
		{name: "ambiguous", text: "Alice reports to Bob", kind: AmbiguousMatch, candidates: []string{"Alice", "Bob"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			class := Classify(tc.text, rules)
			assert.Equal(t, tc.kind, class.Kind)
			if tc.kind == MatchFound {
				assert.Equal(t, tc.keyword, class.Rule.Keyword)
			}
			assert.Equal(t, tc.candidates, class.Candidates)
		})
	}
}

func TestValidateRules(t *testing.T) {
	assert.NoError(t, ValidateRules(exampleRules()))
	assert.NoError(t, ValidateRules(nil))

	err := ValidateRules([]RecipientRule{{Keyword: "Alice"}, {Keyword: ""}})
	assert.ErrorIs(t, err, ErrInvalidRules)

	err = ValidateRules([]RecipientRule{{Keyword: "Alice"}, {Keyword: "Alice", Password: "p"}})
	assert.ErrorIs(t, err, ErrInvalidRules)
	assert.Contains(t, err.Error(), `"Alice"`)

	for _, keyword := range []string{"a/b", "../Alice", `Alice\Bob`, "Al\x00ice"} {
		err = ValidateRules([]RecipientRule{{Keyword: keyword}})
		assert.ErrorIs(t, err, ErrInvalidRules, keyword)
	}
	assert.NoError(t, ValidateRules([]RecipientRule{{Keyword: "Dr. Alice O'Neil"}}))
}

func TestRecipientRule_Email(t *testing.T) {
	assert.Equal(t, "Alice@example.com", RecipientRule{Keyword: "Alice"}.Email("example.com"))
	assert.Equal(t, "Mary.Jane.Doe@example.com", RecipientRule{Keyword: "Mary Jane Doe"}.Email("example.com"))
	assert.Equal(t, "boss@corp.io", RecipientRule{Keyword: "Boss", Contact: "boss@corp.io"}.Email("example.com"))
}

func TestPaths(t *testing.T) {
	source := filepath.Join("pdfs", "march.pdf")
	assert.Equal(t, filepath.Join("pdfs", "march-3.pdf"), WorkingPath(source, 3))
	assert.Equal(t, filepath.Join("pdfs", "march-Carol Smith.pdf"), ArtifactPath(source, "Carol Smith"))
}

// --- Protector ---

func TestProtector_RenamesWithoutPassword(t *testing.T) {
	dir := t.TempDir()
	task := PageTask{PageNumber: 2, SourcePath: filepath.Join(dir, "doc.pdf"), WorkingPath: filepath.Join(dir, "doc-2.pdf")}
	require.NoError(t, os.WriteFile(task.WorkingPath, []byte("page"), 0o600))

	enc := &fakeEncrypter{}
	artifact, err := NewProtector(enc, zap.NewNop()).Protect(context.Background(), task, RecipientRule{Keyword: "Bob"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "doc-Bob.pdf"), artifact)
	assert.FileExists(t, artifact)
	assert.NoFileExists(t, task.WorkingPath)
	assert.Zero(t, enc.calls)
}

func TestProtector_EncryptsAndRemovesWorkingFile(t *testing.T) {
	dir := t.TempDir()
	task := PageTask{PageNumber: 1, SourcePath: filepath.Join(dir, "doc.pdf"), WorkingPath: filepath.Join(dir, "doc-1.pdf")}
	require.NoError(t, os.WriteFile(task.WorkingPath, []byte("page"), 0o600))

	artifact, err := NewProtector(&fakeEncrypter{}, zap.NewNop()).Protect(context.Background(), task, RecipientRule{Keyword: "Alice", Password: "x"})
	require.NoError(t, err)

	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, "encrypted:x:page", string(data))
	assert.NoFileExists(t, task.WorkingPath)
}

func TestProtector_EncryptFailureLeavesWorkingFile(t *testing.T) {
	dir := t.TempDir()
	task := PageTask{PageNumber: 1, SourcePath: filepath.Join(dir, "doc.pdf"), WorkingPath: filepath.Join(dir, "doc-1.pdf")}
	require.NoError(t, os.WriteFile(task.WorkingPath, []byte("page"), 0o600))

	enc := &fakeEncrypter{err: errors.New("qpdf exploded")}
	_, err := NewProtector(enc, zap.NewNop()).Protect(context.Background(), task, RecipientRule{Keyword: "Alice", Password: "x"})
	require.Error(t, err)

	assert.FileExists(t, task.WorkingPath)
	assert.NoFileExists(t, filepath.Join(dir, "doc-Alice.pdf"))
}

// --- Pipeline ---

func TestPipeline_Run_MatchesAndProtects(t *testing.T) {
	enc := &fakeEncrypter{}
	doc := &fakeDocument{pages: []string{"Payslip Alice", "Payslip Bob"}}
	p, source := newTestPipeline(t, doc, &fakeExtractor{}, enc, exampleRules())
	dir := filepath.Dir(source)

	result, err := p.Run(context.Background(), source)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, 2, result.PageCount)
	assert.Equal(t, 2, result.Dispatchable())

	alice := result.Outcomes[0]
	assert.True(t, alice.Matched)
	assert.Equal(t, 1, alice.Page)
	assert.Equal(t, filepath.Join(dir, "doc-Alice.pdf"), alice.ArtifactPath)
	assert.FileExists(t, alice.ArtifactPath)
	assert.NoFileExists(t, filepath.Join(dir, "doc-1.pdf"))

	bob := result.Outcomes[1]
	assert.True(t, bob.Matched)
	assert.Equal(t, filepath.Join(dir, "doc-Bob.pdf"), bob.ArtifactPath)
	assert.NoFileExists(t, filepath.Join(dir, "doc-2.pdf"))
	assert.Equal(t, 1, enc.calls)

	records := map[string]DispatchRecord{}
	for _, r := range result.Records {
		records[r.RecipientName] = r
	}
	assert.Equal(t, DispatchRecord{
		RecipientName:  "Alice",
		Email:          "Alice@example.com",
		Subject:        "Payslip Alice",
		Body:           "Hello Alice, see doc-Alice.pdf from doc.pdf.",
		AttachmentName: "doc-Alice.pdf",
		AttachmentPath: filepath.Join(dir, "doc-Alice.pdf"),
		IsProtected:    true,
	}, records["Alice"])
	assert.Equal(t, "Bob@example.com", records["Bob"].Email)
	assert.False(t, records["Bob"].IsProtected)
}

func TestPipeline_Run_NoMatchIsRecoverable(t *testing.T) {
	doc := &fakeDocument{pages: []string{"Payslip Alice", "Payslip Bob", "Payslip Carol"}}
	p, source := newTestPipeline(t, doc, &fakeExtractor{}, &fakeEncrypter{}, exampleRules())
	dir := filepath.Dir(source)

	result, err := p.Run(context.Background(), source)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, 2, result.Dispatchable())

	miss := result.Outcomes[2]
	assert.False(t, miss.Matched)
	assert.Equal(t, "no matching recipient for file doc-3.pdf", miss.Reason)
	assert.Equal(t, filepath.Join(dir, "doc-3.pdf"), miss.ArtifactPath)
	assert.FileExists(t, miss.ArtifactPath)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"doc.pdf", "doc-Alice.pdf", "doc-Bob.pdf", "doc-3.pdf"}, names)
}

func TestPipeline_Run_AmbiguousAbortsBeforeProtection(t *testing.T) {
	enc := &fakeEncrypter{}
	doc := &fakeDocument{pages: []string{"Payslip Alice", "Alice and Bob", "Payslip Bob"}}
	p, source := newTestPipeline(t, doc, &fakeExtractor{}, enc, exampleRules())
	dir := filepath.Dir(source)

	result, err := p.Run(context.Background(), source)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrAmbiguousMatch)

	var ambiguity *AmbiguityError
	require.ErrorAs(t, err, &ambiguity)
	assert.Equal(t, 2, ambiguity.Page)
	assert.Equal(t, []string{"Alice", "Bob"}, ambiguity.Keywords)
	assert.Contains(t, err.Error(), "multiple matching recipients for file doc-2.pdf (Alice, Bob)")

	assert.Zero(t, enc.calls)
	for _, name := range []string{"doc-Alice.pdf", "doc-Bob.pdf", "doc-1.pdf", "doc-2.pdf", "doc-3.pdf"} {
		assert.NoFileExists(t, filepath.Join(dir, name))
	}
	assert.FileExists(t, source)
}

func TestPipeline_Run_DuplicateRecipientAborts(t *testing.T) {
	doc := &fakeDocument{pages: []string{"Payslip Bob", "Payslip Alice", "Bob again"}}
	p, source := newTestPipeline(t, doc, &fakeExtractor{}, &fakeEncrypter{}, exampleRules())

	_, err := p.Run(context.Background(), source)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateRecipient)

	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Bob", dup.Keyword)
	assert.Equal(t, []int{1, 3}, dup.Pages)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(source), "doc-Bob.pdf"))
}

func TestPipeline_Run_SplitFailureAborts(t *testing.T) {
	doc := &fakeDocument{
		pages:  []string{"Payslip Alice", "Payslip Bob", "Payslip Carol"},
		failOn: map[int]error{2: errors.New("corrupt page")},
	}
	p, source := newTestPipeline(t, doc, &fakeExtractor{}, &fakeEncrypter{}, exampleRules())
	dir := filepath.Dir(source)

	_, err := p.Run(context.Background(), source)
	require.Error(t, err)

	var pageErr *PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, 2, pageErr.Page)
	assert.Equal(t, StageSplit, pageErr.Stage)

	assert.NoFileExists(t, filepath.Join(dir, "doc-1.pdf"))
	assert.NoFileExists(t, filepath.Join(dir, "doc-3.pdf"))
}

func TestPipeline_Run_ExtractionFailureAborts(t *testing.T) {
	doc := &fakeDocument{pages: []string{"Payslip Alice", "Payslip Bob"}}
	extractor := &fakeExtractor{failOn: map[string]error{"doc-1.pdf": errors.New("parser error")}}
	enc := &fakeEncrypter{}
	p, source := newTestPipeline(t, doc, extractor, enc, exampleRules())

	_, err := p.Run(context.Background(), source)
	require.Error(t, err)

	var pageErr *PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, StageExtract, pageErr.Stage)
	assert.Zero(t, enc.calls)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(source), "doc-Bob.pdf"))
}

func TestPipeline_Run_EncryptionFailureAborts(t *testing.T) {
	doc := &fakeDocument{pages: []string{"Payslip Alice"}}
	p, source := newTestPipeline(t, doc, &fakeExtractor{}, &fakeEncrypter{err: errors.New("io")}, exampleRules())

	_, err := p.Run(context.Background(), source)
	require.Error(t, err)

	var pageErr *PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, StageProtect, pageErr.Stage)
}

func TestPipeline_Run_NoPages(t *testing.T) {
	p, source := newTestPipeline(t, &fakeDocument{}, &fakeExtractor{}, &fakeEncrypter{}, exampleRules())

	_, err := p.Run(context.Background(), source)
	assert.ErrorIs(t, err, ErrNoPages)
}

func TestPipeline_Run_OneOutcomePerPage(t *testing.T) {
	rules := []RecipientRule{{Keyword: "even-recipient"}}

	for n := 1; n <= 12; n++ {
		t.Run(fmt.Sprintf("pages=%d", n), func(t *testing.T) {
			pages := make([]string, n)
			for i := range pages {
				pages[i] = fmt.Sprintf("page %d", i+1)
			}
			pages[n-1] = "for even-recipient"

			doc := &fakeDocument{pages: pages, jitter: true}
			p, source := newTestPipeline(t, doc, &fakeExtractor{}, &fakeEncrypter{}, rules)

			result, err := p.Run(context.Background(), source)
			require.NoError(t, err)

			require.Len(t, result.Outcomes, n)
			for i, outcome := range result.Outcomes {
				assert.Equal(t, i+1, outcome.Page)
			}
			assert.Equal(t, 1, result.Dispatchable())
			assert.True(t, result.Outcomes[n-1].Matched)
		})
	}
}

func TestNewPipeline_RejectsBadInput(t *testing.T) {
	_, err := NewPipeline(&fakeDocument{}, &fakeExtractor{}, &fakeEncrypter{},
		[]RecipientRule{{Keyword: "A"}, {Keyword: "A"}}, &Config{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidRules)

	_, err = NewPipeline(&fakeDocument{}, &fakeExtractor{}, &fakeEncrypter{},
		exampleRules(), &Config{SubjectTemplate: "{{.Name"}, zap.NewNop())
	assert.Error(t, err)
}
