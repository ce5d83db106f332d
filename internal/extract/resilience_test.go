package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe/internal/common"
)

type fakeSource struct {
	pages []Page
	err   error
	calls int
}

func (f *fakeSource) ExtractPages(_ context.Context, _ string) ([]Page, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Page, len(f.pages))
	copy(out, f.pages)
	return out, nil
}

type fakeOCR struct {
	text     string
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (f *fakeOCR) RecognizePage(_ context.Context, _ string, _ int) (string, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return "", common.OCRError("engine flake", nil)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func writeTempPDF(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func denseText(words int) string {
	return strings.Repeat("word ", words)
}

func TestProcessMissingFile(t *testing.T) {
	e := NewExtractor(&fakeSource{}, &fakeSource{}, nil, Options{}, nil)
	_, err := e.Process(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	require.Error(t, err)
	assert.True(t, common.HasCode(err, common.CodeFileSystem))
}

func TestProcessFileTooLarge(t *testing.T) {
	path := writeTempPDF(t, 3*1024*1024)
	e := NewExtractor(&fakeSource{}, &fakeSource{}, nil, Options{MaxFileSizeMB: 2}, nil)
	_, err := e.Process(context.Background(), path)
	require.Error(t, err)
	assert.True(t, common.HasCode(err, common.CodeValidation))
}

func TestFallbackInvokedOnceWhenPrimaryFails(t *testing.T) {
	path := writeTempPDF(t, 128)
	primary := &fakeSource{err: errors.New("corrupt xref")}
	fallback := &fakeSource{pages: []Page{{Number: 1, Text: denseText(100)}}}
	e := NewExtractor(primary, fallback, nil, Options{}, nil)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, "pdf-fallback", res.Method)
	assert.Equal(t, 1, res.PageCount())
}

func TestBothStrategiesFailingIsCritical(t *testing.T) {
	path := writeTempPDF(t, 128)
	e := NewExtractor(
		&fakeSource{err: errors.New("primary down")},
		&fakeSource{err: errors.New("fallback down")},
		nil, Options{}, nil)

	_, err := e.Process(context.Background(), path)
	require.Error(t, err)
	assert.True(t, common.HasCode(err, common.CodeCritical))
}

func TestEmptyPageListIsHardFailure(t *testing.T) {
	path := writeTempPDF(t, 128)
	e := NewExtractor(&fakeSource{pages: []Page{}}, &fakeSource{}, nil, Options{}, nil)
	_, err := e.Process(context.Background(), path)
	require.Error(t, err)
	assert.True(t, common.HasCode(err, common.CodeExtraction))
}

func TestOCREscalationBelowThreshold(t *testing.T) {
	path := writeTempPDF(t, 128)
	ocr := &fakeOCR{text: denseText(80)}
	primary := &fakeSource{pages: []Page{
		{Number: 1, Text: denseText(100)}, // dense page, no OCR
		{Number: 2, Text: "sparse"},       // below threshold, escalated
	}}
	e := NewExtractor(primary, &fakeSource{}, ocr,
		Options{OCREnabled: true, WordThreshold: 50}, nil)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, ocr.calls)
	assert.False(t, res.Pages[0].OCRApplied)
	assert.True(t, res.Pages[1].OCRApplied)
	assert.Equal(t, 1, res.OCRPages)
}

func TestOCRSkippedWhenDisabled(t *testing.T) {
	path := writeTempPDF(t, 128)
	ocr := &fakeOCR{text: denseText(80)}
	primary := &fakeSource{pages: []Page{{Number: 1, Text: "sparse"}}}
	e := NewExtractor(primary, &fakeSource{}, ocr,
		Options{OCREnabled: false, WordThreshold: 50}, nil)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, ocr.calls)
	assert.False(t, res.Pages[0].OCRApplied)
}

func TestOCRNoImprovementKeepsOriginalText(t *testing.T) {
	path := writeTempPDF(t, 128)
	ocr := &fakeOCR{text: ""}
	primary := &fakeSource{pages: []Page{{Number: 1, Text: "short original text"}}}
	e := NewExtractor(primary, &fakeSource{}, ocr,
		Options{OCREnabled: true, WordThreshold: 50}, nil)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "short original text", res.Pages[0].Text)
	assert.False(t, res.Pages[0].OCRApplied)
}

func TestOCRRetriesTransientFailures(t *testing.T) {
	path := writeTempPDF(t, 128)
	ocr := &fakeOCR{text: denseText(80), failures: 1}
	primary := &fakeSource{pages: []Page{{Number: 1, Text: "sparse"}}}
	e := NewExtractor(primary, &fakeSource{}, ocr,
		Options{OCREnabled: true, WordThreshold: 50, OCRAttempts: 2, OCRRetryDelay: time.Millisecond}, nil)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, ocr.calls)
	assert.True(t, res.Pages[0].OCRApplied)
}

func TestOCRFailureDoesNotAbortDocument(t *testing.T) {
	path := writeTempPDF(t, 128)
	ocr := &fakeOCR{failures: 10}
	primary := &fakeSource{pages: []Page{
		{Number: 1, Text: "sparse"},
		{Number: 2, Text: denseText(100)},
	}}
	e := NewExtractor(primary, &fakeSource{}, ocr,
		Options{OCREnabled: true, WordThreshold: 50, OCRAttempts: 2, OCRRetryDelay: time.Millisecond}, nil)

	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageCount())
	assert.Equal(t, "sparse", res.Pages[0].Text)
}
