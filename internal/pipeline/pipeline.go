// Package pipeline runs one fetched page through extraction, scoring and
// indexing.
package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/extract"
	"github.com/JakeFAU/sitesearch-indexer/internal/index"
	"github.com/JakeFAU/sitesearch-indexer/internal/scoring"
	"github.com/JakeFAU/sitesearch-indexer/internal/traversal"
)

// Skip and failure reasons recorded on page records.
const (
	ReasonNonHTML             = "non_html"
	ReasonUnsupportedLanguage = "unsupported_language"
	ReasonExtract             = "extract_failed"
	ReasonAssemble            = "assemble_failed"
	ReasonIndex               = "index_failed"
)

// Extractor splits a page into indexable fields.
type Extractor interface {
	Extract(body []byte, pageURL string) (extract.Result, error)
}

// Outcome is the terminal result of processing one page.
type Outcome struct {
	State    crawler.EntryState
	Reason   string
	Document crawler.PageDocument
	Language string
	Err      error
}

// Processor wires the extraction, scoring and indexing stages.
type Processor struct {
	extractor Extractor
	assembler *index.Assembler
	logger    *zap.Logger
}

// NewProcessor builds a Processor.
func NewProcessor(extractor Extractor, assembler *index.Assembler, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{extractor: extractor, assembler: assembler, logger: logger}
}

// Process indexes resp. Non-HTML pages and pages in unsupported languages
// are skipped without error; index store failures mark the page failed.
func (p *Processor) Process(ctx context.Context, resp crawler.FetchResponse, track traversal.Tracker) Outcome {
	if track == nil {
		track = func(crawler.EntryState) {}
	}
	logger := p.logger.With(zap.String("url", resp.URL))
	if !crawler.IsHTMLContentType(resp.Headers) {
		logger.Debug("skipping non-html content type", zap.String("content_type", resp.Headers.Get("Content-Type")))
		return Outcome{State: crawler.EntrySkipped, Reason: ReasonNonHTML}
	}

	res, err := p.extractor.Extract(resp.Body, resp.URL)
	switch {
	case errors.Is(err, crawler.ErrNonHTML):
		logger.Debug("skipping non-html page")
		return Outcome{State: crawler.EntrySkipped, Reason: ReasonNonHTML}
	case errors.Is(err, crawler.ErrUnsupportedLanguage):
		logger.Debug("skipping page in unsupported language", zap.String("language", res.Language))
		return Outcome{State: crawler.EntrySkipped, Reason: ReasonUnsupportedLanguage, Language: res.Language}
	case err != nil:
		logger.Warn("extraction failed", zap.Error(err))
		return Outcome{State: crawler.EntryFailed, Reason: ReasonExtract, Err: err}
	}
	track(crawler.EntryExtracted)

	weight := scoring.Weigh(scoring.Signals{
		HasTitle:       res.Title != "",
		HasDescription: res.HasDescription,
		Body:           res.Body,
		Boilerplate:    res.Boilerplate,
	})
	track(crawler.EntryScored)

	doc, err := p.assembler.Build(resp.URL, res, weight)
	if err != nil {
		logger.Warn("document assembly failed", zap.Error(err))
		return Outcome{State: crawler.EntryFailed, Reason: ReasonAssemble, Language: res.Language, Err: err}
	}
	if err := p.assembler.Upsert(ctx, doc); err != nil {
		logger.Warn("index upsert failed", zap.Error(err))
		return Outcome{State: crawler.EntryFailed, Reason: ReasonIndex, Document: doc, Language: res.Language, Err: err}
	}
	logger.Debug("page indexed", zap.Int("weight", weight), zap.String("language", res.Language))
	return Outcome{State: crawler.EntryIndexed, Document: doc, Language: res.Language}
}
