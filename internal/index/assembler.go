// Package index assembles page documents and hands them to the index store.
package index

import (
	"context"
	"fmt"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/extract"
	"github.com/JakeFAU/sitesearch-indexer/internal/metrics"
)

// Assembler builds PageDocuments and upserts them keyed by URL.
type Assembler struct {
	store crawler.IndexStore
}

// NewAssembler wires an Assembler to store.
func NewAssembler(store crawler.IndexStore) *Assembler {
	return &Assembler{store: store}
}

// Build combines extracted fields and the weight into a document.
func (a *Assembler) Build(pageURL string, res extract.Result, weight int) (crawler.PageDocument, error) {
	domain := crawler.Domain(pageURL)
	if domain == "" {
		return crawler.PageDocument{}, fmt.Errorf("document domain: %q has no host", pageURL)
	}
	return crawler.PageDocument{
		Title:       res.Title,
		Domain:      domain,
		URL:         pageURL,
		Description: res.Description,
		Body:        res.Body,
		Weight:      weight,
	}, nil
}

// Upsert writes doc, replacing any earlier document with the same URL.
// Store errors are returned as-is.
func (a *Assembler) Upsert(ctx context.Context, doc crawler.PageDocument) error {
	err := a.store.Upsert(ctx, doc)
	metrics.ObserveUpsert(err)
	return err
}
