// Package elastic stores page documents in Elasticsearch and serves ranked
// queries against them.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/search"
)

// DefaultIndex is the index English pages are written to.
const DefaultIndex = "web-en"

// Config holds the client connection settings.
type Config struct {
	Addresses  []string
	Username   string
	Password   string
	MaxRetries int
	Transport  http.RoundTripper
}

// NewClient builds an Elasticsearch client from cfg. A zero MaxRetries turns
// the client's own retries off, so a failed write surfaces after one request.
func NewClient(cfg Config) (*es.Client, error) {
	client, err := es.NewClient(es.Config{
		Addresses:    cfg.Addresses,
		Username:     cfg.Username,
		Password:     cfg.Password,
		MaxRetries:   cfg.MaxRetries,
		DisableRetry: cfg.MaxRetries <= 0,
		Transport:    cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return client, nil
}

// ResponseError is returned when Elasticsearch answers with a non-2xx status.
type ResponseError struct {
	Op     string
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("elasticsearch %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Store implements crawler.IndexStore and search.Backend.
type Store struct {
	client *es.Client
	index  string
	logger *zap.Logger
}

// New wires a Store to client and index.
func New(client *es.Client, index string, logger *zap.Logger) *Store {
	if index == "" {
		index = DefaultIndex
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, index: index, logger: logger}
}

// Index returns the index name the store writes to.
func (s *Store) Index() string {
	return s.index
}

// Mapping returns the index settings and field mapping. Text fields that
// are searched use a lowercase trigram analyzer.
func Mapping() map[string]any {
	analyzed := map[string]any{"type": "text", "analyzer": "page_trigram"}
	return map[string]any{
		"settings": map[string]any{
			"analysis": map[string]any{
				"tokenizer": map[string]any{
					"trigram": map[string]any{"type": "ngram", "min_gram": 3, "max_gram": 3},
				},
				"analyzer": map[string]any{
					"page_trigram": map[string]any{
						"type":      "custom",
						"tokenizer": "trigram",
						"filter":    []string{"lowercase"},
					},
				},
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"title":       analyzed,
				"description": analyzed,
				"body":        analyzed,
				"domain":      map[string]any{"type": "text"},
				"url":         map[string]any{"type": "text"},
				"weight":      map[string]any{"type": "long"},
			},
		},
	}
}

// EnsureIndex creates the index with Mapping when it does not exist yet.
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", s.index, err)
	}
	closeBody(res, s.logger)
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return &ResponseError{Op: "exists", Status: res.StatusCode}
	}

	body, err := json.Marshal(Mapping())
	if err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}
	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer closeBody(res, s.logger)
	if err := checkResponse("create", res); err != nil {
		return err
	}
	s.logger.Info("created index", zap.String("index", s.index))
	return nil
}

// Upsert indexes doc with its URL as the document id, replacing any
// earlier version.
func (s *Store) Upsert(ctx context.Context, doc crawler.PageDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(doc.URL),
	)
	if err != nil {
		return fmt.Errorf("index document %s: %w", doc.URL, err)
	}
	defer closeBody(res, s.logger)
	return checkResponse("index", res)
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64 `json:"_score"`
			Source struct {
				URL  string `json:"url"`
				Body string `json:"body"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs q and returns hits in the order Elasticsearch ranked them.
func (s *Store) Search(ctx context.Context, q search.Query) ([]crawler.SearchHit, error) {
	body, err := q.JSON()
	if err != nil {
		return nil, err
	}
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}
	defer closeBody(res, s.logger)
	if err := checkResponse("search", res); err != nil {
		return nil, err
	}

	var decoded searchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	hits := make([]crawler.SearchHit, 0, len(decoded.Hits.Hits))
	for _, h := range decoded.Hits.Hits {
		hits = append(hits, crawler.SearchHit{URL: h.Source.URL, Body: h.Source.Body, Score: h.Score})
	}
	return hits, nil
}

// Ping reports whether the cluster is reachable.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer closeBody(res, s.logger)
	return checkResponse("ping", res)
}

func checkResponse(op string, res *esapi.Response) error {
	if !res.IsError() {
		return nil
	}
	var text string
	if res.Body != nil {
		raw, err := io.ReadAll(io.LimitReader(res.Body, 4096))
		if err != nil {
			return errors.Join(&ResponseError{Op: op, Status: res.StatusCode}, err)
		}
		text = strings.TrimSpace(string(raw))
	}
	return &ResponseError{Op: op, Status: res.StatusCode, Body: text}
}

func closeBody(res *esapi.Response, logger *zap.Logger) {
	if res == nil || res.Body == nil {
		return
	}
	if err := res.Body.Close(); err != nil {
		logger.Warn("close elasticsearch response", zap.Error(err))
	}
}
