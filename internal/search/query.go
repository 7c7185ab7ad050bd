// Package search builds ranked full-text queries against the page index and
// shapes their results for clients.
package search

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultSize is the number of hits returned per query.
const DefaultSize = 10

// Query is a ranked match query on the body field.
type Query struct {
	Size       int
	Expression string
}

// BuildQuery returns the top-ten, score-descending match query for expr.
func BuildQuery(expr string) Query {
	return Query{Size: DefaultSize, Expression: expr}
}

type wireQuery struct {
	Size  int                            `json:"size"`
	Sort  []map[string]map[string]string `json:"sort"`
	Query map[string]map[string]string   `json:"query"`
}

// JSON renders the query in the search engine's request DSL.
func (q Query) JSON() ([]byte, error) {
	wire := wireQuery{
		Size:  q.Size,
		Sort:  []map[string]map[string]string{{"_score": {"order": "desc"}}},
		Query: map[string]map[string]string{"match": {"body": q.Expression}},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(wire); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
