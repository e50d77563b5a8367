// Package search is the web search capability behind information sharing.
package search

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("search: no search backend configured")

type Query struct {
	Text      string
	Count     int
	Language  string
	Freshness string
}

type Result struct {
	Title       string
	URL         string
	Description string
	Source      string
	Age         string
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, error)
}

type SearcherFunc func(ctx context.Context, q Query) ([]Result, error)

func (f SearcherFunc) Search(ctx context.Context, q Query) ([]Result, error) {
	return f(ctx, q)
}

// Disabled is used when no API key is configured.
type Disabled struct{}

func (Disabled) Search(context.Context, Query) ([]Result, error) {
	return nil, ErrUnavailable
}
