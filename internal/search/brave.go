package search

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/stellarlinkco/myfriend/internal/config"
)

const (
	DefaultBraveBaseURL = "https://api.search.brave.com"
	braveSearchPath     = "/res/v1/web/search"
	braveTimeout        = 15 * time.Second
	braveMaxRetries     = 2
)

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
			MetaURL     struct {
				Hostname string `json:"hostname"`
			} `json:"meta_url"`
		} `json:"results"`
	} `json:"web"`
}

// BraveClient queries the Brave web search API.
type BraveClient struct {
	client      *resty.Client
	defaults    Query
	baseBackoff time.Duration
}

func NewBraveClient(apiKey, baseURL string, defaults Query) *BraveClient {
	if baseURL == "" {
		baseURL = DefaultBraveBaseURL
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("X-Subscription-Token", apiKey).
		SetTimeout(braveTimeout)

	return &BraveClient{client: c, defaults: defaults, baseBackoff: 500 * time.Millisecond}
}

// FromConfig returns a Brave client, or Disabled when no key is set.
func FromConfig(cfg config.SearchConfig) Searcher {
	if cfg.BraveAPIKey == "" {
		return Disabled{}
	}
	return NewBraveClient(cfg.BraveAPIKey, cfg.BaseURL, Query{
		Count:     cfg.Count,
		Language:  cfg.Language,
		Freshness: cfg.Freshness,
	})
}

func (b *BraveClient) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Count <= 0 {
		q.Count = b.defaults.Count
	}
	if q.Language == "" {
		q.Language = b.defaults.Language
	}
	if q.Freshness == "" {
		q.Freshness = b.defaults.Freshness
	}

	params := map[string]string{"q": q.Text}
	if q.Count > 0 {
		params["count"] = strconv.Itoa(q.Count)
	}
	if q.Language != "" {
		params["search_lang"] = q.Language
	}
	if q.Freshness != "" {
		params["freshness"] = q.Freshness
	}

	var body braveResponse
	op := func() error {
		resp, err := b.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetResult(&body).
			Get(braveSearchPath)
		if err != nil {
			return fmt.Errorf("brave request: %w", err)
		}
		switch code := resp.StatusCode(); {
		case code == http.StatusOK:
			return nil
		case code == http.StatusTooManyRequests || code >= 500:
			return fmt.Errorf("brave status %d", code)
		default:
			return backoff.Permanent(fmt.Errorf("brave status %d: %s", code, resp.String()))
		}
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.baseBackoff
	exp.Multiplier = 2
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, braveMaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		results = append(results, Result{
			Title:       r.Title,
			URL:         r.URL,
			Description: r.Description,
			Source:      r.MetaURL.Hostname,
			Age:         r.Age,
		})
	}
	return results, nil
}
