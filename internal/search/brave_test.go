package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellarlinkco/myfriend/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const braveBody = `{"web":{"results":[
 {"title":"Kyoto cafes","url":"https://a.example/1","description":"new spots","age":"2 days ago","meta_url":{"hostname":"a.example"}},
 {"title":"Matcha","url":"https://b.example/2","description":"guide"}
]}}`

func TestBraveClient_Search(t *testing.T) {
	var gotQuery, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, braveSearchPath, r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotToken = r.Header.Get("X-Subscription-Token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(braveBody))
	}))
	defer srv.Close()

	c := NewBraveClient("secret", srv.URL, Query{Count: 5, Language: "en", Freshness: "pw"})
	results, err := c.Search(context.Background(), Query{Text: "kyoto cafe"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "secret", gotToken)
	assert.Contains(t, gotQuery, "q=kyoto+cafe")
	assert.Contains(t, gotQuery, "count=5")
	assert.Contains(t, gotQuery, "search_lang=en")
	assert.Contains(t, gotQuery, "freshness=pw")

	assert.Equal(t, Result{Title: "Kyoto cafes", URL: "https://a.example/1", Description: "new spots", Source: "a.example", Age: "2 days ago"}, results[0])
	assert.Empty(t, results[1].Source)
}

func TestBraveClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(braveBody))
	}))
	defer srv.Close()

	c := NewBraveClient("k", srv.URL, Query{})
	c.baseBackoff = time.Millisecond
	results, err := c.Search(context.Background(), Query{Text: "x"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBraveClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewBraveClient("bad", srv.URL, Query{})
	c.baseBackoff = time.Millisecond
	_, err := c.Search(context.Background(), Query{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestFromConfig(t *testing.T) {
	_, err := FromConfig(config.SearchConfig{}).Search(context.Background(), Query{Text: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, ok := FromConfig(config.SearchConfig{BraveAPIKey: "k"}).(*BraveClient)
	assert.True(t, ok)
}
