package search_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ermine-ai/ermine/pkg/tool"
	"github.com/ermine-ai/ermine/pkg/tool/search"
	"github.com/m-mizutani/gt"
)

func TestSearchInstantAnswer(t *testing.T) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.V(t, r.URL.Query().Get("q")).Equal("golang")
		w.Write([]byte(`{
			"Heading": "Go",
			"AbstractText": "Go is a programming language.",
			"RelatedTopics": [
				{"Text": "Go standard library", "FirstURL": "https://example.com/std"}
			]
		}`))
	}))
	defer ddg.Close()

	x := search.New(search.WithBaseURLs(ddg.URL, "http://unused.invalid"))
	tc := &tool.Context{HTTPClient: ddg.Client()}

	result, err := x.Run(context.Background(), map[string]any{"query": "golang"}, tc)
	gt.NoError(t, err)
	gt.True(t, result.Success)
	gt.S(t, result.Output).
		Contains("Go: Go is a programming language.").
		Contains("Go standard library").
		Contains("https://example.com/std")
}

func TestSearchCryptoFastPath(t *testing.T) {
	gecko := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.V(t, r.URL.Query().Get("ids")).Equal("bitcoin")
		gt.V(t, r.URL.Query().Get("vs_currencies")).Equal("usd")
		w.Write([]byte(`{"bitcoin": {"usd": 64123.5, "last_updated_at": 1700000000}}`))
	}))
	defer gecko.Close()

	x := search.New(search.WithBaseURLs("http://unused.invalid", gecko.URL))
	tc := &tool.Context{HTTPClient: gecko.Client()}

	result, err := x.Run(context.Background(), map[string]any{"query": "what is the btc price"}, tc)
	gt.NoError(t, err)
	gt.True(t, result.Success)
	gt.S(t, result.Output).
		Contains("Bitcoin (BTC) price: 64123.50 USD").
		Contains("CoinGecko")
}

func TestSearchCryptoWithoutPriceIntent(t *testing.T) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"Heading": "Bitcoin", "AbstractText": "A cryptocurrency."}`))
	}))
	defer ddg.Close()

	// "bitcoin history" has no price intent, so it goes to web search
	x := search.New(search.WithBaseURLs(ddg.URL, "http://unused.invalid"))
	tc := &tool.Context{HTTPClient: ddg.Client()}

	result, err := x.Run(context.Background(), map[string]any{"query": "bitcoin history"}, tc)
	gt.NoError(t, err)
	gt.True(t, result.Success)
	gt.S(t, result.Output).Contains("A cryptocurrency.")
}

func TestSearchNoResults(t *testing.T) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"Heading": "", "AbstractText": "", "RelatedTopics": []}`))
	}))
	defer ddg.Close()

	x := search.New(search.WithBaseURLs(ddg.URL, "http://unused.invalid"))
	tc := &tool.Context{HTTPClient: ddg.Client()}

	result, err := x.Run(context.Background(), map[string]any{"query": "zzzz"}, tc)
	gt.NoError(t, err)
	gt.True(t, result.Success)
	gt.S(t, result.Output).Contains("No results")
}

func TestSearchMissingQuery(t *testing.T) {
	x := search.New()
	result, err := x.Run(context.Background(), map[string]any{"query": "  "}, &tool.Context{})
	gt.NoError(t, err)
	gt.False(t, result.Success)
	gt.S(t, result.Output).Contains("missing query")
}

func TestSearchUpstreamFailure(t *testing.T) {
	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ddg.Close()

	x := search.New(search.WithBaseURLs(ddg.URL, "http://unused.invalid"))
	tc := &tool.Context{HTTPClient: ddg.Client()}

	result, err := x.Run(context.Background(), map[string]any{"query": "golang"}, tc)
	gt.NoError(t, err)
	gt.False(t, result.Success)
	gt.S(t, result.Output).Contains("search request failed")
}
