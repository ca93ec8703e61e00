package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ermine-ai/ermine/pkg/tool"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
)

const (
	duckDuckGoBaseURL = "https://api.duckduckgo.com/"
	coinGeckoBaseURL  = "https://api.coingecko.com/api/v3/simple/price"
)

type coin struct {
	ID     string
	Ticker string
	Name   string
}

var cryptoMap = map[string]coin{
	"btc":      {"bitcoin", "BTC", "Bitcoin"},
	"bitcoin":  {"bitcoin", "BTC", "Bitcoin"},
	"eth":      {"ethereum", "ETH", "Ethereum"},
	"ethereum": {"ethereum", "ETH", "Ethereum"},
	"sol":      {"solana", "SOL", "Solana"},
	"solana":   {"solana", "SOL", "Solana"},
	"doge":     {"dogecoin", "DOGE", "Dogecoin"},
	"dogecoin": {"dogecoin", "DOGE", "Dogecoin"},
	"xrp":      {"ripple", "XRP", "XRP"},
	"ada":      {"cardano", "ADA", "Cardano"},
	"ltc":      {"litecoin", "LTC", "Litecoin"},
	"bnb":      {"binancecoin", "BNB", "BNB"},
}

var quoteMap = map[string]string{
	"usd": "usd", "usdt": "usd", "dollar": "usd", "dollars": "usd",
	"eur": "eur", "euro": "eur", "euros": "eur",
	"gbp": "gbp", "pound": "gbp", "pounds": "gbp",
	"tnd": "tnd", "dinar": "tnd",
}

var priceIntent = []string{"price", "worth", "rate", "quote", "market"}

type searchTool struct {
	duckDuckGoURL string
	coinGeckoURL  string
}

type Option func(*searchTool)

// WithBaseURLs overrides the upstream endpoints, used in tests.
func WithBaseURLs(duckDuckGo, coinGecko string) Option {
	return func(x *searchTool) {
		x.duckDuckGoURL = duckDuckGo
		x.coinGeckoURL = coinGecko
	}
}

// New creates the web search tool
func New(opts ...Option) *searchTool {
	x := &searchTool{
		duckDuckGoURL: duckDuckGoBaseURL,
		coinGeckoURL:  coinGeckoBaseURL,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *searchTool) Name() string { return "search" }

func (x *searchTool) Description() string {
	return "Search the public web via the DuckDuckGo instant answer API, " +
		"with live crypto prices from CoinGecko. " +
		`Args: {"query": str}.`
}

func intPtr(v int) *int { return &v }

func (x *searchTool) Parameters() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:     "object",
		Required: []string{"query"},
		Properties: map[string]*jsonschema.Schema{
			"query": {Type: "string", MinLength: intPtr(1)},
		},
	}
}

func (x *searchTool) Run(ctx context.Context, args map[string]any, tc *tool.Context) (*tool.Result, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return &tool.Result{Output: "missing query", Success: false}, nil
	}

	client := tc.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	if answer := x.cryptoPrice(ctx, client, query); answer != "" {
		return &tool.Result{Output: answer, Success: true}, nil
	}

	return x.instantAnswer(ctx, client, query)
}

func (x *searchTool) instantAnswer(ctx context.Context, client *http.Client, query string) (*tool.Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_redirect", "1")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	payload, err := getJSON(ctx, client, x.duckDuckGoURL+"?"+params.Encode())
	if err != nil {
		return &tool.Result{
			Output:  "search request failed: " + err.Error(),
			Success: false,
		}, nil
	}

	var resp struct {
		Heading       string `json:"Heading"`
		AbstractText  string `json:"AbstractText"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return &tool.Result{
			Output:  "search response was not valid JSON",
			Success: false,
		}, nil
	}

	var lines []string
	if resp.Heading != "" || resp.AbstractText != "" {
		lines = append(lines, strings.Trim(resp.Heading+": "+resp.AbstractText, ": "))
	}
	for i, topic := range resp.RelatedTopics {
		if i >= 5 {
			break
		}
		text := strings.TrimSpace(topic.Text)
		if text == "" {
			continue
		}
		if topic.FirstURL != "" {
			lines = append(lines, fmt.Sprintf("- %s (%s)", text, topic.FirstURL))
		} else {
			lines = append(lines, "- "+text)
		}
	}

	if len(lines) == 0 {
		lines = append(lines, "No results from instant-answer API. Try a more specific query.")
	}

	return &tool.Result{Output: strings.Join(lines, "\n"), Success: true}, nil
}

// cryptoPrice answers coin price queries directly from CoinGecko.
// Returns empty when the query is not a price question or the lookup
// fails; the caller then falls through to the web search.
func (x *searchTool) cryptoPrice(ctx context.Context, client *http.Client, query string) string {
	text := strings.ToLower(query)

	intent := false
	for _, kw := range priceIntent {
		if strings.Contains(text, kw) {
			intent = true
			break
		}
	}
	if !intent {
		return ""
	}

	var target coin
	found := false
	for token, c := range cryptoMap {
		if regexp.MustCompile(`\b` + regexp.QuoteMeta(token) + `\b`).MatchString(text) {
			target = c
			found = true
			break
		}
	}
	if !found {
		return ""
	}

	quote := "usd"
	for token, symbol := range quoteMap {
		if regexp.MustCompile(`\b` + regexp.QuoteMeta(token) + `\b`).MatchString(text) {
			quote = symbol
			break
		}
	}

	params := url.Values{}
	params.Set("ids", target.ID)
	params.Set("vs_currencies", quote)
	params.Set("include_last_updated_at", "true")

	payload, err := getJSON(ctx, client, x.coinGeckoURL+"?"+params.Encode())
	if err != nil {
		return ""
	}

	var resp map[string]map[string]float64
	if err := json.Unmarshal(payload, &resp); err != nil {
		return ""
	}
	value, ok := resp[target.ID][quote]
	if !ok {
		return ""
	}

	priceText := fmt.Sprintf("%.6f", value)
	if value >= 1 {
		priceText = fmt.Sprintf("%.2f", value)
	}

	answer := fmt.Sprintf("%s (%s) price: %s %s. Source: CoinGecko",
		target.Name, target.Ticker, priceText, strings.ToUpper(quote))
	if updated, ok := resp[target.ID]["last_updated_at"]; ok && updated > 0 {
		answer += fmt.Sprintf(" (%s)", time.Unix(int64(updated), 0).UTC().Format("2006-01-02 15:04 UTC"))
	}
	return answer + "."
}

func getJSON(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("unexpected status", goerr.V("status", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read response body")
	}
	return body, nil
}
