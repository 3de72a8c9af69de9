package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/michaelbrown/jsbox/internal/llm"
)

const (
	SearchToolName = "search"

	SerpAPIURL   = "https://serpapi.com/search.json"
	GoogleCSEURL = "https://www.googleapis.com/customsearch/v1"

	DefaultSearchResults = 3

	searchTimeout = 30 * time.Second

	searchNotConfigured = "No search provider configured. Set SERPAPI_KEY or GOOGLE_API_KEY + GOOGLE_CX."
)

// SearchOptions selects the provider: SerpApi when SerpAPIKey is set,
// otherwise Google Custom Search when both GoogleAPIKey and GoogleCX are.
type SearchOptions struct {
	SerpAPIKey   string
	GoogleAPIKey string
	GoogleCX     string
	Results      int // used when the call does not pass k
}

// Search is the web search tool.
type Search struct {
	opts      SearchOptions
	http      *resty.Client
	serpURL   string
	googleURL string
}

func NewSearch(opts SearchOptions) *Search {
	if opts.Results <= 0 {
		opts.Results = DefaultSearchResults
	}
	return &Search{
		opts:      opts,
		http:      resty.New().SetTimeout(searchTimeout),
		serpURL:   SerpAPIURL,
		googleURL: GoogleCSEURL,
	}
}

func (s *Search) Definition() llm.ToolDef {
	return llm.ToolDef{
		Name:        SearchToolName,
		Description: "Search the web and return snippet results",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"k":     map[string]any{"type": "integer"},
			},
			"required": []string{"query"},
		},
	}
}

// Call returns up to k results as "- title\nsnippet\nlink" blocks.
func (s *Search) Call(ctx context.Context, args map[string]any) string {
	query := stringArg(args, "query")
	if query == "" {
		query = stringArg(args, "q")
	}
	k := intArg(args, "k", s.opts.Results)

	switch {
	case s.opts.SerpAPIKey != "":
		out, err := s.fetch(ctx, s.serpURL, map[string]string{
			"q":       query,
			"api_key": s.opts.SerpAPIKey,
			"num":     strconv.Itoa(k),
		}, k)
		if err != nil {
			return fmt.Sprintf("SerpApi error: %v", err)
		}
		return out
	case s.opts.GoogleAPIKey != "" && s.opts.GoogleCX != "":
		out, err := s.fetch(ctx, s.googleURL, map[string]string{
			"q":   query,
			"key": s.opts.GoogleAPIKey,
			"cx":  s.opts.GoogleCX,
			"num": strconv.Itoa(k),
		}, k)
		if err != nil {
			return fmt.Sprintf("Google CSE error: %v", err)
		}
		return out
	default:
		return searchNotConfigured
	}
}

type searchHit struct {
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	SnippetText string `json:"snippet_text"`
	Link        string `json:"link"`
}

// searchResponse covers both providers: SerpApi lists organic_results,
// Google CSE lists items.
type searchResponse struct {
	OrganicResults []searchHit `json:"organic_results"`
	Items          []searchHit `json:"items"`
}

func (s *Search) fetch(ctx context.Context, url string, params map[string]string, k int) (string, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(url)
	if err != nil {
		return "", err
	}

	var body searchResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	hits := body.OrganicResults
	if len(hits) == 0 {
		hits = body.Items
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	if len(hits) == 0 {
		return truncateRaw(resp.Body()), nil
	}

	blocks := make([]string, len(hits))
	for i, h := range hits {
		snippet := h.Snippet
		if snippet == "" {
			snippet = h.SnippetText
		}
		blocks[i] = fmt.Sprintf("- %s\n%s\n%s", h.Title, snippet, h.Link)
	}
	return strings.Join(blocks, "\n\n"), nil
}
