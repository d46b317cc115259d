package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const webSearchMaxResults = 3

// WebSearch queries a SERP provider over HTTP and condenses the organic
// results into a prompt context block.
type WebSearch struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewWebSearch(baseURL, apiKey string, httpClient *http.Client) *WebSearch {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebSearch{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (w *WebSearch) Name() string { return ToolWebSearch }

type serpResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
	} `json:"organic_results"`
	RelatedSearches []struct {
		Query string `json:"query"`
	} `json:"related_searches"`
}

func (w *WebSearch) Invoke(ctx context.Context, query string) (Result, error) {
	if w.baseURL == "" {
		return Result{}, fmt.Errorf("web_search: no SERP endpoint configured")
	}
	params := url.Values{}
	params.Set("q", query)
	if w.apiKey != "" {
		params.Set("api_key", w.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("web_search: build request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("web_search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("web_search: serp status %d", resp.StatusCode)
	}

	var body serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("web_search: decode response: %w", err)
	}

	var detail strings.Builder
	var summaries []string
	for i, hit := range body.OrganicResults {
		if i >= webSearchMaxResults {
			break
		}
		fmt.Fprintf(&detail, "- %s: %s (%s)\n", hit.Title, hit.Snippet, hit.Link)
		if hit.Snippet != "" {
			summaries = append(summaries, hit.Snippet)
		}
	}
	if detail.Len() == 0 {
		detail.WriteString("no web results found\n")
	}

	queries := []string{query}
	for _, related := range body.RelatedSearches {
		if related.Query != "" {
			queries = append(queries, related.Query)
		}
	}

	return Result{
		Detail:  "web_search results for " + strconv.Quote(query) + ":\n" + detail.String(),
		Summary: strings.Join(summaries, " "),
		Queries: queries,
	}, nil
}
