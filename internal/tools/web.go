package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// BraveSearchURL is the default web search endpoint.
	BraveSearchURL = "https://api.search.brave.com/res/v1/web/search"

	defaultWebTimeout   = 20 * time.Second
	defaultSearchCount  = 5
	maxSearchCount      = 10
	defaultFetchLength  = 50000
	maxFetchBytes       = 2 << 20
	maxFetchRedirects   = 5
	webUserAgent        = "Mozilla/5.0 (compatible; joshbot/0.4)"
	searchNotConfigured = "Error: Web search is not configured. Set tools.web.search_api_key in config."
)

// WebOptions configures the web tools.
type WebOptions struct {
	SearchAPIKey string
	// SearchURL overrides BraveSearchURL.
	SearchURL string
	Timeout   time.Duration
}

func newWebClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultWebTimeout
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxFetchRedirects {
				return fmt.Errorf("stopped after %d redirects", maxFetchRedirects)
			}
			return nil
		},
	}
}

// WebSearchTool queries the Brave Search API.
type WebSearchTool struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewWebSearchTool creates a WebSearchTool. Without an API key it stays
// registered and answers with a configuration hint.
func NewWebSearchTool(opts WebOptions) *WebSearchTool {
	endpoint := opts.SearchURL
	if endpoint == "" {
		endpoint = BraveSearchURL
	}
	return &WebSearchTool{apiKey: opts.SearchAPIKey, endpoint: endpoint, client: newWebClient(opts.Timeout)}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web for information. Returns titles, URLs, and snippets from search results."
}

func (t *WebSearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Search query",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Number of results (default: 5, max: 10)",
			},
		},
		"required": []string{"query"},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.apiKey == "" {
		return searchNotConfigured, nil
	}
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return "Error: query is required", nil
	}
	count := GetInt(params, "count", defaultSearchCount)
	if count < 1 {
		count = 1
	}
	if count > maxSearchCount {
		count = maxSearchCount
	}

	q := url.Values{"q": {query}, "count": {fmt.Sprint(count)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var data braveResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFetchBytes)).Decode(&data); err != nil {
		return "", fmt.Errorf("parse search response: %w", err)
	}
	results := data.Web.Results
	if len(results) == 0 {
		return "No results found for: " + query, nil
	}
	if len(results) > count {
		results = results[:count]
	}

	var sb strings.Builder
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "Untitled"
		}
		snippet := r.Description
		if snippet == "" {
			snippet = "No description"
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, title, r.URL, stripTags(snippet))
	}
	return sb.String(), nil
}

// WebFetchTool downloads a page and reduces it to readable text.
type WebFetchTool struct {
	client *http.Client
}

// NewWebFetchTool creates a WebFetchTool.
func NewWebFetchTool(opts WebOptions) *WebFetchTool {
	return &WebFetchTool{client: newWebClient(opts.Timeout)}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch a URL and extract its readable text content. Good for reading articles and documentation."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch",
			},
			"max_length": map[string]any{
				"type":        "integer",
				"description": "Max content length in chars (default: 50000)",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	target := strings.TrimSpace(GetString(params, "url", ""))
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return "Error: URL must start with http:// or https://", nil
	}
	maxLen := GetInt(params, "max_length", defaultFetchLength)
	if maxLen <= 0 {
		maxLen = defaultFetchLength
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,*/*")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	var result string
	if isHTML(resp.Header.Get("Content-Type"), body) {
		title, text, err := extractText(string(body))
		if err != nil {
			return "", err
		}
		if title != "" {
			result = fmt.Sprintf("Title: %s\nURL: %s\n\n%s", title, target, text)
		} else {
			result = fmt.Sprintf("URL: %s\n\n%s", target, text)
		}
	} else {
		result = fmt.Sprintf("URL: %s\n\n%s", target, strings.TrimSpace(string(body)))
	}
	return clipChars(result, maxLen), nil
}

func isHTML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "html") {
		return true
	}
	if contentType != "" {
		return false
	}
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 512)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// clipChars cuts s to n characters, noting how much was dropped.
func clipChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + fmt.Sprintf("\n\n... (truncated, %d more chars)", len(r)-n)
}

var skippedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
	atom.Svg: true, atom.Iframe: true, atom.Head: true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Pre: true, atom.Blockquote: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

// extractText returns the page title and its visible text, one block per
// line.
func extractText(page string) (title, text string, err error) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			if words := strings.Fields(n.Data); len(words) > 0 {
				sb.WriteString(strings.Join(words, " "))
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			sb.WriteByte('\n')
		}
	}
	// <title> lives in <head>, which the walk skips.
	var findTitle func(n *html.Node)
	findTitle = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findTitle(c)
		}
	}
	findTitle(root)
	walk(root)

	lines := strings.Split(sb.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return title, strings.Join(kept, "\n"), nil
}

// stripTags removes inline markup such as <strong> from search snippets.
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return strings.TrimSpace(sb.String())
			}
			return s
		case html.TextToken:
			sb.Write(z.Text())
		}
	}
}
