package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
)

// Page is the extracted article content of one fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Fetcher turns a URL into readable text.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

var reSpaces = regexp.MustCompile(`\s+`)

// HTTPFetcher downloads a page over plain HTTP and extracts the main
// article text with readability. Good enough for static book pages.
type HTTPFetcher struct {
	Client  *http.Client
	MaxBody int64
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if strings.TrimSpace(url) == "" {
		return Page{}, errors.New("invalid url")
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	maxBody := f.MaxBody
	if maxBody <= 0 {
		maxBody = 10 << 20
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", url, err)
	}
	return extract(url, string(body))
}

// RenderedFetcher drives a headless browser before extraction, for pages
// that only materialize their content through JavaScript.
type RenderedFetcher struct {
	Timeout time.Duration
}

func (f *RenderedFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if strings.TrimSpace(url) == "" {
		return Page{}, errors.New("invalid url")
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("BookRAG/1.0 (+contact@example.com)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Page{}, fmt.Errorf("render %s: %w", url, err)
	}
	return extract(url, html)
}

func extract(url, html string) (Page, error) {
	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(url))
	if err != nil {
		return Page{}, fmt.Errorf("extract %s: %w", url, err)
	}
	text := strings.TrimSpace(reSpaces.ReplaceAllString(article.TextContent, " "))
	if text == "" {
		return Page{}, fmt.Errorf("extract %s: no readable content", url)
	}
	return Page{
		URL:   url,
		Title: strings.TrimSpace(article.Title),
		Text:  text,
	}, nil
}

func mustParseURL(raw string) *nurl.URL {
	u, err := nurl.Parse(raw)
	if err != nil {
		return &nurl.URL{}
	}
	return u
}
