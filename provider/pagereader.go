package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	readability "github.com/go-shiori/go-readability"
)

// PageContent is the readable content extracted from one web page.
type PageContent struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
	Text     string `json:"text"`
}

// PageReader fetches pages and reduces them to markdown suitable for LLM
// input. With a Jina token it uses the hosted reader, which already returns
// markdown; otherwise it fetches the raw page and runs readability
// extraction plus HTML-to-markdown conversion locally.
type PageReader struct {
	adapter   *Adapter
	jinaToken string
	jinaBase  string
	converter *md.Converter
}

// PageReaderOption configures the reader.
type PageReaderOption func(*PageReader)

// WithJinaToken enables the hosted Jina reader path.
func WithJinaToken(token string) PageReaderOption {
	return func(p *PageReader) { p.jinaToken = token }
}

// WithJinaBaseURL overrides the hosted reader base URL (tests).
func WithJinaBaseURL(u string) PageReaderOption {
	return func(p *PageReader) { p.jinaBase = strings.TrimSuffix(u, "/") }
}

// NewPageReader creates a page reader.
func NewPageReader(adapter *Adapter, opts ...PageReaderOption) *PageReader {
	p := &PageReader{
		adapter:   adapter,
		jinaBase:  "https://r.jina.ai",
		converter: md.NewConverter("", true, nil),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Read fetches and extracts one page.
func (p *PageReader) Read(ctx context.Context, pageURL string) (*PageContent, error) {
	if p.jinaToken != "" {
		return p.readHosted(ctx, pageURL)
	}
	return p.readLocal(ctx, pageURL)
}

// readHosted uses the Jina reader API, which returns markdown directly.
func (p *PageReader) readHosted(ctx context.Context, pageURL string) (*PageContent, error) {
	resp, err := p.adapter.Request(ctx, RequestSpec{
		URL: p.jinaBase + "/" + pageURL,
		Headers: map[string]string{
			"Authorization": "Bearer " + p.jinaToken,
			"Accept":        "text/plain",
		},
	})
	if err != nil {
		return nil, err
	}

	markdown := string(resp.Data)
	return &PageContent{
		URL:      pageURL,
		Title:    firstMarkdownHeading(markdown),
		Markdown: markdown,
		Text:     markdown,
	}, nil
}

// readLocal fetches the raw page and extracts the readable content.
func (p *PageReader) readLocal(ctx context.Context, pageURL string) (*PageContent, error) {
	resp, err := p.adapter.Request(ctx, RequestSpec{
		Method:  http.MethodGet,
		URL:     pageURL,
		Headers: map[string]string{"Accept": "text/html"},
	})
	if err != nil {
		return nil, err
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	article, err := readability.FromReader(bytes.NewReader(resp.Data), parsed)
	if err != nil {
		return nil, fmt.Errorf("extract readable content: %w", err)
	}

	markdown, err := p.converter.ConvertString(article.Content)
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}

	return &PageContent{
		URL:      pageURL,
		Title:    article.Title,
		Markdown: markdown,
		Text:     article.TextContent,
	}, nil
}

func firstMarkdownHeading(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}
