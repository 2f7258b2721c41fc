package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

const (
	// DefaultUserAgent はスクレイピング時のUser-Agent
	DefaultUserAgent = "blogforge/1.0"

	// DefaultTimeout はフェッチのデフォルトタイムアウト
	DefaultTimeout = 8 * time.Second

	// DefaultMaxChars は抽出テキストの最大文字数
	DefaultMaxChars = 3000
)

// Client はWebページから本文テキストを抽出するスクレイパー。
// <p>要素のテキストのみを対象とし、最大文字数で切り詰める。
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxChars   int
}

// Option は Client の設定オプション
type Option func(*Client)

// WithUserAgent はUser-Agentを設定する
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithTimeout はタイムアウトを設定する
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxChars は抽出テキストの最大文字数を設定する
func WithMaxChars(n int) Option {
	return func(c *Client) { c.maxChars = n }
}

// NewClient は新しい Client を作成する
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  DefaultUserAgent,
		maxChars:   DefaultMaxChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchText はURLからHTMLを取得し、段落テキストを抽出して返す
func (c *Client) FetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML from %s: %w", url, err)
	}

	text := strings.Join(extractParagraphs(doc), " ")
	// 文字数上限はrune単位。バイト境界で切るとマルチバイト文字が壊れる
	if utf8.RuneCountInString(text) > c.maxChars {
		runes := []rune(text)
		text = string(runes[:c.maxChars])
	}
	return text, nil
}

// extractParagraphs はDOMツリーを走査し、<p>要素ごとのテキストを収集する
func extractParagraphs(doc *html.Node) []string {
	var paragraphs []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "p" {
			if text := strings.TrimSpace(textContent(n)); text != "" {
				paragraphs = append(paragraphs, text)
			}
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return paragraphs
}

// textContent はノード配下のテキストノードを連結する
func textContent(n *html.Node) string {
	var sb strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)

	return strings.Join(strings.Fields(sb.String()), " ")
}

// インターフェース実装の確認
var _ domain.Fetcher = (*Client)(nil)
