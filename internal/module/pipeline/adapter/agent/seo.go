package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

const (
	// seoMaxTokens はSEOメタデータ生成の最大トークン数
	seoMaxTokens = 200

	// seoContentPreviewChars はプロンプトに含める本文の先頭文字数
	seoContentPreviewChars = 400

	// seoDescriptionMaxChars はmeta descriptionの最大文字数
	seoDescriptionMaxChars = 160

	// seoFallbackDescriptionChars はフォールバック時に本文から切り出す文字数
	seoFallbackDescriptionChars = 150

	// seoFallbackKeywordCount はフォールバック時にトピックから取るキーワード数
	seoFallbackKeywordCount = 6
)

// SEOAgent は完成した記事からSEOメタデータを生成する。
// LLMの応答がJSONとして解釈できない場合は、トピックと本文から
// 決定的に導出したメタデータにフォールバックする。
type SEOAgent struct {
	llm domain.LLMClient
}

// NewSEOAgent は新しい SEOAgent を作成する
func NewSEOAgent(llm domain.LLMClient) *SEOAgent {
	return &SEOAgent{llm: llm}
}

// GenerateSEO はタイトルと本文からメタデータを生成する
func (a *SEOAgent) GenerateSEO(ctx context.Context, jc domain.JobContext, content string) (*domain.SEOMetadata, error) {
	preview := truncate(content, seoContentPreviewChars)
	prompt := fmt.Sprintf(
		"Given this page title: %s and content: %s, generate: meta_title, "+
			"meta_description (<=%d chars), keywords (comma separated). Return JSON.",
		jc.Topic, preview, seoDescriptionMaxChars,
	)

	resp, err := a.llm.Complete(ctx, domain.CompletionRequest{
		Prompt:         prompt,
		MaxTokens:      seoMaxTokens,
		ResponseFormat: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("seo generation failed: %w", err)
	}

	if meta, ok := parseSEOResponse(resp.Content); ok {
		return meta, nil
	}
	return fallbackSEO(jc.Topic, content), nil
}

func parseSEOResponse(content string) (*domain.SEOMetadata, bool) {
	var parsed struct {
		MetaTitle       string `json:"meta_title"`
		MetaDescription string `json:"meta_description"`
		Keywords        string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &parsed); err != nil {
		return nil, false
	}
	if parsed.MetaTitle == "" && parsed.MetaDescription == "" && parsed.Keywords == "" {
		return nil, false
	}
	return &domain.SEOMetadata{
		MetaTitle:       parsed.MetaTitle,
		MetaDescription: truncate(parsed.MetaDescription, seoDescriptionMaxChars),
		Keywords:        parsed.Keywords,
	}, true
}

// fallbackSEO はトピックと本文からメタデータを決定的に導出する
func fallbackSEO(topic, content string) *domain.SEOMetadata {
	description := ""
	if content != "" {
		description = strings.ReplaceAll(truncate(content, seoFallbackDescriptionChars), "\n", " ") + "..."
	}

	words := strings.Fields(strings.ToLower(topic))
	if len(words) > seoFallbackKeywordCount {
		words = words[:seoFallbackKeywordCount]
	}

	return &domain.SEOMetadata{
		MetaTitle:       topic,
		MetaDescription: description,
		Keywords:        strings.Join(words, ", "),
	}
}

// extractJSONObject はMarkdownコードフェンス等に包まれたJSONオブジェクトを取り出す
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// インターフェース実装の確認
var _ domain.SEOGenerator = (*SEOAgent)(nil)
