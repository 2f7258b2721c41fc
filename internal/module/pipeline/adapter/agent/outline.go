package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

const (
	// outlineSectionCount はアウトラインに要求するセクション数
	outlineSectionCount = 5

	// outlineMaxTokens はアウトライン生成の最大トークン数
	outlineMaxTokens = 400

	// maxHeadingLength は見出しの最大文字数
	maxHeadingLength = 120
)

// OutlineAgent はLLMを使用して記事のアウトラインを生成する。
// LLMの応答がJSONとして解釈できない場合は行分割ヒューリスティック、
// それも失敗した場合は汎用アウトラインにフォールバックする。
type OutlineAgent struct {
	llm      domain.LLMClient
	profiles domain.ProfileStore // nilの場合はプロファイル補強を行わない
}

// NewOutlineAgent は新しい OutlineAgent を作成する
func NewOutlineAgent(llm domain.LLMClient) *OutlineAgent {
	return &OutlineAgent{llm: llm}
}

// NewOutlineAgentWithProfiles は読者層プロファイルでプロンプトを補強する OutlineAgent を作成する
func NewOutlineAgentWithProfiles(llm domain.LLMClient, profiles domain.ProfileStore) *OutlineAgent {
	return &OutlineAgent{llm: llm, profiles: profiles}
}

// Outline はトピックと読者層に基づいてセクション構成を生成する
func (a *OutlineAgent) Outline(ctx context.Context, jc domain.JobContext) ([]domain.SectionSpec, error) {
	prompt := fmt.Sprintf(
		"Create a blog post outline for the topic: '%s' targeting '%s'. "+
			"Return %d sections as JSON array where each section has 'heading' and 'bullets'.",
		jc.Topic, jc.Audience, outlineSectionCount,
	)
	if hints := a.profileHints(ctx, jc.Audience); hints != "" {
		prompt += hints
	}
	if jc.ResearchNotes != nil && jc.ResearchNotes.Summary != "" {
		prompt += fmt.Sprintf("\n\nResearch notes to consider:\n%s", jc.ResearchNotes.Summary)
	}

	resp, err := a.llm.Complete(ctx, domain.CompletionRequest{
		Prompt:    prompt,
		MaxTokens: outlineMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("outline generation failed: %w", err)
	}

	return parseOutline(resp.Content), nil
}

// parseOutline はLLM応答をセクション構成として解釈する。
// JSON配列 → 行分割 → 汎用アウトライン の順でフォールバックする。
func parseOutline(content string) []domain.SectionSpec {
	var parsed []struct {
		Heading string   `json:"heading"`
		Bullets []string `json:"bullets"`
	}
	if err := json.Unmarshal([]byte(extractJSONArray(content)), &parsed); err == nil && len(parsed) > 0 {
		specs := make([]domain.SectionSpec, 0, len(parsed))
		for _, p := range parsed {
			if p.Heading == "" {
				continue
			}
			specs = append(specs, domain.SectionSpec{
				Heading: truncate(p.Heading, maxHeadingLength),
				Bullets: p.Bullets,
			})
		}
		if len(specs) > 0 {
			return specs
		}
	}

	// 行分割ヒューリスティック: 非空行を見出しとして扱う
	var specs []domain.SectionSpec
	for _, line := range strings.Split(content, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "-* ")
		if line == "" {
			continue
		}
		specs = append(specs, domain.SectionSpec{
			Heading: truncate(line, maxHeadingLength),
			Bullets: []string{"Point 1", "Point 2"},
		})
		if len(specs) == outlineSectionCount {
			break
		}
	}
	if len(specs) > 0 {
		return specs
	}

	return genericOutline()
}

// genericOutline は解釈可能な応答が得られなかった場合の汎用アウトライン
func genericOutline() []domain.SectionSpec {
	return []domain.SectionSpec{
		{Heading: "Introduction", Bullets: []string{"What this article covers"}},
		{Heading: "Background", Bullets: []string{"Context and definitions"}},
		{Heading: "Main Points", Bullets: []string{"Key idea 1", "Key idea 2"}},
		{Heading: "Examples", Bullets: []string{"Example 1", "Example 2"}},
		{Heading: "Conclusion", Bullets: []string{"Summary and next steps"}},
	}
}

// extractJSONArray はMarkdownコードフェンス等に包まれたJSON配列を取り出す
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// profileHints は読者層に対応するプロファイルが存在する場合、
// プロンプトに追加するヒント文字列を組み立てる。見つからない場合は空文字列。
func (a *OutlineAgent) profileHints(ctx context.Context, audience string) string {
	if a.profiles == nil || audience == "" {
		return ""
	}
	p, err := a.profiles.GetProfile(ctx, audience)
	if err != nil {
		return ""
	}
	var b strings.Builder
	if tone := p["tone"]; tone != "" {
		fmt.Fprintf(&b, "\nPreferred tone: %s.", tone)
	}
	if interests := p["interests"]; interests != "" {
		fmt.Fprintf(&b, "\nReader interests: %s.", interests)
	}
	return b.String()
}

// truncate はmax文字（rune単位）に切り詰める。マルチバイト文字を途中で
// 切断しないよう、バイト境界ではなくrune境界で切る。
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// インターフェース実装の確認
var _ domain.Outliner = (*OutlineAgent)(nil)
