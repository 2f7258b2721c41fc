package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

const (
	// draftTargetWords はセクションドラフトの目標語数
	draftTargetWords = 300

	// draftTokenHeadroom は目標語数に対する追加トークン余裕
	draftTokenHeadroom = 200
)

// DraftAgent はセクションの見出しと箇条書きからドラフト本文を生成する。
// 状態を持たないため、複数セクションに対する並行呼び出しは安全。
type DraftAgent struct {
	llm         domain.LLMClient
	targetWords int
}

// NewDraftAgent は新しい DraftAgent を作成する
func NewDraftAgent(llm domain.LLMClient) *DraftAgent {
	return &DraftAgent{llm: llm, targetWords: draftTargetWords}
}

// Draft はセクション仕様に基づいてドラフト本文を生成する
func (a *DraftAgent) Draft(ctx context.Context, jc domain.JobContext, spec domain.SectionSpec) (string, error) {
	prompt := fmt.Sprintf(
		"Write a %d-word section with heading: '%s'. Use these bullet points: [%s]. "+
			"Write clear, human-friendly prose suitable for a blog post.",
		a.targetWords, spec.Heading, strings.Join(spec.Bullets, ", "),
	)
	if jc.Audience != "" {
		prompt += fmt.Sprintf(" The target audience is: %s.", jc.Audience)
	}

	resp, err := a.llm.Complete(ctx, domain.CompletionRequest{
		Prompt:    prompt,
		MaxTokens: a.targetWords + draftTokenHeadroom,
	})
	if err != nil {
		return "", fmt.Errorf("draft generation failed for section %q: %w", spec.Heading, err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// インターフェース実装の確認
var _ domain.SectionDrafter = (*DraftAgent)(nil)
