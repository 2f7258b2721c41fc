package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// editMaxTokens は編集結果の最大トークン数
const editMaxTokens = 400

// EditorAgent はドラフトの明瞭さ・文法・簡潔さを改善する。
// 状態を持たないため、複数セクションに対する並行呼び出しは安全。
type EditorAgent struct {
	llm domain.LLMClient
}

// NewEditorAgent は新しい EditorAgent を作成する
func NewEditorAgent(llm domain.LLMClient) *EditorAgent {
	return &EditorAgent{llm: llm}
}

// Edit はドラフトの編集済みテキストを返す
func (a *EditorAgent) Edit(ctx context.Context, jc domain.JobContext, draft string) (string, error) {
	prompt := fmt.Sprintf(
		"Edit the following blog section for clarity, grammar, and conciseness.\n\n%s\n\nProvide only the edited section.",
		draft,
	)

	resp, err := a.llm.Complete(ctx, domain.CompletionRequest{
		Prompt:    prompt,
		MaxTokens: editMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("edit failed: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// インターフェース実装の確認
var _ domain.SectionEditor = (*EditorAgent)(nil)
