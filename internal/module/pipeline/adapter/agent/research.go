package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// summarySentenceCount は要約として切り出す先頭文の数
const summarySentenceCount = 3

// ResearchAgent は参照URLを取得・要約してリサーチノートを生成する。
// LLMは使用せず、抽出済みテキストの先頭文を要約として採用する。
// 取得に失敗したURLはスキップし、ステージ自体は失敗させない。
type ResearchAgent struct {
	fetcher domain.Fetcher
	logger  *slog.Logger
}

// NewResearchAgent は新しい ResearchAgent を作成する
func NewResearchAgent(fetcher domain.Fetcher, logger *slog.Logger) *ResearchAgent {
	return &ResearchAgent{fetcher: fetcher, logger: logger}
}

// Research は参照URLごとに引用を収集し、全体要約を組み立てる。
// URLが空の場合は空のノートを返す（後続ステージはノートなしでも動作する）。
func (a *ResearchAgent) Research(ctx context.Context, jc domain.JobContext, urls []string) (*domain.ResearchNotes, error) {
	notes := &domain.ResearchNotes{}

	var summaries []string
	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := a.fetcher.FetchText(ctx, url)
		if err != nil {
			a.logger.Warn("Failed to fetch reference", "jobID", jc.JobID, "url", url, "error", err)
			continue
		}

		summary := summarize(text)
		if summary == "" {
			continue
		}
		notes.Citations = append(notes.Citations, domain.Citation{URL: url, Summary: summary})
		summaries = append(summaries, summary)
	}

	notes.Summary = strings.Join(summaries, "\n")
	return notes, nil
}

// summarize は抽出テキストの先頭3文をヒューリスティック要約として返す
func summarize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	sentences := strings.Split(text, ".")
	if len(sentences) > summarySentenceCount {
		sentences = sentences[:summarySentenceCount]
	}
	summary := strings.TrimSpace(strings.Join(sentences, "."))
	if summary == "" {
		return ""
	}
	return summary + "."
}

// インターフェース実装の確認
var _ domain.Researcher = (*ResearchAgent)(nil)
