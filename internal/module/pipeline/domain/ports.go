package domain

import (
	"context"

	"github.com/google/uuid"
)

// JobContext はステージ実行器へ渡すジョブのコンテキスト情報
type JobContext struct {
	JobID         uuid.UUID
	Topic         string
	Audience      string
	ResearchNotes *ResearchNotes
}

// NewJobContext はJobからJobContextを作成する
func NewJobContext(job *Job) JobContext {
	return JobContext{
		JobID:         job.ID,
		Topic:         job.Topic,
		Audience:      job.Audience,
		ResearchNotes: job.ResearchNotes,
	}
}

// Researcher はリサーチステージの実行器。
// 参照URLを取得・要約してリサーチノートを生成する。URLが空の場合は空のノートを返す。
type Researcher interface {
	Research(ctx context.Context, jc JobContext, urls []string) (*ResearchNotes, error)
}

// Outliner はアウトラインステージの実行器
type Outliner interface {
	Outline(ctx context.Context, jc JobContext) ([]SectionSpec, error)
}

// SectionDrafter はセクションごとのドラフト生成器。
// 異なるセクションに対して並行に呼び出されても安全でなければならない。
type SectionDrafter interface {
	Draft(ctx context.Context, jc JobContext, spec SectionSpec) (string, error)
}

// SectionEditor はセクションごとの編集器。
// 異なるセクションに対して並行に呼び出されても安全でなければならない。
type SectionEditor interface {
	Edit(ctx context.Context, jc JobContext, draft string) (string, error)
}

// SEOGenerator はSEOメタデータ生成ステージの実行器
type SEOGenerator interface {
	GenerateSEO(ctx context.Context, jc JobContext, content string) (*SEOMetadata, error)
}

// CompletionRequest はLLMへのリクエストパラメータ
type CompletionRequest struct {
	// Prompt はLLMに送信するプロンプト
	Prompt string

	// Temperature は生成の多様性を制御する (0.0-2.0)
	Temperature float64

	// MaxTokens は生成する最大トークン数
	MaxTokens int

	// ResponseFormat は "json" の場合、JSONオブジェクト形式の応答を要求する
	ResponseFormat string

	// Model はリクエスト単位でモデルを上書きする（空ならデフォルト）
	Model string
}

// CompletionResponse はLLMからのレスポンス
type CompletionResponse struct {
	// Content は生成されたテキスト
	Content string

	// TokensUsed は使用されたトークン数
	TokensUsed int

	// Model は実際に使用されたモデル名
	Model string
}

// LLMClient はLLMサービスとのやり取りを抽象化する共通インターフェース。
// プロバイダの実装はジョブ構築時に選択され、オーケストレータは
// プロバイダの種類によって分岐しない。
type LLMClient interface {
	// Complete はプロンプトに基づいてLLMから応答を生成する
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// Fetcher はWebコンテンツ抽出の外部能力を表す
type Fetcher interface {
	// FetchText はURLから本文テキストを抽出する
	FetchText(ctx context.Context, url string) (string, error)
}

// Profile はユーザ・トピック単位の長期記憶レコード
type Profile map[string]string

// ProfileStore は長期記憶ストアの narrow interface。
// ジョブスナップショットとトランザクショナルであることは仮定しない。
type ProfileStore interface {
	// GetProfile はプロファイルを取得する。存在しない場合は ErrNotFound を返す。
	GetProfile(ctx context.Context, userKey string) (Profile, error)

	// PutProfile はプロファイルを保存する
	PutProfile(ctx context.Context, userKey string, profile Profile) error
}
