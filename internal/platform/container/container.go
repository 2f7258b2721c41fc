package container

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/blogforge/internal/infra/openai"
	"github.com/jinford/blogforge/internal/infra/scraper"
	"github.com/jinford/blogforge/internal/module/pipeline/adapter/agent"
	"github.com/jinford/blogforge/internal/module/pipeline/adapter/memory"
	"github.com/jinford/blogforge/internal/module/pipeline/adapter/pg"
	"github.com/jinford/blogforge/internal/module/pipeline/adapter/profile"
	"github.com/jinford/blogforge/internal/module/pipeline/application"
	"github.com/jinford/blogforge/internal/module/pipeline/domain"
	"github.com/jinford/blogforge/internal/platform/config"
	"github.com/jinford/blogforge/internal/platform/database"
)

// shutdownTimeout はシャットダウン時に実行中ジョブの停止を待つ上限
const shutdownTimeout = 30 * time.Second

// Container はアプリケーションの依存関係を組み立てて保持する
type Container struct {
	Config       *config.Config
	Logger       *slog.Logger
	Supervisor   *application.Supervisor
	ProfileStore domain.ProfileStore

	pool *pgxpool.Pool // postgresストア使用時のみ非nil
}

// New は設定に基づいて全依存を組み立てる
func New(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	// 永続化層: 設定によりメモリ実装とPostgreSQL実装を切り替える
	var (
		store domain.SnapshotStore
		sink  domain.TraceSink
	)
	switch cfg.Pipeline.Store {
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Database.ConnString())
		if err != nil {
			return nil, fmt.Errorf("データベース接続に失敗: %w", err)
		}
		c.pool = pool
		store = pg.NewSnapshotRepository(pool)
		sink = pg.NewTraceRepository(pool)
	default:
		store = memory.NewSnapshotStore()
		sink = memory.NewTraceSink()
	}

	// LLMクライアント
	llmClient, err := openai.NewClientWithAPIKey(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	if err != nil {
		return nil, fmt.Errorf("LLMクライアントの初期化に失敗: %w", err)
	}
	llmClient.SetTimeout(cfg.OpenAI.Timeout)

	// Webスクレイパー
	fetcher := scraper.NewClient(
		scraper.WithUserAgent(cfg.Scraper.UserAgent),
		scraper.WithTimeout(cfg.Scraper.Timeout),
		scraper.WithMaxChars(cfg.Scraper.MaxChars),
	)

	c.ProfileStore = profile.NewFileStore(cfg.ProfilePath)

	executors := application.Executors{
		Researcher: agent.NewResearchAgent(fetcher, logger),
		Outliner:   agent.NewOutlineAgentWithProfiles(llmClient, c.ProfileStore),
		Drafter:    agent.NewDraftAgent(llmClient),
		Editor:     agent.NewEditorAgent(llmClient),
		SEO:        agent.NewSEOAgent(llmClient),
	}

	c.Supervisor = application.NewSupervisor(store, sink, executors, application.Config{
		Workers:             cfg.Pipeline.Workers,
		SectionFailureRatio: cfg.Pipeline.SectionFailureRatio,
		CancelGrace:         cfg.Pipeline.CancelGrace,
	}, logger)

	return c, nil
}

// Close はContainerが保持するリソースをクリーンアップする。
// 実行中ジョブの制御フロー停止をタイムアウト付きで待ってからプールを閉じる。
func (c *Container) Close() {
	if c.Supervisor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.Supervisor.Shutdown(ctx); err != nil {
			c.Logger.Warn("Supervisor shutdown timed out", "error", err)
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
}
