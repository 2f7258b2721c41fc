package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

// ProfileSetAction は読者層プロファイルを保存するコマンドのアクション。
// 保存されたプロファイルはアウトライン生成時のプロンプト補強に使われる。
func ProfileSetAction(ctx context.Context, cmd *cli.Command) error {
	audience := cmd.String("audience")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	updates := domain.Profile{}
	if cmd.IsSet("tone") {
		updates["tone"] = cmd.String("tone")
	}
	if cmd.IsSet("interests") {
		updates["interests"] = cmd.String("interests")
	}

	if err := upsertProfile(ctx, appCtx.Container.ProfileStore, audience, updates); err != nil {
		return err
	}
	appCtx.Logger().Info("Profile saved", "audience", audience)
	return nil
}

// upsertProfile は既存のプロファイルに更新をマージして保存する。
// 未登録（ErrNotFound）は空プロファイルとして扱うが、それ以外の読み込み
// 失敗は既存データを上書きしないようエラーとして返す。
func upsertProfile(ctx context.Context, store domain.ProfileStore, audience string, updates domain.Profile) error {
	profile, err := store.GetProfile(ctx, audience)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("プロファイルの取得に失敗: %w", err)
		}
		profile = domain.Profile{}
	}
	for k, v := range updates {
		profile[k] = v
	}

	if err := store.PutProfile(ctx, audience, profile); err != nil {
		return fmt.Errorf("プロファイルの保存に失敗: %w", err)
	}
	return nil
}

// ProfileShowAction は読者層プロファイルを表示するコマンドのアクション
func ProfileShowAction(ctx context.Context, cmd *cli.Command) error {
	audience := cmd.String("audience")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	profile, err := appCtx.Container.ProfileStore.GetProfile(ctx, audience)
	if err != nil {
		return fmt.Errorf("プロファイルの取得に失敗: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(profile)
}
