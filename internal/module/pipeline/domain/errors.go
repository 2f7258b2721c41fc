package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound は対象のジョブ・スナップショット・プロファイルが存在しない場合のエラー
	ErrNotFound = errors.New("not found")

	// ErrInvalidState は現在の状態では許可されない操作を要求された場合のエラー
	ErrInvalidState = errors.New("invalid state")

	// ErrVersionConflict はスナップショットの楽観的バージョン検査に失敗した場合のエラー
	ErrVersionConflict = errors.New("snapshot version conflict")
)

// ValidationError は入力検証エラーを表す。
// このエラーが返る場合、ジョブの状態は一切作成・変更されていない。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// StageError はステージ実行（またはセクションワーカー）の失敗を表す。
// 逐次ステージではジョブ全体の失敗となり、並列ステージでは閾値ポリシーに従う。
type StageError struct {
	Stage Stage
	Agent string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (%s) failed: %v", e.Stage, e.Agent, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError はStageErrorを作成する
func NewStageError(stage Stage, agent string, err error) *StageError {
	return &StageError{Stage: stage, Agent: agent, Err: err}
}
