package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// JobState はジョブの状態を表す
type JobState string

const (
	JobStateCreated     JobState = "created"
	JobStateResearching JobState = "researching"
	JobStateOutlining   JobState = "outlining"
	JobStateDrafting    JobState = "drafting"
	JobStateEditing     JobState = "editing"
	JobStateSEO         JobState = "seo"
	JobStateCompleted   JobState = "completed"
	JobStatePaused      JobState = "paused"
	JobStateFailed      JobState = "failed"
	JobStateCancelled   JobState = "cancelled"
)

// IsTerminal は終端状態（一度到達したら離脱しない状態）かどうかを返す
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// Stage はパイプラインのステージを表す
type Stage string

const (
	StageResearch Stage = "research"
	StageOutline  Stage = "outline"
	StageDraft    Stage = "draft"
	StageEdit     Stage = "edit"
	StageSEO      Stage = "seo"
)

// Stages はパイプラインの実行順のステージ一覧を返す
func Stages() []Stage {
	return []Stage{StageResearch, StageOutline, StageDraft, StageEdit, StageSEO}
}

// StageState はステージ実行中に対応するジョブ状態を返す
func StageState(stage Stage) JobState {
	switch stage {
	case StageResearch:
		return JobStateResearching
	case StageOutline:
		return JobStateOutlining
	case StageDraft:
		return JobStateDrafting
	case StageEdit:
		return JobStateEditing
	case StageSEO:
		return JobStateSEO
	}
	return JobStateFailed
}

// SectionSpec はアウトラインの1セクション分の仕様を表す
type SectionSpec struct {
	Heading string   `json:"heading"`
	Bullets []string `json:"bullets"`
}

// Citation は参照URLとその要約を表す
type Citation struct {
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

// ResearchNotes はリサーチステージの出力を表す
type ResearchNotes struct {
	Summary   string     `json:"summary"`
	Citations []Citation `json:"citations"`
}

// SEOMetadata はSEOステージの出力を表す
type SEOMetadata struct {
	MetaTitle       string `json:"metaTitle"`
	MetaDescription string `json:"metaDescription"`
	Keywords        string `json:"keywords"`
}

// Job はコンテンツ生成パイプラインの1ジョブを表す。
// Jobの可変状態を変更するのは、そのジョブを実行中の制御フローのみであり、
// 並列ステージ内では1セクションにつき最大1ワーカーのみが書き込む。
type Job struct {
	ID                uuid.UUID           `json:"id"`
	Topic             string              `json:"topic"`
	Audience          string              `json:"audience"`
	ReferenceURLs     []string            `json:"referenceURLs,omitempty"`
	State             JobState            `json:"state"`
	CurrentStageIndex int                 `json:"currentStageIndex"`
	PauseRequested    bool                `json:"pauseRequested"`
	ResearchNotes     *ResearchNotes      `json:"researchNotes,omitempty"`
	Outline           []SectionSpec       `json:"outline,omitempty"`
	Sections          map[string]*Section `json:"sections,omitempty"`
	SEO               *SEOMetadata        `json:"seo,omitempty"`
	AssembledContent  string              `json:"assembledContent,omitempty"`
	FailureReason     string              `json:"failureReason,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// NewJob は新しいJobを作成する
func NewJob(topic, audience string, referenceURLs []string) (*Job, error) {
	if topic == "" {
		return nil, &ValidationError{Field: "topic", Reason: "must not be empty"}
	}

	now := time.Now().UTC()
	return &Job{
		ID:            uuid.New(),
		Topic:         topic,
		Audience:      audience,
		ReferenceURLs: append([]string(nil), referenceURLs...),
		State:         JobStateCreated,
		Sections:      map[string]*Section{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// canTransition は状態遷移が許可されているかを判定する
func canTransition(from, to JobState) bool {
	if from.IsTerminal() {
		return false
	}

	// 失敗・キャンセル・一時停止は任意の非終端状態から到達できる
	switch to {
	case JobStateFailed, JobStateCancelled, JobStatePaused:
		return true
	}

	switch from {
	case JobStateCreated:
		return to == JobStateResearching
	case JobStateResearching:
		return to == JobStateOutlining
	case JobStateOutlining:
		return to == JobStateDrafting
	case JobStateDrafting:
		return to == JobStateEditing
	case JobStateEditing:
		return to == JobStateSEO
	case JobStateSEO:
		return to == JobStateCompleted
	case JobStatePaused:
		// 再開時は中断していたステージの状態へ戻る
		switch to {
		case JobStateResearching, JobStateOutlining, JobStateDrafting, JobStateEditing, JobStateSEO:
			return true
		}
	}
	return false
}

// Transition はジョブの状態を遷移させる。
// 許可されていない遷移の場合は ErrInvalidState を返し、状態は変更しない。
func (j *Job) Transition(to JobState) error {
	if !canTransition(j.State, to) {
		return fmt.Errorf("transition %s -> %s: %w", j.State, to, ErrInvalidState)
	}
	j.State = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// InitSections はアウトラインからセクションレコードを生成する。
// ordinalはアウトラインの並び順から導出され、0..N-1で密に採番される。
func (j *Job) InitSections() {
	j.Sections = make(map[string]*Section, len(j.Outline))
	for i, spec := range j.Outline {
		sec := NewSection(i, spec)
		j.Sections[sec.ID] = sec
	}
}

// SectionsByOrdinal はordinal昇順のセクション一覧を返す。
// 完了順に関わらず、最終的な組み立ては常にこの順序で行う。
func (j *Job) SectionsByOrdinal() []*Section {
	sections := make([]*Section, 0, len(j.Sections))
	for _, sec := range j.Sections {
		sections = append(sections, sec)
	}
	sort.Slice(sections, func(a, b int) bool {
		return sections[a].Ordinal < sections[b].Ordinal
	})
	return sections
}

// FailedSectionCount は失敗したセクション数を返す
func (j *Job) FailedSectionCount() int {
	count := 0
	for _, sec := range j.Sections {
		if sec.Status == SectionStatusFailed {
			count++
		}
	}
	return count
}

// Clone はJobのディープコピーを返す。
// 実行中の制御フローと読み取り側が同じインスタンスを共有しないようにするために使う。
func (j *Job) Clone() *Job {
	clone := *j
	clone.ReferenceURLs = append([]string(nil), j.ReferenceURLs...)
	clone.Outline = make([]SectionSpec, len(j.Outline))
	for i, spec := range j.Outline {
		clone.Outline[i] = SectionSpec{
			Heading: spec.Heading,
			Bullets: append([]string(nil), spec.Bullets...),
		}
	}
	if j.ResearchNotes != nil {
		notes := *j.ResearchNotes
		notes.Citations = append([]Citation(nil), j.ResearchNotes.Citations...)
		clone.ResearchNotes = &notes
	}
	if j.SEO != nil {
		seo := *j.SEO
		clone.SEO = &seo
	}
	clone.Sections = make(map[string]*Section, len(j.Sections))
	for id, sec := range j.Sections {
		clone.Sections[id] = sec.Clone()
	}
	return &clone
}
