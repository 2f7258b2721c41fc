package domain

import "fmt"

// SectionStatus はセクションの状態を表す
type SectionStatus string

const (
	SectionStatusPending  SectionStatus = "pending"
	SectionStatusDrafting SectionStatus = "drafting"
	SectionStatusDrafted  SectionStatus = "drafted"
	SectionStatusEditing  SectionStatus = "editing"
	SectionStatusEdited   SectionStatus = "edited"
	SectionStatusFailed   SectionStatus = "failed"
)

// IsTerminal は終端状態かどうかを返す
func (s SectionStatus) IsTerminal() bool {
	return s == SectionStatusEdited || s == SectionStatusFailed
}

// SectionID はordinalからセクションIDを導出する。
// IDはジョブ内で安定しており、再開時も同じセクションを指す。
type SectionID = string

// NewSectionID はordinalに対応するセクションIDを返す
func NewSectionID(ordinal int) SectionID {
	return fmt.Sprintf("section-%d", ordinal)
}

// Section は文書の1セクションを表す。ちょうど1つのJobに属する。
type Section struct {
	ID            SectionID     `json:"id"`
	Title         string        `json:"title"`
	Ordinal       int           `json:"ordinal"`
	Bullets       []string      `json:"bullets,omitempty"`
	DraftContent  string        `json:"draftContent,omitempty"`
	EditedContent string        `json:"editedContent,omitempty"`
	Status        SectionStatus `json:"status"`
	Error         string        `json:"error,omitempty"`
}

// NewSection はアウトラインのordinal番目の仕様からセクションを作成する
func NewSection(ordinal int, spec SectionSpec) *Section {
	return &Section{
		ID:      NewSectionID(ordinal),
		Title:   spec.Heading,
		Ordinal: ordinal,
		Bullets: append([]string(nil), spec.Bullets...),
		Status:  SectionStatusPending,
	}
}

// Content は編集済み本文を返す。編集前の場合はドラフト本文を返す。
func (s *Section) Content() string {
	if s.EditedContent != "" {
		return s.EditedContent
	}
	return s.DraftContent
}

// MarkFailed はセクションを失敗状態にする
func (s *Section) MarkFailed(err error) {
	s.Status = SectionStatusFailed
	if err != nil {
		s.Error = err.Error()
	}
}

// Clone はSectionのディープコピーを返す
func (s *Section) Clone() *Section {
	clone := *s
	clone.Bullets = append([]string(nil), s.Bullets...)
	return &clone
}
