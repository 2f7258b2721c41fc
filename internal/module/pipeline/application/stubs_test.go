package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jinford/blogforge/internal/module/pipeline/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type stubResearcher struct {
	err error
}

func (r *stubResearcher) Research(ctx context.Context, jc domain.JobContext, urls []string) (*domain.ResearchNotes, error) {
	if r.err != nil {
		return nil, r.err
	}
	notes := &domain.ResearchNotes{}
	for _, u := range urls {
		notes.Citations = append(notes.Citations, domain.Citation{URL: u, Summary: "summary of " + u})
	}
	notes.Summary = fmt.Sprintf("%d references", len(urls))
	return notes, nil
}

type stubOutliner struct {
	specs []domain.SectionSpec
	err   error
}

func (o *stubOutliner) Outline(ctx context.Context, jc domain.JobContext) ([]domain.SectionSpec, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.specs, nil
}

func outlineOf(n int) []domain.SectionSpec {
	specs := make([]domain.SectionSpec, n)
	for i := range specs {
		specs[i] = domain.SectionSpec{
			Heading: fmt.Sprintf("Heading %d", i),
			Bullets: []string{fmt.Sprintf("point %d", i)},
		}
	}
	return specs
}

// stubDrafter はテストから挙動を制御できるドラフト実行器。
// gateが設定されている場合、呼び出しごとにトークンを1つ消費するまでブロックする。
type stubDrafter struct {
	mu        sync.Mutex
	calls     []string
	gate      chan struct{}
	failFor   map[string]error // heading -> error
	honourCtx bool

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (d *stubDrafter) Draft(ctx context.Context, jc domain.JobContext, spec domain.SectionSpec) (string, error) {
	cur := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		prev := d.maxInFlight.Load()
		if cur <= prev || d.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	d.mu.Lock()
	d.calls = append(d.calls, spec.Heading)
	d.mu.Unlock()

	if d.gate != nil {
		if d.honourCtx {
			select {
			case <-d.gate:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		} else {
			<-d.gate
		}
	}
	if err, ok := d.failFor[spec.Heading]; ok {
		return "", err
	}
	return "draft of " + spec.Heading, nil
}

func (d *stubDrafter) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type stubEditor struct {
	failFor map[string]error // draft content -> error
}

func (e *stubEditor) Edit(ctx context.Context, jc domain.JobContext, draft string) (string, error) {
	if err, ok := e.failFor[draft]; ok {
		return "", err
	}
	return "edited " + draft, nil
}

// stubSEO はSEO実行器のスタブ。enteredが設定されている場合は呼び出しを通知し、
// gateが設定されている場合はトークンを受け取るまでブロックする。
type stubSEO struct {
	err     error
	entered chan struct{}
	gate    chan struct{}
}

func (s *stubSEO) GenerateSEO(ctx context.Context, jc domain.JobContext, content string) (*domain.SEOMetadata, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, s.err
	}
	return &domain.SEOMetadata{
		MetaTitle:       jc.Topic,
		MetaDescription: "about " + jc.Topic,
		Keywords:        "testing, pipeline",
	}, nil
}

func stubExecutors(drafter *stubDrafter, editor *stubEditor, sections int) Executors {
	return Executors{
		Researcher: &stubResearcher{},
		Outliner:   &stubOutliner{specs: outlineOf(sections)},
		Drafter:    drafter,
		Editor:     editor,
		SEO:        &stubSEO{},
	}
}
