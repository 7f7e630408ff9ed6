package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCandidateURL_Less(t *testing.T) {
	tests := []struct {
		name string
		a, b CandidateURL
		want bool
	}{
		{
			name: "height dominates",
			a:    CandidateURL{Quality: QualityMetrics{Height: 720, FPS: 60, BitrateBps: 9000000}, Score: 50},
			b:    CandidateURL{Quality: QualityMetrics{Height: 1080}},
			want: true,
		},
		{
			name: "fps breaks height tie",
			a:    CandidateURL{Quality: QualityMetrics{Height: 1080, FPS: 30}},
			b:    CandidateURL{Quality: QualityMetrics{Height: 1080, FPS: 60}},
			want: true,
		},
		{
			name: "bitrate breaks fps tie",
			a:    CandidateURL{Quality: QualityMetrics{Height: 1080, FPS: 30, BitrateBps: 2000}},
			b:    CandidateURL{Quality: QualityMetrics{Height: 1080, FPS: 30, BitrateBps: 1000}},
			want: false,
		},
		{
			name: "score is last",
			a:    CandidateURL{Score: -20},
			b:    CandidateURL{Score: 2},
			want: true,
		},
		{
			name: "equal is not less",
			a:    CandidateURL{Score: 2},
			b:    CandidateURL{Score: 2},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Less(tt.b); got != tt.want {
				t.Errorf("Less() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetadata_SetAndMerge(t *testing.T) {
	m := Metadata{}
	m.Set(MetaTitle, "  hello ")
	m.Set(MetaAuthor, "   ")
	m.SetDefault(MetaTitle, "ignored")
	m.SetDefault(MetaID, "42")

	if m[MetaTitle] != "hello" {
		t.Errorf("title = %q, want hello", m[MetaTitle])
	}
	if _, ok := m[MetaAuthor]; ok {
		t.Error("blank author should not be stored")
	}
	if m[MetaID] != "42" {
		t.Errorf("id = %q, want 42", m[MetaID])
	}

	m.Merge(Metadata{MetaDesc: "d", MetaID: ""})
	if m[MetaDesc] != "d" || m[MetaID] != "42" {
		t.Errorf("unexpected merge result: %v", m)
	}
}

func TestSourceReference_Canonicalize(t *testing.T) {
	src := SourceReference{Original: "https://a/short", URL: "https://a/short", Platform: PlatformDouyin}

	got := src.Canonicalize("https://a/video/1")
	if got.URL != "https://a/video/1" || got.Original != "https://a/short" {
		t.Errorf("unexpected canonical reference: %+v", got)
	}
	if src.URL != "https://a/short" {
		t.Error("original reference was mutated")
	}
	if same := src.Canonicalize(""); same.URL != src.URL {
		t.Error("empty resolution should keep the URL")
	}
}

func TestWrapTimeout(t *testing.T) {
	wrapped := WrapTimeout(fmt.Errorf("fetch: %w", context.DeadlineExceeded))
	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("expected ErrTimeout match")
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("expected original error to stay reachable")
	}

	plain := errors.New("boom")
	if WrapTimeout(plain) != plain {
		t.Error("non-timeout errors must be returned unchanged")
	}
	if WrapTimeout(nil) != nil {
		t.Error("nil must stay nil")
	}
}

func TestStageError(t *testing.T) {
	err := NewStageError("structured", ErrNoCandidatesFound)
	if err.Error() != "structured: no candidates found" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !errors.Is(err, ErrNoCandidatesFound) {
		t.Error("StageError should unwrap to its cause")
	}
}
