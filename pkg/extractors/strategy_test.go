package extractors

import (
	"context"
	"errors"
	"testing"

	"clipfetch/pkg/logging"
	"clipfetch/pkg/types"
)

func TestStrategyRunner_Run(t *testing.T) {
	var ran []string
	step := func(name string, urls []string, err error) Strategy {
		return Strategy{Name: name, Run: func(context.Context, *types.ExtractionContext) ([]string, error) {
			ran = append(ran, name)
			return urls, err
		}}
	}

	r := NewStrategyRunner(types.PlatformDouyin, logging.Discard())
	ec := types.NewExtractionContext(types.SourceReference{URL: "https://www.douyin.com/video/1"})
	winner, err := r.Run(context.Background(), ec,
		step("fails", nil, errors.New("boom")),
		step("junk", []string{"not a url"}, nil),
		step("wins", []string{"https://a/play/?ratio=540p", "https://a/play/?ratio=1080p"}, nil),
		step("never", []string{"https://b/x.mp4"}, nil),
	)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if winner != "https://a/play/?ratio=1080p" {
		t.Errorf("winner = %q", winner)
	}
	if got := len(ran); got != 3 {
		t.Errorf("ran %v, want three strategies", ran)
	}
	if len(ec.Candidates) != 3 {
		t.Errorf("Candidates = %v", ec.Candidates)
	}
}

func TestStrategyRunner_Exhausted(t *testing.T) {
	boom := errors.New("boom")
	r := NewStrategyRunner(types.PlatformThreads, logging.Discard())
	_, err := r.Run(context.Background(), types.NewExtractionContext(types.SourceReference{}),
		Strategy{Name: "a", Run: func(context.Context, *types.ExtractionContext) ([]string, error) { return nil, boom }},
		Strategy{Name: "b", Run: func(context.Context, *types.ExtractionContext) ([]string, error) { return nil, nil }},
	)
	if !errors.Is(err, types.ErrNoCandidatesFound) {
		t.Errorf("error = %v, want ErrNoCandidatesFound", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want stage error kept", err)
	}
}

func TestStrategyRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewStrategyRunner(types.PlatformTikTok, logging.Discard())
	_, err := r.Run(ctx, types.NewExtractionContext(types.SourceReference{}),
		Strategy{Name: "a", Run: func(context.Context, *types.ExtractionContext) ([]string, error) {
			t.Error("strategy should not run after cancellation")
			return nil, nil
		}},
	)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
