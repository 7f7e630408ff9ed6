package extractors

import (
	"context"
	"errors"
	"fmt"

	"clipfetch/pkg/logging"
	"clipfetch/pkg/rank"
	"clipfetch/pkg/types"
)

// Strategy is one way of discovering candidate URLs for a post.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, ec *types.ExtractionContext) ([]string, error)
}

// StrategyRunner runs strategies in order and stops at the first one whose
// candidates produce a ranked winner.
type StrategyRunner struct {
	platform types.Platform
	log      *logging.Logger
}

// NewStrategyRunner creates a runner that ranks for platform.
func NewStrategyRunner(platform types.Platform, log *logging.Logger) *StrategyRunner {
	return &StrategyRunner{platform: platform, log: log}
}

// Run returns the winning URL. Candidates from every attempted strategy are
// kept on ec. When nothing wins, the stage errors are joined under
// ErrNoCandidatesFound.
func (r *StrategyRunner) Run(ctx context.Context, ec *types.ExtractionContext, strategies ...Strategy) (string, error) {
	var errs []error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return "", types.NewStageError(s.Name, types.WrapTimeout(err))
		}

		urls, err := s.Run(ctx, ec)
		if err != nil {
			r.log.Debug("strategy failed", "strategy", s.Name, "error", err)
			errs = append(errs, err)
		}
		if len(urls) == 0 {
			continue
		}
		ec.AddCandidates(urls...)

		if winner, ok := rank.Rank(urls, r.platform).Get(); ok {
			r.log.Debug("strategy succeeded", "strategy", s.Name, "candidates", len(urls), "winner", winner)
			return winner, nil
		}
	}
	return "", types.NewStageError("extract", fmt.Errorf("%w: %w", types.ErrNoCandidatesFound, errors.Join(errs...)))
}
