package engine

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/skillflow/skillflow/internal/skill"
)

// retryNode re-attempts a failed node under error_strategy=retry, honouring
// node.Retry.MaxRetries with delay backoff_ms * multiplier^attempt between
// attempts per spec.md §4.H. firstErr is the error from the initial attempt
// already made by executeNode. If every retry attempt also fails, the
// error of the last attempt is returned (firstErr only when no retry
// attempt ran).
func (e *Engine) retryNode(ctx context.Context, sk skill.Skill, node skill.SkillNode, args map[string]any, rs *runState, firstErr error) (any, error) {
	policy := node.Retry
	attempt := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(policy.BackoffMS) * time.Millisecond
	if policy.Multiplier > 0 {
		b.Multiplier = policy.Multiplier
	}

	lastErr := firstErr
	result, err := backoff.Retry(ctx, func() (any, error) {
		attempt++
		out, runErr := e.runOnce(ctx, sk, node, args, rs)
		if runErr != nil {
			lastErr = runErr
			return nil, runErr
		}
		return out, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(policy.MaxRetries)))
	if err != nil {
		return nil, lastErr
	}
	return result, nil
}
