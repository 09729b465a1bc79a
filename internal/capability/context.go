package capability

import "context"

type stageKey struct{}

// ContextWithStage tags ctx with the pipeline stage dispatching actions.
func ContextWithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFromContext returns the stage tagged on ctx, or "".
func StageFromContext(ctx context.Context) string {
	s, _ := ctx.Value(stageKey{}).(string)
	return s
}
