package capability

import (
	"context"
	"encoding/json"
	"fmt"
)

// Typed builds an entry from a function taking a decoded argument struct.
// The input schema is reflected from T, so struct tags are the single
// source of truth for names, enums, defaults and required fields.
func Typed[T any](name, description string, fn func(ctx context.Context, in T) (any, error)) Entry {
	var zero T
	return Entry{
		Name:        name,
		Description: description,
		InputSchema: ReflectSchema(&zero),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in T
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, fmt.Errorf("decode arguments: %w", err)
				}
			}
			return fn(ctx, in)
		},
	}
}
