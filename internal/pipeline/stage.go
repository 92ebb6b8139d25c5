// Package pipeline connects the intake, policy, compute and executor stages.
package pipeline

import (
	"context"
	"errors"

	"github.com/ashureev/cypherguy/internal/domain"
)

// Stage handles one hop of the pipeline and returns the response that
// bubbles back to the caller.
type Stage interface {
	Handle(ctx context.Context, category domain.Category, req domain.Request) (domain.Response, error)
}

// StageFunc adapts a function to Stage. It is how the chain collapses to
// direct calls when all services run in one process.
type StageFunc func(ctx context.Context, category domain.Category, req domain.Request) (domain.Response, error)

// Handle calls f.
func (f StageFunc) Handle(ctx context.Context, category domain.Category, req domain.Request) (domain.Response, error) {
	return f(ctx, category, req)
}

// ErrNoNextStage is returned when a service has no downstream configured.
var ErrNoNextStage = errors.New("next stage not configured")

// Unavailable is a Stage that always fails with ErrNoNextStage.
var Unavailable Stage = StageFunc(func(context.Context, domain.Category, domain.Request) (domain.Response, error) {
	return domain.Response{}, ErrNoNextStage
})
