// Package memsource is orbit's concrete in-memory source: it binds the
// operation-sourced cache to the source request-flow pipeline as the
// updatable and queryable capabilities.
package memsource

import (
	"context"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/cache"
	"github.com/orbitkit/orbit-go/pkg/query"
	"github.com/orbitkit/orbit-go/pkg/source"
)

// Source is an in-memory, updatable, queryable orbit source.
type Source struct {
	*source.Source
	Cache *cache.Cache
}

// New returns a root memory source named name, backed by an empty cache
// with no declared relationship schema.
func New(name string) *Source {
	return wrap(name, cache.New())
}

// NewWithSchema returns a root memory source whose cache cascades
// relationship edits into their declared inverses per schema.
func NewWithSchema(name string, schema cache.Schema) *Source {
	return wrap(name, cache.NewWithSchema(schema))
}

// Fork returns a child source whose cache shares parent's cache as an
// immutable snapshot: reads fall through to it until the fork diverges.
// The fork's log starts empty; its forkPoint is the parent's current log
// head.
func (s *Source) Fork(name string) (*Source, string) {
	forkPoint := s.Log.Head()
	child := wrap(name, cache.NewFork(s.Cache))
	return child, forkPoint
}

func wrap(name string, c *cache.Cache) *Source {
	s := &Source{Cache: c}
	s.Source = source.New(name,
		source.WithUpdatable(s.performUpdate),
		source.WithQueryable(s.performQuery),
		source.WithRollbackApplier(func(ops []orbit.Operation) error {
			_, err := s.Cache.Patch(ops)
			return err
		}),
	)
	return s
}

func (s *Source) performUpdate(ctx context.Context, transform *orbit.Transform, hints []*source.FullResponse) (*source.FullResponse, error) {
	inverseOps, err := s.Cache.Patch(transform.Operations)
	if err != nil {
		return nil, err
	}
	return &source.FullResponse{
		Data:    transform.Operations,
		Details: map[string]any{"inverseOperations": inverseOps},
	}, nil
}

func (s *Source) performQuery(ctx context.Context, q query.Query, hints []*source.FullResponse) (*source.FullResponse, error) {
	data, err := query.Evaluate(s.Cache, q)
	if err != nil {
		return nil, err
	}
	return &source.FullResponse{Data: data}, nil
}

// Replay applies t's operations directly to the cache and records it (and
// its inverse) in the log, bypassing the task queue and event emission.
// Used by the fork/merge protocol, which moves transforms between logs
// outside the ordinary request flow.
func (s *Source) Replay(t *orbit.Transform) error {
	inverse, err := s.Cache.Patch(t.Operations)
	if err != nil {
		return err
	}
	s.Log.Append(t.ID)
	s.RecordTransform(t)
	s.RecordInverse(t.ID, inverse)
	return nil
}
