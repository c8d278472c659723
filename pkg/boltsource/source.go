package boltsource

import (
	"context"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/query"
	"github.com/orbitkit/orbit-go/pkg/source"
)

// Source is a durable, updatable, queryable orbit source backed by a bbolt
// file. It plugs the same request-flow pipeline memsource.Source uses; the
// difference is entirely in Cache.Patch's persistence step.
type Source struct {
	*source.Source
	Cache *Cache
}

// New opens (or creates) the bbolt file at path and returns a durable
// source named name built from it.
func New(name, path string) (*Source, error) {
	c, err := Open(path)
	if err != nil {
		return nil, err
	}
	s := &Source{Cache: c}
	s.Source = source.New(name,
		source.WithUpdatable(s.performUpdate),
		source.WithQueryable(s.performQuery),
	)
	return s, nil
}

// Close releases the underlying bbolt file handle.
func (s *Source) Close() error { return s.Cache.Close() }

func (s *Source) performUpdate(ctx context.Context, transform *orbit.Transform, hints []*source.FullResponse) (*source.FullResponse, error) {
	inverseOps, err := s.Cache.Patch(transform.Operations)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.PersistTransform(transform); err != nil {
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
