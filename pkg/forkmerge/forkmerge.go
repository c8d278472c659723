// Package forkmerge layers the fork/merge/rebase protocol over a memory
// source: a fork shares its parent's cache as an immutable snapshot,
// diverges independently, then either folds its work back into the
// parent (merge) or catches up with the parent's new work (rebase),
// git-style.
package forkmerge

import (
	"context"
	"fmt"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/memsource"
	"github.com/orbitkit/orbit-go/pkg/metrics"
	"github.com/orbitkit/orbit-go/pkg/source"
)

// Fork pairs a child source with the parent it diverged from and the log
// position it diverged at.
type Fork struct {
	Parent    *memsource.Source
	Child     *memsource.Source
	forkPoint string
}

// New forks parent into a new named child source.
func New(parent *memsource.Source, name string) *Fork {
	child, forkPoint := parent.Fork(name)
	metrics.ForksTotal.Inc()
	return &Fork{Parent: parent, Child: child, forkPoint: forkPoint}
}

// ForkPoint returns the parent log ID this fork last synchronized at.
func (f *Fork) ForkPoint() string { return f.forkPoint }

// MergeOptions configures Merge.
type MergeOptions struct {
	// SinceTransformID selects f.Child.TransformsSince(id); zero value
	// selects every transform the child has recorded.
	SinceTransformID string
	// Coalesce folds the flattened operations before building the merge
	// transform, collapsing redundant or annihilating pairs.
	Coalesce bool
}

// Merge flattens the fork's transforms (since opts.SinceTransformID, or
// all of them) into one reduced Transform and applies it to the parent.
func (f *Fork) Merge(ctx context.Context, opts MergeOptions) (any, error) {
	var transforms []*orbit.Transform
	if opts.SinceTransformID != "" {
		transforms = f.Child.TransformsSince(opts.SinceTransformID)
	} else {
		transforms = f.Child.AllTransforms()
	}

	var ops []orbit.Operation
	for _, t := range transforms {
		ops = append(ops, t.Operations...)
	}
	if opts.Coalesce {
		ops = Coalesce(ops)
	}

	reduced := orbit.NewTransform("", ops, nil)
	resp, err := f.Parent.Update(ctx, reduced, source.RequestOptions{})
	if err != nil {
		metrics.MergesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.MergesTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

// Rebase replays the fork onto its parent's current state: every local
// transform is unwound via its inverse, the parent's transforms since the
// fork point are applied, then every local transform is re-applied. If
// the parent has no new transforms since the fork point this is a no-op.
func (f *Fork) Rebase(ctx context.Context) error {
	baseTx := f.Parent.TransformsSince(f.forkPoint)
	if len(baseTx) == 0 {
		return nil
	}
	localTx := f.Child.AllTransforms()

	for i := len(localTx) - 1; i >= 0; i-- {
		t := localTx[i]
		inverse, ok := f.Child.InverseOperations(t.ID)
		if !ok {
			return &orbit.AssertionError{Message: fmt.Sprintf("forkmerge: no retained inverse for transform %q", t.ID)}
		}
		if _, err := f.Child.Cache.Patch(inverse); err != nil {
			return err
		}
		f.Child.ForgetTransform(t.ID)
	}
	f.Child.Log.Clear()

	for _, t := range baseTx {
		if err := f.Child.Replay(t); err != nil {
			return err
		}
	}
	for _, t := range localTx {
		if err := f.Child.Replay(t); err != nil {
			return err
		}
	}

	f.forkPoint = f.Parent.Log.Head()
	return nil
}
