// Package source implements the common request-flow pipeline every orbit
// source is built from: activation gating, transform dedup against the
// log, per-source task-queue serialization, before/after event emission,
// and the capability handlers (updatable, queryable, syncable, pullable,
// pushable) that plug into it.
package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/bus"
	"github.com/orbitkit/orbit-go/pkg/log"
	"github.com/orbitkit/orbit-go/pkg/metrics"
	"github.com/orbitkit/orbit-go/pkg/query"
	"github.com/orbitkit/orbit-go/pkg/taskqueue"
	"github.com/orbitkit/orbit-go/pkg/translog"
)

// FullResponse is the uniform envelope every capability handler returns.
type FullResponse struct {
	Data       any
	Details    map[string]any
	Transforms []*orbit.Transform
	Sources    map[string]*FullResponse
}

// RequestOptions configures one request-flow call.
type RequestOptions struct {
	ID             string
	FullResponse   bool
	IncludeSources bool
}

// UpdateHandler applies a transform and reports what happened.
type UpdateHandler func(ctx context.Context, transform *orbit.Transform, hints []*FullResponse) (*FullResponse, error)

// QueryHandler evaluates a query expression.
type QueryHandler func(ctx context.Context, q query.Query, hints []*FullResponse) (*FullResponse, error)

// SyncHandler applies a transform that originated elsewhere, without
// producing a response of its own.
type SyncHandler func(ctx context.Context, transform *orbit.Transform) error

// PullHandler fetches remote state as a set of transforms to apply locally.
type PullHandler func(ctx context.Context, q query.Query, hints []*FullResponse) ([]*orbit.Transform, error)

// PushHandler sends a transform to a remote collaborator, which may talk
// back remote-assigned identifiers as follow-on transforms.
type PushHandler func(ctx context.Context, transform *orbit.Transform, hints []*FullResponse) ([]*orbit.Transform, error)

const (
	kindUpdate = "update"
	kindQuery  = "query"
	kindSync   = "sync"
	kindPull   = "pull"
	kindPush   = "push"
)

// Source composes an event bus, a task queue, and a transform log into the
// request-flow pipeline shared by every capability.
type Source struct {
	Name string

	Bus   *bus.Bus
	Log   *translog.Log
	Queue *taskqueue.Queue

	logger zerolog.Logger

	mu         sync.Mutex
	activated  chan struct{}
	activeOnce sync.Once
	transforms map[string]*orbit.Transform     // every transform ever recorded, for fork/merge replay
	inverses   map[string][]orbit.Operation // transform id -> its inverse operations, the rollback substrate

	updateHandler UpdateHandler
	queryHandler  QueryHandler
	syncHandler   SyncHandler
	pullHandler   PullHandler
	pushHandler   PushHandler
	rollbackApply func([]orbit.Operation) error

	// maxRequestsPerTransform is the deprecated, still-honoured per-source
	// request-count gate. defaultMaxRequests is its replacement. When both
	// are set the more restrictive wins (spec §9 open question).
	maxRequestsPerTransform *int
	defaultMaxRequests      *int
}

// Option configures a Source at construction time.
type Option func(*Source)

// WithUpdatable installs the updatable capability.
func WithUpdatable(h UpdateHandler) Option { return func(s *Source) { s.updateHandler = h } }

// WithQueryable installs the queryable capability.
func WithQueryable(h QueryHandler) Option { return func(s *Source) { s.queryHandler = h } }

// WithSyncable installs the syncable capability.
func WithSyncable(h SyncHandler) Option { return func(s *Source) { s.syncHandler = h } }

// WithPullable installs the pullable capability.
func WithPullable(h PullHandler) Option { return func(s *Source) { s.pullHandler = h } }

// WithPushable installs the pushable capability.
func WithPushable(h PushHandler) Option { return func(s *Source) { s.pushHandler = h } }

// WithRollbackApplier installs the function Rollback uses to replay a
// discarded transform's stored inverse operations back onto the underlying
// store. Without one, Rollback returns an AssertionError.
func WithRollbackApplier(apply func([]orbit.Operation) error) Option {
	return func(s *Source) { s.rollbackApply = apply }
}

// WithMaxRequestsPerTransform sets the deprecated per-source request-count
// gate, retained for sources ported from configuration that still sets it.
func WithMaxRequestsPerTransform(n int) Option {
	return func(s *Source) { s.maxRequestsPerTransform = &n }
}

// WithDefaultMaxRequests sets defaultTransformOptions.maxRequests, the
// current replacement for WithMaxRequestsPerTransform.
func WithDefaultMaxRequests(n int) Option {
	return func(s *Source) { s.defaultMaxRequests = &n }
}

// New builds a Source named name with the given capabilities. It starts
// activated; call Deactivate/Activate to model an asynchronous init phase.
func New(name string, opts ...Option) *Source {
	s := &Source{
		Name:       name,
		Bus:        bus.New(),
		Log:        translog.New(nil),
		logger:     log.WithComponent("source." + name),
		activated:  make(chan struct{}),
		transforms: make(map[string]*orbit.Transform),
		inverses:   make(map[string][]orbit.Operation),
	}
	for _, opt := range opts {
		opt(s)
	}
	close(s.activated)
	s.Bus.On("error", func(args ...any) error {
		if len(args) > 0 {
			if err, ok := args[0].(error); ok {
				s.logger.Warn().Err(err).Msg("listener error")
			}
		}
		return nil
	})

	performers := map[string]taskqueue.Performer{}
	if s.updateHandler != nil {
		performers[kindUpdate] = s.performUpdate
	}
	if s.queryHandler != nil {
		performers[kindQuery] = s.performQuery
	}
	if s.syncHandler != nil {
		performers[kindSync] = s.performSync
	}
	if s.pullHandler != nil {
		performers[kindPull] = s.performPull
	}
	if s.pushHandler != nil {
		performers[kindPush] = s.performPush
	}
	s.Queue = taskqueue.New(performers, taskqueue.Skip, nil)
	return s
}

// Activated returns a channel closed once the source has finished
// activating. New sources are activated immediately; a wrapping source
// that needs an async init phase can hold callers at Deactivate/Activate.
func (s *Source) Activated() <-chan struct{} { return s.activated }

// Deactivate reopens the activation gate; request-flow methods will block
// until Activate is called.
func (s *Source) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activated = make(chan struct{})
	s.activeOnce = sync.Once{}
}

// Activate closes the activation gate, releasing blocked request-flow calls.
func (s *Source) Activate() {
	s.mu.Lock()
	ch := s.activated
	s.mu.Unlock()
	s.activeOnce.Do(func() { close(ch) })
}

func (s *Source) awaitActivated(ctx context.Context) error {
	s.mu.Lock()
	ch := s.activated
	s.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transformed records each new transform into the log (skipping any
// already present) and emits "transform" via settle-in-series before the
// caller's request resolves, satisfying the ordering guarantee that
// transform fires before the capability's own post event.
func (s *Source) transformed(transforms []*orbit.Transform) {
	var appended []*orbit.Transform
	for _, t := range transforms {
		if t == nil || s.Log.Contains(t.ID) {
			continue
		}
		s.mu.Lock()
		s.transforms[t.ID] = t
		s.mu.Unlock()
		s.Log.Append(t.ID)
		metrics.TransformsAppendedTotal.Inc()
		appended = append(appended, t)
	}
	if len(appended) > 0 {
		s.Bus.Settle("transform", appended)
	}
}

// collectHints runs a fulfill-in-series before-event. Bus listeners return
// only an error, so a listener can veto the request but cannot supply a
// hint: the returned hints slice is always empty.
func (s *Source) collectHints(event string, args ...any) ([]*FullResponse, error) {
	var hints []*FullResponse
	var firstErr error
	err := s.Bus.Fulfill(event, args...)
	if err != nil {
		firstErr = err
	}
	return hints, firstErr
}

func idempotentResponse() *FullResponse {
	return &FullResponse{Transforms: nil}
}

func buildTransform(txOrOps any, id string) (*orbit.Transform, error) {
	switch v := txOrOps.(type) {
	case *orbit.Transform:
		if id != "" {
			v.ID = id
		}
		return v, nil
	case []orbit.Operation:
		return orbit.NewTransform(id, v, nil), nil
	default:
		return nil, &orbit.AssertionError{Message: "source: update/push/sync expects *orbit.Transform or []orbit.Operation"}
	}
}

// checkMaxRequests enforces the stricter of maxRequestsPerTransform and
// defaultMaxRequests (spec §9 open question resolution: if either is set,
// the more restrictive wins), counting one request per operation. A
// transform.Options["maxRequests"] entry can tighten the limit further for
// that one transform. The gate fires before any handler runs, so a
// rejected transform never reaches the network.
func (s *Source) checkMaxRequests(transform *orbit.Transform) error {
	limit := s.effectiveMaxRequests(transform)
	if limit <= 0 {
		return nil
	}
	if len(transform.Operations) > limit {
		return &orbit.TransformNotAllowedError{
			TransformID: transform.ID,
			Reason:      fmt.Sprintf("operation count %d exceeds maxRequests %d", len(transform.Operations), limit),
		}
	}
	return nil
}

func (s *Source) effectiveMaxRequests(transform *orbit.Transform) int {
	limit := 0
	tighten := func(n int) {
		if n > 0 && (limit == 0 || n < limit) {
			limit = n
		}
	}
	if s.maxRequestsPerTransform != nil {
		tighten(*s.maxRequestsPerTransform)
	}
	if s.defaultMaxRequests != nil {
		tighten(*s.defaultMaxRequests)
	}
	if n, ok := transform.Options["maxRequests"].(int); ok {
		tighten(n)
	}
	return limit
}

func (s *Source) finalize(resp *FullResponse, opts RequestOptions) any {
	if opts.FullResponse {
		if opts.IncludeSources && resp.Sources == nil {
			resp.Sources = map[string]*FullResponse{s.Name: resp}
		}
		return resp
	}
	return resp.Data
}

// Update applies txOrOps (a *orbit.Transform or []orbit.Operation).
func (s *Source) Update(ctx context.Context, txOrOps any, opts RequestOptions) (any, error) {
	if s.updateHandler == nil {
		return nil, &orbit.AssertionError{Message: "source: update called on a non-updatable source"}
	}
	if err := s.awaitActivated(ctx); err != nil {
		return nil, err
	}
	transform, err := buildTransform(txOrOps, opts.ID)
	if err != nil {
		return nil, err
	}
	if s.Log.Contains(transform.ID) {
		return s.finalize(idempotentResponse(), opts), nil
	}
	if err := s.checkMaxRequests(transform); err != nil {
		return nil, err
	}

	result := <-s.Queue.Push(ctx, kindUpdate, transform)
	if result.Err != nil {
		s.Bus.Settle("updateFail", transform, result.Err)
		return nil, result.Err
	}
	resp := result.Value.(*FullResponse)
	return s.finalize(resp, opts), nil
}

func (s *Source) performUpdate(ctx context.Context, data any) (any, error) {
	transform := data.(*orbit.Transform)
	hints, err := s.collectHints("beforeUpdate", transform)
	if err != nil {
		return nil, err
	}
	timer := metrics.NewTimer()
	resp, err := s.updateHandler(ctx, transform, hints)
	timer.ObserveDurationVec(metrics.TransformDuration, s.Name)
	if err != nil {
		s.logger.Error().Err(err).Str("transform_id", transform.ID).Msg("update handler failed")
		return nil, err
	}
	if inv, ok := resp.Details["inverseOperations"].([]orbit.Operation); ok {
		s.mu.Lock()
		s.inverses[transform.ID] = inv
		s.mu.Unlock()
	}
	s.transformed(append([]*orbit.Transform{transform}, resp.Transforms...))
	s.Bus.Settle(kindUpdate, transform, resp)
	return resp, nil
}

// InverseOperations returns the operations that undo transform id, if it
// is still retained, per the rollback substrate invariant: applying them
// to the post-state restores the pre-state.
func (s *Source) InverseOperations(id string) ([]orbit.Operation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops, ok := s.inverses[id]
	return ops, ok
}

// ForgetTransform drops a transform and its retained inverse once it is no
// longer reachable for rollback (after a truncate, or once merged away).
func (s *Source) ForgetTransform(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transforms, id)
	delete(s.inverses, id)
}

// Query evaluates qOrExpr (a query.Query).
func (s *Source) Query(ctx context.Context, q query.Query, opts RequestOptions) (any, error) {
	if s.queryHandler == nil {
		return nil, &orbit.AssertionError{Message: "source: query called on a non-queryable source"}
	}
	if err := s.awaitActivated(ctx); err != nil {
		return nil, err
	}

	result := <-s.Queue.Push(ctx, kindQuery, q)
	if result.Err != nil {
		s.Bus.Settle("queryFail", q, result.Err)
		return nil, result.Err
	}
	resp := result.Value.(*FullResponse)
	return s.finalize(resp, opts), nil
}

func (s *Source) performQuery(ctx context.Context, data any) (any, error) {
	q := data.(query.Query)
	hints, err := s.collectHints("beforeQuery", q)
	if err != nil {
		return nil, err
	}
	timer := metrics.NewTimer()
	resp, err := s.queryHandler(ctx, q, hints)
	timer.ObserveDurationVec(metrics.QueryDuration, s.Name)
	if err != nil {
		return nil, err
	}
	s.transformed(resp.Transforms)
	s.Bus.Settle(kindQuery, q, resp)
	return resp, nil
}

// Sync applies a transform that originated from another source (typically
// the counterpart side of a pull), recording it without producing a
// response of its own.
func (s *Source) Sync(ctx context.Context, transform *orbit.Transform) error {
	if s.syncHandler == nil {
		return &orbit.AssertionError{Message: "source: sync called on a non-syncable source"}
	}
	if err := s.awaitActivated(ctx); err != nil {
		return err
	}
	if s.Log.Contains(transform.ID) {
		return nil
	}
	result := <-s.Queue.Push(ctx, kindSync, transform)
	if result.Err != nil {
		s.Bus.Settle("syncFail", transform, result.Err)
		return result.Err
	}
	return nil
}

func (s *Source) performSync(ctx context.Context, data any) (any, error) {
	transform := data.(*orbit.Transform)
	_, err := s.collectHints("beforeSync", transform)
	if err != nil {
		return nil, err
	}
	timer := metrics.NewTimer()
	err = s.syncHandler(ctx, transform)
	timer.ObserveDurationVec(metrics.SyncDuration, s.Name)
	if err != nil {
		return nil, err
	}
	s.transformed([]*orbit.Transform{transform})
	s.Bus.Settle(kindSync, transform)
	return nil, nil
}

// Pull fetches remote state matching q, records the resulting transforms
// in this source's log, emits them on "transform", and returns them. It
// does not apply them to any local store.
func (s *Source) Pull(ctx context.Context, q query.Query, opts RequestOptions) ([]*orbit.Transform, error) {
	if s.pullHandler == nil {
		return nil, &orbit.AssertionError{Message: "source: pull called on a non-pullable source"}
	}
	if err := s.awaitActivated(ctx); err != nil {
		return nil, err
	}
	result := <-s.Queue.Push(ctx, kindPull, q)
	if result.Err != nil {
		s.Bus.Settle("pullFail", q, result.Err)
		metrics.PullRequestsTotal.WithLabelValues(s.Name, "error").Inc()
		return nil, result.Err
	}
	metrics.PullRequestsTotal.WithLabelValues(s.Name, "ok").Inc()
	return result.Value.([]*orbit.Transform), nil
}

func (s *Source) performPull(ctx context.Context, data any) (any, error) {
	q := data.(query.Query)
	hints, err := s.collectHints("beforePull", q)
	if err != nil {
		return nil, err
	}
	transforms, err := s.pullHandler(ctx, q, hints)
	if err != nil {
		return nil, err
	}
	s.transformed(transforms)
	s.Bus.Settle(kindPull, q, transforms)
	return transforms, nil
}

// Push sends txOrOps to a remote collaborator, records it and any follow-on
// transforms (such as remote-ID reconciliation) in this source's log, and
// returns the follow-on transforms. A transform whose ID is already in the
// log is not sent again.
func (s *Source) Push(ctx context.Context, txOrOps any, opts RequestOptions) ([]*orbit.Transform, error) {
	if s.pushHandler == nil {
		return nil, &orbit.AssertionError{Message: "source: push called on a non-pushable source"}
	}
	if err := s.awaitActivated(ctx); err != nil {
		return nil, err
	}
	transform, err := buildTransform(txOrOps, opts.ID)
	if err != nil {
		return nil, err
	}
	if s.Log.Contains(transform.ID) {
		return nil, nil
	}
	if err := s.checkMaxRequests(transform); err != nil {
		return nil, err
	}
	result := <-s.Queue.Push(ctx, kindPush, transform)
	if result.Err != nil {
		s.Bus.Settle("pushFail", transform, result.Err)
		metrics.PushRequestsTotal.WithLabelValues(s.Name, "error").Inc()
		return nil, result.Err
	}
	metrics.PushRequestsTotal.WithLabelValues(s.Name, "ok").Inc()
	return result.Value.([]*orbit.Transform), nil
}

func (s *Source) performPush(ctx context.Context, data any) (any, error) {
	transform := data.(*orbit.Transform)
	hints, err := s.collectHints("beforePush", transform)
	if err != nil {
		return nil, err
	}
	transforms, err := s.pushHandler(ctx, transform, hints)
	if err != nil {
		return nil, err
	}
	all := append([]*orbit.Transform{transform}, transforms...)
	s.transformed(all)
	s.Bus.Settle(kindPush, transform, transforms)
	return transforms, nil
}

// TransformsSince returns the stored transforms for log IDs strictly
// after id, in order — the substrate merge and rebase replay over. An empty
// id selects every logged transform.
func (s *Source) TransformsSince(id string) []*orbit.Transform {
	var ids []string
	if id == "" {
		ids = s.Log.Entries()
	} else {
		ids = s.Log.After(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*orbit.Transform, 0, len(ids))
	for _, tid := range ids {
		if t, ok := s.transforms[tid]; ok {
			out = append(out, t)
		}
	}
	return out
}

// AllTransforms returns every stored transform in log order.
func (s *Source) AllTransforms() []*orbit.Transform {
	return s.TransformsSince("")
}

// RecordTransform registers a transform this source is replaying (fork
// construction, rebase) without going through the update request flow.
func (s *Source) RecordTransform(t *orbit.Transform) {
	s.mu.Lock()
	s.transforms[t.ID] = t
	s.mu.Unlock()
}

// RecordInverse stores the inverse operations for a transform applied
// outside the normal update request flow (rebase replay).
func (s *Source) RecordInverse(id string, ops []orbit.Operation) {
	s.mu.Lock()
	s.inverses[id] = ops
	s.mu.Unlock()
}

// Rollback discards every transform logged after id (adjusted by relative,
// per translog.Log.Rollback) and replays their stored inverse operations
// back onto the underlying store in reverse, most-recently-applied-first
// order, so the store ends up exactly as it was before any of them ran. It
// returns the discarded transform IDs in log order, and emits "rollback"
// with them on the source's event bus. Requires WithRollbackApplier; a
// source with none returns an AssertionError.
func (s *Source) Rollback(id string, relative int) ([]string, error) {
	if s.rollbackApply == nil {
		return nil, &orbit.AssertionError{Message: "source: rollback called on a source with no rollback applier installed"}
	}
	discarded, err := s.Log.Rollback(id, relative)
	if err != nil {
		return nil, err
	}
	for i := len(discarded) - 1; i >= 0; i-- {
		inv, ok := s.InverseOperations(discarded[i])
		if !ok {
			continue
		}
		if err := s.rollbackApply(inv); err != nil {
			return nil, fmt.Errorf("source: rollback replay of %s: %w", discarded[i], err)
		}
	}
	for _, tid := range discarded {
		s.ForgetTransform(tid)
	}
	if len(discarded) > 0 {
		s.Bus.Settle("rollback", discarded)
	}
	return discarded, nil
}

