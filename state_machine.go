package auth

import (
	"context"
	"database/sql"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor  PrincipalRef
	Target PrincipalRef
	From   Status
	To     Status
	Meta   TransitionMetadata
	Tx     bun.IDB
}

// TransitionHook is executed before or after a transition. Hooks run inside
// the transaction; an error rolls the transition back.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// StatusLifecycle governs status and role changes of principals.
type StatusLifecycle interface {
	RequestTransition(ctx context.Context, actor *Principal, ref PrincipalRef, target Status, opts ...TransitionOption) (*Principal, error)
	Activate(ctx context.Context, actor *Principal, ref PrincipalRef, opts ...TransitionOption) (*Principal, error)
	Suspend(ctx context.Context, actor *Principal, ref PrincipalRef, opts ...TransitionOption) (*Principal, error)
	Reinstate(ctx context.Context, actor *Principal, ref PrincipalRef, opts ...TransitionOption) (*Principal, error)
	Delete(ctx context.Context, actor *Principal, ref PrincipalRef, opts ...TransitionOption) (*Principal, error)
	ChangeRole(ctx context.Context, actor *Principal, ref PrincipalRef, role Role, opts ...TransitionOption) (*Principal, error)
	CanTransition(from, to Status) bool
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*statusLifecycle)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *statusLifecycle) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *statusLifecycle) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// By default the hook error is returned as is.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *statusLifecycle) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *statusLifecycle) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithStateMachineTxOptions sets the options of the transaction each
// transition runs in, e.g. the isolation level.
func WithStateMachineTxOptions(opts *sql.TxOptions) StateMachineOption {
	return func(sm *statusLifecycle) {
		sm.txOptions = opts
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewStatusLifecycle returns the default implementation backed by the provided repositories.
func NewStatusLifecycle(repos RepositoryManager, opts ...StateMachineOption) StatusLifecycle {
	sm := &statusLifecycle{
		repos: repos,
		transitions: map[Status]map[Status]struct{}{
			StatusPending: {
				StatusActive:  {},
				StatusDeleted: {},
			},
			StatusActive: {
				StatusSuspended: {},
				StatusDeleted:   {},
			},
			StatusSuspended: {
				StatusActive:  {},
				StatusDeleted: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type statusLifecycle struct {
	repos            RepositoryManager
	transitions      map[Status]map[Status]struct{}
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
	txOptions        *sql.TxOptions
}

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *statusLifecycle) Activate(ctx context.Context, actor *Principal, ref PrincipalRef, opts ...TransitionOption) (*Principal, error) {
	return sm.RequestTransition(ctx, actor, ref, StatusActive, opts...)
}

func (sm *statusLifecycle) Suspend(ctx context.Context, actor *Principal, ref PrincipalRef, opts ...TransitionOption) (*Principal, error) {
	return sm.RequestTransition(ctx, actor, ref, StatusSuspended, opts...)
}

func (sm *statusLifecycle) Reinstate(ctx context.Context, actor *Principal, ref PrincipalRef, opts ...TransitionOption) (*Principal, error) {
	return sm.RequestTransition(ctx, actor, ref, StatusActive, opts...)
}

func (sm *statusLifecycle) Delete(ctx context.Context, actor *Principal, ref PrincipalRef, opts ...TransitionOption) (*Principal, error) {
	return sm.RequestTransition(ctx, actor, ref, StatusDeleted, opts...)
}

// RequestTransition moves the target principal to status target. The status
// check, the dependent check and the write run in one transaction, and the
// write is conditional on both still holding.
func (sm *statusLifecycle) RequestTransition(ctx context.Context, actor *Principal, ref PrincipalRef, target Status, opts ...TransitionOption) (*Principal, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !ref.Kind.IsValid() {
		return nil, withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(ref.Kind)})
	}
	if !ref.Kind.HasLifecycle() || !target.IsValid() {
		return nil, withDetail(ErrInvalidTransition, nil, map[string]any{
			"kind": string(ref.Kind),
			"to":   string(target),
		})
	}

	options := sm.buildTransitionOptions(opts...)
	principals := sm.repos.Principals()
	var result *Principal
	var tc TransitionContext

	err := sm.repos.RunInTx(ctx, sm.txOptions, func(ctx context.Context, tx bun.Tx) error {
		record, err := principals.FindByKindAndIDTx(ctx, tx, ref.Kind, ref.ID)
		if err != nil {
			if goerrors.Is(err, ErrPrincipalNotFound) {
				return targetNotFound(ref.Kind, ref.ID)
			}
			return err
		}

		record.EnsureStatus()
		from := record.Status

		if from.IsTerminal() {
			return withDetail(ErrInvalidTransition, nil, map[string]any{
				"from": string(from),
				"to":   string(target),
			})
		}

		if !sm.CanTransition(from, target) {
			return withDetail(ErrInvalidTransition, nil, map[string]any{
				"from": string(from),
				"to":   string(target),
			})
		}

		if target == StatusDeleted {
			count, err := sm.repos.Dependents().CountDependentsTx(ctx, tx, ref.Kind, ref.ID)
			if err != nil {
				return err
			}
			if count > 0 {
				return withDetail(ErrConflict, nil, map[string]any{
					"kind":       string(ref.Kind),
					"id":         ref.ID,
					"dependents": count,
				})
			}
		}

		tc = TransitionContext{
			Actor:  actor.Ref(),
			Target: ref,
			From:   from,
			To:     target,
			Meta:   options.cloneMetadata(),
			Tx:     tx,
		}

		if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
			return err
		}

		affected, err := principals.UpdateStatusTx(ctx, tx, ref.Kind, ref.ID, from, target, sm.now().UTC())
		if err != nil {
			return err
		}
		if affected == 0 {
			return withDetail(ErrConflict, nil, map[string]any{
				"kind":   string(ref.Kind),
				"id":     ref.ID,
				"reason": "principal changed concurrently",
			})
		}

		if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
			return err
		}

		record.Status = target
		result = record.Principal(ref.Kind)
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventStatusChanged,
		Actor:      tc.Actor,
		Subject:    ref,
		FromStatus: tc.From,
		ToStatus:   tc.To,
		Metadata:   sm.transitionMetadata(tc.Meta),
	})

	return result, nil
}

// ChangeRole sets the stored role of a principal. Only roles the kind may
// hold are accepted.
func (sm *statusLifecycle) ChangeRole(ctx context.Context, actor *Principal, ref PrincipalRef, role Role, opts ...TransitionOption) (*Principal, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !ref.Kind.IsValid() {
		return nil, withDetail(ErrUnknownKind, nil, map[string]any{"kind": string(ref.Kind)})
	}
	if !CanHold(ref.Kind, role) {
		return nil, goerrors.New("role not allowed for principal kind", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"kind": string(ref.Kind), "role": string(role)})
	}

	options := sm.buildTransitionOptions(opts...)
	principals := sm.repos.Principals()
	var result *Principal
	var previous Role

	err := sm.repos.RunInTx(ctx, sm.txOptions, func(ctx context.Context, tx bun.Tx) error {
		record, err := principals.FindByKindAndIDTx(ctx, tx, ref.Kind, ref.ID)
		if err != nil {
			if goerrors.Is(err, ErrPrincipalNotFound) {
				return targetNotFound(ref.Kind, ref.ID)
			}
			return err
		}
		record.EnsureStatus()
		if record.Status == StatusDeleted {
			return targetNotFound(ref.Kind, ref.ID)
		}

		previous = record.Role
		if previous != role {
			if err := principals.UpdateRoleTx(ctx, tx, ref.Kind, ref.ID, role, sm.now().UTC()); err != nil {
				return err
			}
		}

		record.Role = role
		result = record.Principal(ref.Kind)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != role {
		meta := sm.transitionMetadata(options.cloneMetadata())
		if meta == nil {
			meta = map[string]any{}
		}
		meta["from_role"] = string(previous)
		meta["to_role"] = string(role)
		recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
			EventType: ActivityEventRoleChanged,
			Actor:     actor.Ref(),
			Subject:   ref,
			Metadata:  meta,
		})
	}

	return result, nil
}

func (sm *statusLifecycle) CanTransition(from, to Status) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *statusLifecycle) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *statusLifecycle) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *statusLifecycle) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}

func requireAdmin(actor *Principal) error {
	if actor == nil || actor.IsSuspended() || !actor.Role.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
