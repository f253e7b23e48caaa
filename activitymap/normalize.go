package activitymap

import (
	"context"
	"strconv"
	"time"

	auth "github.com/ecofy/ecofy-auth"
)

const (
	// MetadataKeyActorKind stores the principal kind of the actor.
	MetadataKeyActorKind = "actor_kind"
	// MetadataKeyFromStatus stores the source status for lifecycle transitions.
	MetadataKeyFromStatus = "from_status"
	// MetadataKeyToStatus stores the target status for lifecycle transitions.
	MetadataKeyToStatus = "to_status"
)

const (
	defaultChannel = "auth"
	defaultActorID = "system"
)

// Normalized is an activity record in actor/verb/object form.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option configures Normalize.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel       string
	actorFallback string
	now           func() time.Time
}

// Normalize maps an auth event onto a Normalized record. Actors are written
// as "kind:id"; system events use the actor fallback.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := options.actorFallback
	if !event.IsSystem() {
		actorID = refID(event.Actor)
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	out := Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
	if event.Subject.Kind != "" {
		out.ObjectType = string(event.Subject.Kind)
		out.ObjectID = refID(event.Subject)
	}
	return out
}

// WithDefaultChannel overrides the "auth" channel.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = channel
	}
}

// WithActorFallback sets the actor id used for system events.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = actorID
	}
}

// LogSink writes every event as a normalized audit record.
type LogSink struct {
	logger auth.Logger
	opts   []Option
}

var _ auth.ActivitySink = (*LogSink)(nil)

// NewLogSink returns an ActivitySink logging through logger.
func NewLogSink(logger auth.Logger, opts ...Option) *LogSink {
	return &LogSink{logger: logger, opts: opts}
}

// Record implements auth.ActivitySink.
func (s *LogSink) Record(_ context.Context, event auth.ActivityEvent) error {
	n := Normalize(event, s.opts...)
	s.logger.Info("audit",
		"verb", n.Verb,
		"actor_id", n.ActorID,
		"object_type", n.ObjectType,
		"object_id", n.ObjectID,
		"channel", n.Channel,
		"metadata", n.Metadata,
		"occurred_at", n.OccurredAt,
	)
	return nil
}

func refID(ref auth.PrincipalRef) string {
	return string(ref.Kind) + ":" + strconv.FormatInt(ref.ID, 10)
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	set := func(key, value string) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[key] = value
	}

	if !event.IsSystem() {
		if _, exists := metadata[MetadataKeyActorKind]; !exists {
			set(MetadataKeyActorKind, string(event.Actor.Kind))
		}
	}
	set(MetadataKeyFromStatus, string(event.FromStatus))
	set(MetadataKeyToStatus, string(event.ToStatus))

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
