package aggregator

import "github.com/google/uuid"

// EntityId identifies the thing a sample is attributed to (a partition, a
// broker, ...). Equality and Group() must stay stable for the entity's
// lifetime; the zero value is not a valid entity id.
type EntityId struct {
	id    string
	group string
}

// NewEntityId builds an EntityId from a caller-supplied key and group tag.
func NewEntityId(id, group string) EntityId {
	return EntityId{id: id, group: group}
}

// NewRandomEntityId generates an EntityId with a random key in the given
// group, for callers (load generators, tests) that don't have a natural key.
func NewRandomEntityId(group string) EntityId {
	return EntityId{id: uuid.NewString(), group: group}
}

// ID returns the entity's opaque key.
func (e EntityId) ID() string { return e.id }

// Group returns the entity's equivalence-class tag.
func (e EntityId) Group() string { return e.group }

func (e EntityId) String() string { return e.group + "/" + e.id }

// Sample is a single metric reading pulled from an external sample producer.
type Sample struct {
	Entity             EntityId
	TimestampMs        int64
	Values             map[MetricId]float64
	SampleTimeBrokerId string // opaque; carried through for producer-side tracing only
}

// SampleValidator decides whether a Sample is accepted into the store.
// Implementations are injected by the caller — leader checks, completeness
// checks, and similar policy live entirely outside this package.
type SampleValidator interface {
	Validate(s Sample, registry *MetricRegistry) bool
}

// DefaultSampleValidator accepts a sample iff it carries exactly as many
// values as the registry has metrics. Only the count is compared; the metric
// ids of those values are not checked against the registry.
type DefaultSampleValidator struct{}

func (DefaultSampleValidator) Validate(s Sample, registry *MetricRegistry) bool {
	return len(s.Values) == len(registry.all())
}
