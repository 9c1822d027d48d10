package observability

// MetricType identifies the kind of measurement carried by a Metric.
type MetricType string

const (
	// MetricCounter is a monotonically increasing count.
	MetricCounter MetricType = "counter"
	// MetricHistogram is a sampled observation such as a duration.
	MetricHistogram MetricType = "histogram"
)

// Metric is a single measurement emitted by a component.
type Metric struct {
	Name        string
	Type        MetricType
	Value       float64
	Labels      map[string]string
	Description string
	Unit        string
}

// MetricsCollector consumes measurements for aggregation or exposure.
type MetricsCollector interface {
	Collect(Metric)
}

// NoopCollector discards every measurement.
type NoopCollector struct{}

// Collect implements MetricsCollector.
func (NoopCollector) Collect(Metric) {}

var _ MetricsCollector = NoopCollector{}
