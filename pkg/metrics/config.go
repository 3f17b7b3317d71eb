package metrics

import (
	"maps"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	tperrors "github.com/vnykmshr/taskpool/pkg/common/errors"
)

// Config selects where pool, scheduler and stats collectors are registered.
//
// The zero Registry and Namespace describe DefaultRegistry, which is already
// registered with prometheus.DefaultRegisterer at init; RegistryFor hands
// that instance back instead of registering the collectors a second time.
type Config struct {
	// Enabled turns collection on. A pool built with Enabled false is the
	// plain uninstrumented pool.
	Enabled bool

	// Registry receives the collectors. Nil means prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace prefixes every metric name. Empty means DefaultNamespace.
	Namespace string

	// Labels are constant labels attached to every collector, for example
	// the service or host running the pool.
	Labels prometheus.Labels
}

// DefaultConfig returns an enabled configuration that resolves to
// DefaultRegistry.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: DefaultNamespace,
	}
}

// WithLabel returns a copy of c carrying an extra constant label. The
// receiver's label map is not modified.
func (c Config) WithLabel(name, value string) Config {
	labels := make(prometheus.Labels, len(c.Labels)+1)
	maps.Copy(labels, c.Labels)
	labels[name] = value
	c.Labels = labels
	return c
}

var metricNameRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate reports a namespace or constant label that the Prometheus
// client would refuse when the collectors are registered.
func (c Config) Validate() error {
	if c.Namespace != "" && !metricNameRE.MatchString(c.Namespace) {
		return tperrors.NewValidationError("metrics", "Namespace", c.Namespace, "is not a valid metric name prefix").
			WithHint("use letters, digits and underscores, not starting with a digit")
	}
	for name := range c.Labels {
		if !metricNameRE.MatchString(name) || strings.HasPrefix(name, "__") {
			return tperrors.NewValidationError("metrics", "Labels", name, "is not a valid label name").
				WithHint("label names starting with __ are reserved")
		}
		if name == "pool_name" || name == "scheduler_name" || name == "publisher_name" {
			return tperrors.NewValidationError("metrics", "Labels", name, "collides with a variable label")
		}
	}
	return nil
}

func (c Config) usesDefaultRegistry() bool {
	defaultRegisterer := c.Registry == nil || c.Registry == prometheus.DefaultRegisterer
	defaultNamespace := c.Namespace == "" || c.Namespace == DefaultNamespace
	return defaultRegisterer && defaultNamespace && len(c.Labels) == 0
}

// RegistryFor returns DefaultRegistry when cfg describes it and registers a
// new Registry otherwise.
func RegistryFor(cfg Config) *Registry {
	if cfg.usesDefaultRegistry() {
		return DefaultRegistry
	}
	return NewRegistryWithConfig(cfg)
}

// Instrumentable is implemented by components whose metrics can be switched
// on and off at runtime, such as workerpool.MetricsPool.
type Instrumentable interface {
	EnableMetrics(config Config) error
	DisableMetrics()
	MetricsEnabled() bool
}
