// Package metrics defines the observability interfaces for the protocol
// engine. Implementations live in subpackages; passing nil disables
// collection with zero overhead.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registryMu sync.Mutex
	registry   *prometheus.Registry
)

// InitRegistry creates the process-wide Prometheus registry with the standard
// Go and process collectors. Calling it more than once is a no-op.
func InitRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()

	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// IsEnabled reports whether metrics collection was enabled via InitRegistry.
func IsEnabled() bool {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry
}
