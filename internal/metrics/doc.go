// Package metrics exports bridge activity as Prometheus metrics.
package metrics
