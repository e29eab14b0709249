// Package metrics exposes binding observability as Prometheus metrics:
// live wrapper counts per kind plus cumulative register/release totals,
// fed by the resource registry's observer hook.
package metrics
