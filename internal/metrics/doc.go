// Package metrics owns the engine's Prometheus collectors.
//
// Every method is safe on a nil *Metrics so call sites never branch on whether
// metrics are enabled.
package metrics
