// Package metrics exposes cceval Prometheus collectors.
package metrics

const namespace = "cceval"
