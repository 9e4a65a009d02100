// Package prometheus exposes engine metrics through client_golang.
//
// [Collector] converts each [goIdentity.MetricsSnapshot] into const metrics at
// scrape time. Counter names are goidentity_*_total; the single histogram is
// goidentity_delivery_latency_seconds. [Handler] serves a private registry so
// nothing is added to the global default registry.
package prometheus
