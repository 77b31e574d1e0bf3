/*
Package observability exposes the dialogue engine to Prometheus.

Metrics turns lifecycle hooks into counters and histograms and instruments
HTTP handlers. Combine merges several hook sets, e.g. metrics and audit logs.
*/
package observability
