// Package notifier raises alerts for failed job executions.
//
// Failures arrive from the event bus and go through an async pipeline: a
// bounded queue, a worker pool, a token-bucket rate limit, retries with
// jittered exponential backoff and per-job deduplication, so a job failing
// every minute produces one alert per dedup window.
//
// # Delivery
//
// Alerts are handed to a Sender. The bundled Webhook POSTs each alert as a
// JSON document; any other sink can implement Sender.
package notifier
