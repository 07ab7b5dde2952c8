// Package observability provides logging, metrics and progress reporting
// for the harvester.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stderr",
//	})
//	logger = observability.WithRunContext(logger, runID, "acm")
//
// # Metrics
//
// Metrics are registered with the default Prometheus registry:
//
//	metrics := observability.NewMetrics("harvester")
//	metrics.RecordPage("acm", true, 50)
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # Progress
//
// Engines emit ProgressEvents. LogReporter writes them as log lines and
// ProgressTracker keeps the latest event per provider for the status server.
//
// # Standard Fields
//
//   - run_id: identifier of one provider run
//   - provider: acm, scidir or ieee
//   - page, total_pages: discovery position
//   - item, link: the item being enriched
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
