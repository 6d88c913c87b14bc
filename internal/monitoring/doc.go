/*
Package monitoring tracks data-collection runs and raises alerts on their outcomes.

# Runs

Every completed collection run submits one types.RunMetric to Monitor.Submit. The
metric is persisted, evaluated against the alert table and folded into running
per-source totals. Two rates are derived from each run:

	successRate = processed / found   (0 when found == 0)
	errorRate   = errors / found      (0 when found == 0)

# Alert Table

Alert rules are rows of (type, metric, comparator, bound, severity, message) and are
evaluated uniformly by Evaluate. The default table:

	LOW_SUCCESS_RATE   successRate < 0.8     high
	HIGH_ERROR_RATE    errorRate > 0.2       medium
	NO_SERVICES_FOUND  servicesFound == 0    high

Alerts are threshold breaches, not errors. They are appended to a bounded in-memory
log, logged at Warn and counted in telemetry. Submit never fails because of an alert.
The log can be rebuilt from stored runs with Replay after a restart.

# Rollups and Suggestions

Rollup aggregates the runs of the trailing window (7 days by default) per source.
Suggest turns rollups into advisory suggestions:

	avgSuccessRate < 0.8       review_extraction_logic   high      manual_review
	avgDurationMs > 30000      optimize_performance      medium    auto_actionable
	no services in the window  investigate_source        critical  manual_review

Report combines registry statistics, rollups, recent alerts, suggestions and an
optional quality snapshot into one operator-facing snapshot.
*/
package monitoring
