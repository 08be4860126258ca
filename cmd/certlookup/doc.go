// Package main hosts the certlookup entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes the certification lookup, lookup history, the registered source list,
//     health probes, and Prometheus metrics.
//   - Orchestration: internal/lookup fans a validated certification number out to every registered grading service
//     scraper at once and waits for all of them. One service failing or stalling never cancels another; the lookup
//     is "not found" only when every service failed.
//   - Browser sessions: internal/browser keeps at most one live browser per grading service, launched lazily on first
//     use and reused across lookups. chromedp drives Chrome by default; rod (optionally with stealth) is selectable.
//   - Scraping: internal/scraper navigates to the service's search page, submits the number, waits for the result
//     element or the result XHR, and extracts fields from the rendered DOM with goquery.
//   - Side effects: result pages can be archived (memory/local/GCS), every lookup is recorded to history
//     (memory/Postgres), and a lookup event can be published (memory/Pub/Sub). None of these affect the lookup result.
//   - Lifecycle: internal/lifecycle owns shutdown. SIGINT/SIGTERM exit 0, a fatal server error or recovered panic
//     exits 1; cleanup handlers (HTTP drain, browser sessions, backends) run exactly once either way.
//
// Quick checklist:
//   - Configure env vars with the CERTLOOKUP_ prefix, e.g. CERTLOOKUP_SERVER_PORT, CERTLOOKUP_BROWSER_DRIVER,
//     CERTLOOKUP_HISTORY_DSN, or pass --config config.yaml.
//   - Serve: certlookup serve --config config.yaml
//   - One-shot: certlookup lookup 1234567
package main
