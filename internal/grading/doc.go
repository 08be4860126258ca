// Package grading defines the core types shared across the certification
// lookup subsystems: service keys, certification numbers, scraped game
// records, per-source and aggregate results, the browser session and page
// abstractions, and the error taxonomy used by the pool, scrapers, and
// orchestrator.
package grading
