package main

// ExtensionEvent is published when a package enters or leaves the detected
// extension set.
type ExtensionEvent struct {
	RunID   string `json:"run_id"`
	Event   string `json:"event"`
	Package string `json:"package"`
}

// CrawlSummary is published once at the end of every completed crawl.
type CrawlSummary struct {
	RunID          string   `json:"run_id"`
	Packages       int      `json:"packages"`
	Processed      int64    `json:"processed"`
	Extensions     []string `json:"extensions"`
	Added          []string `json:"added"`
	Removed        []string `json:"removed"`
	ExtensionsHash string   `json:"extensions_hash"`
}
