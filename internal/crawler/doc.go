// Package crawler holds the vocabulary shared by the frontier and its
// collaborators: URL entries and their lifecycle states, fetch outcomes,
// dead-letter records, the error taxonomy, the hot-reloadable settings
// snapshot and URL canonicalization.
package crawler
