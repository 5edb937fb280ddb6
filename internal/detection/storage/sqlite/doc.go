// Package sqlite persists the history of evaluation runs in a SQLite
// database so scores can be compared across runs.
package sqlite
