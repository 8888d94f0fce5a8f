// Package storage persists round reports and the moderator command audit log.
//
// Writes are best-effort from the callers' point of view: a failing store is
// logged, never fatal. Two backends exist: SQLite (modernc.org/sqlite, no cgo)
// and append-only JSON Lines files.
package storage
