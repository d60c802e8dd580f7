// Package models contains the GORM persistence models that map to
// database tables. They are kept separate from the domain types so the
// domain layer stays free of ORM tags; the repositories in the parent
// package convert between the two.
//
//   - ledger_entry.go: append-only audit chain rows
//   - credential_state.go: persisted connector credential state
package models
