// Package store persists the Loom's state in SQLite.
//
// It mirrors the Rule Store and Entity Store inputs, holds the live window of
// instances with their attendance, staff and vehicle rows, and keeps the
// append-only history ledger with its payment diamonds.
//
// Every unit of work runs inside a single transaction obtained through
// [Store.InTx]. The connection pool is pinned to one connection and the DSN
// requests BEGIN IMMEDIATE, so a transaction holds the write lock from its
// first statement. Allocation queries and the writes that follow them are
// therefore serialized and two concurrent allocations can never double-book
// the same staff member or vehicle.
//
// Query results are ordered deterministically. Instances and rows are ordered
// by date, start time and ID; candidates by their ranking keys then ID.
package store
