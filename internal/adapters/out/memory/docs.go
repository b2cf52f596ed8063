// Package memory keeps jobs, authorizations and audit events in process
// memory. It honours the same contracts as the Postgres adapters, including
// compare-and-swap transitions and Pending deduplication, and backs the
// STORAGE=memory mode and the application tests.
package memory
