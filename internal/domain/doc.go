// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (errors.go, update.go, message.go, connection.go, store.go)
// with shared types and the storage contracts the components depend on. No implementation code - just contracts.
// Prevents circular imports by keeping interfaces on the consumer side.
package domain
