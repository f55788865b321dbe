// Package store defines the persistence interfaces for the document
// processing queue. Implementations live under internal/platform; the rest
// of the application depends only on these interfaces, which keeps drivers
// and services testable against in-memory fakes.
package store
