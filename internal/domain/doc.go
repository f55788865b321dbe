// Package domain contains the core entities of the document processing
// pipeline: queue records tracking per-document extraction lifecycle and
// the structured results returned by the extraction service.
//
// Domain types carry their own validation and state-transition rules but
// have no knowledge of persistence or transport. Stores and drivers depend
// on this package, never the other way around.
package domain
