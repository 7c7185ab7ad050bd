// Package crawler defines the types, interfaces and sentinel errors shared by
// the traversal, extraction, scoring, indexing and search subsystems.
package crawler
