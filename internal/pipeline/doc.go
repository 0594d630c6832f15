// Package pipeline defines the types and collaborator interfaces shared by the
// batching and extraction stages: index chunk pointers, decoded index records,
// batches, archive sub-records and the typed errors that flow between them.
package pipeline
