package biograph

import "errors"

var (
	// ErrPersonNotFound is returned when a person has no record in the chunk store.
	ErrPersonNotFound = errors.New("biograph: person not found")

	// ErrNoChunks is returned when a person has no chunks in the store.
	ErrNoChunks = errors.New("biograph: no chunks for person")

	// ErrNoQuestions is returned when a data directory contains no question configs.
	ErrNoQuestions = errors.New("biograph: no question directories found")

	// ErrMissingAPIKey is returned when a required API key is not configured.
	ErrMissingAPIKey = errors.New("biograph: missing API key")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("biograph: embedding generation failed")

	// ErrStoreClosed is returned when running questions on a closed pipeline.
	ErrStoreClosed = errors.New("biograph: store is closed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("biograph: invalid configuration")

	// ErrOntologyNotFound is returned when the ontology JSON file does not exist.
	ErrOntologyNotFound = errors.New("biograph: ontology file not found")

	// ErrEntryNotFound is returned when an ontology entry lookup fails.
	ErrEntryNotFound = errors.New("biograph: ontology entry not found")

	// ErrAliasConflict is returned when a write would map one alias to
	// more than one live ontology entry.
	ErrAliasConflict = errors.New("biograph: alias already mapped to another entry")

	// ErrHierarchyCycle is returned when a merge or parent assignment would
	// create a cycle in the ontology parent chain.
	ErrHierarchyCycle = errors.New("biograph: ontology hierarchy cycle")

	// ErrSearchFailed is returned when the web search provider fails.
	ErrSearchFailed = errors.New("biograph: web search failed")
)
