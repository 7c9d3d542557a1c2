package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- People whose biography is being researched
CREATE TABLE IF NOT EXISTS persons (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    nomination_year INTEGER,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Web sources collected per person, ordered by search rank
CREATE TABLE IF NOT EXISTS search_results (
    id INTEGER PRIMARY KEY,
    person_id INTEGER NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
    url TEXT NOT NULL,
    title TEXT,
    domain TEXT,
    rank INTEGER NOT NULL DEFAULT 0,
    extraction_method TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(person_id, url)
);

-- Text chunks extracted from each source
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    search_result_id INTEGER NOT NULL REFERENCES search_results(id) ON DELETE CASCADE,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    token_count INTEGER,
    content_hash TEXT NOT NULL,
    UNIQUE(search_result_id, chunk_index)
);

-- Vector embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_search_results_person ON search_results(person_id);
CREATE INDEX IF NOT EXISTS idx_search_results_rank ON search_results(person_id, rank);
CREATE INDEX IF NOT EXISTS idx_chunks_result ON chunks(search_result_id);
CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(content_hash);
`, embeddingDim)
}
