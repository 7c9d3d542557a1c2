package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Person represents a row in the persons table.
type Person struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	NominationYear int    `json:"nomination_year,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// SearchResult represents a row in the search_results table.
type SearchResult struct {
	ID               int64  `json:"id"`
	PersonID         int64  `json:"person_id"`
	URL              string `json:"url"`
	Title            string `json:"title"`
	Domain           string `json:"domain"`
	Rank             int    `json:"rank"`
	ExtractionMethod string `json:"extraction_method"`
}

// Chunk represents a row in the chunks table.
type Chunk struct {
	ID             int64  `json:"id"`
	SearchResultID int64  `json:"search_result_id"`
	ChunkIndex     int    `json:"chunk_index"`
	Content        string `json:"content"`
	TokenCount     int    `json:"token_count"`
	ContentHash    string `json:"content_hash"`
}

// PersonChunk is a chunk joined with its source metadata, as consumed
// by retrieval.
type PersonChunk struct {
	ChunkID        int64  `json:"chunk_id"`
	SearchResultID int64  `json:"search_result_id"`
	ChunkIndex     int    `json:"chunk_index"`
	Content        string `json:"content"`
	URL            string `json:"url"`
	Title          string `json:"title"`
	Domain         string `json:"domain"`
	Rank           int    `json:"rank"`
}

// ChunkEmbedding pairs a chunk ID with its stored vector.
type ChunkEmbedding struct {
	ChunkID   int64
	Embedding []float32
}

// Store wraps the SQLite database for all biograph persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Person operations ---

// UpsertPerson inserts or updates a person record. Returns the person ID.
// RETURNING yields the row's id on both the insert and the update branch;
// LastInsertId would report an unrelated insert on the update path.
func (s *Store) UpsertPerson(ctx context.Context, name string, nominationYear int) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO persons (name, nomination_year)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET
			nomination_year = CASE WHEN excluded.nomination_year != 0
				THEN excluded.nomination_year ELSE persons.nomination_year END
		RETURNING id
	`, name, nominationYear).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetPerson retrieves a person by exact name.
func (s *Store) GetPerson(ctx context.Context, name string) (*Person, error) {
	p := &Person{}
	var year sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, nomination_year, created_at FROM persons WHERE name = ?
	`, name).Scan(&p.ID, &p.Name, &year, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.NominationYear = int(year.Int64)
	return p, nil
}

// ListPersons returns all persons ordered by name.
func (s *Store) ListPersons(ctx context.Context) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, nomination_year, created_at FROM persons ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var persons []Person
	for rows.Next() {
		var p Person
		var year sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Name, &year, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.NominationYear = int(year.Int64)
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

// --- Search result operations ---

// UpsertSearchResult inserts or updates a search result for a person.
// Returns the search result ID.
func (s *Store) UpsertSearchResult(ctx context.Context, sr SearchResult) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO search_results (person_id, url, title, domain, rank, extraction_method)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(person_id, url) DO UPDATE SET
			title = excluded.title,
			domain = excluded.domain,
			rank = excluded.rank,
			extraction_method = excluded.extraction_method
		RETURNING id
	`, sr.PersonID, sr.URL, sr.Title, sr.Domain, sr.Rank, sr.ExtractionMethod).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// --- Chunk operations ---

// InsertChunks inserts a batch of chunks in one transaction and returns
// their IDs.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) ([]int64, error) {
	ids := make([]int64, len(chunks))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (search_result_id, chunk_index, content, token_count, content_hash)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			hash := sha256.Sum256([]byte(c.Content))
			contentHash := hex.EncodeToString(hash[:])

			res, err := stmt.ExecContext(ctx,
				c.SearchResultID, c.ChunkIndex, c.Content, c.TokenCount, contentHash)
			if err != nil {
				return err
			}
			ids[i], err = res.LastInsertId()
			if err != nil {
				return err
			}
		}
		return nil
	})

	return ids, err
}

// ChunksForPerson returns every chunk for the named person joined with
// its source. When a chunk id shows up more than once the row with the
// lowest search rank wins.
func (s *Store) ChunksForPerson(ctx context.Context, name string) ([]PersonChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.search_result_id, c.chunk_index, c.content,
			sr.url, COALESCE(sr.title, ''), COALESCE(sr.domain, ''), sr.rank
		FROM persons p
		JOIN search_results sr ON sr.person_id = p.id
		JOIN chunks c ON c.search_result_id = sr.id
		WHERE p.name = ?
		ORDER BY c.id, sr.rank
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []PersonChunk
	seen := make(map[int64]bool)
	for rows.Next() {
		var c PersonChunk
		if err := rows.Scan(&c.ChunkID, &c.SearchResultID, &c.ChunkIndex, &c.Content,
			&c.URL, &c.Title, &c.Domain, &c.Rank); err != nil {
			return nil, err
		}
		if seen[c.ChunkID] {
			continue
		}
		seen[c.ChunkID] = true
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunksForPerson returns the number of chunks stored for a person.
func (s *Store) CountChunksForPerson(ctx context.Context, name string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(c.id)
		FROM persons p
		JOIN search_results sr ON sr.person_id = p.id
		JOIN chunks c ON c.search_result_id = sr.id
		WHERE p.name = ?
	`, name).Scan(&count)
	return count, err
}

// --- Embedding operations ---

// InsertEmbedding stores a vector embedding for a chunk.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID int64, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding dimension %d does not match store dimension %d",
			len(embedding), s.embeddingDim)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)",
		chunkID, serializeFloat32(embedding))
	return err
}

// EmbeddingsForPerson returns the stored vectors for all of a person's
// chunks. Chunks without an embedding are omitted.
func (s *Store) EmbeddingsForPerson(ctx context.Context, name string) ([]ChunkEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.chunk_id, v.embedding
		FROM persons p
		JOIN search_results sr ON sr.person_id = p.id
		JOIN chunks c ON c.search_result_id = sr.id
		JOIN vec_chunks v ON v.chunk_id = c.id
		WHERE p.name = ?
		ORDER BY v.chunk_id
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var embeddings []ChunkEmbedding
	for rows.Next() {
		var e ChunkEmbedding
		var blob []byte
		if err := rows.Scan(&e.ChunkID, &blob); err != nil {
			return nil, err
		}
		e.Embedding = deserializeFloat32(blob)
		embeddings = append(embeddings, e)
	}
	return embeddings, rows.Err()
}

// VectorSearch performs a corpus-wide KNN search returning the top-k
// nearest chunk IDs with similarity scores. Used by diagnostics.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]ChunkEmbedding, []float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, distance FROM vec_chunks
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var results []ChunkEmbedding
	var scores []float64
	for rows.Next() {
		var e ChunkEmbedding
		var distance float64
		if err := rows.Scan(&e.ChunkID, &distance); err != nil {
			return nil, nil, err
		}
		results = append(results, e)
		// Convert distance to similarity score (1 - distance for cosine)
		scores = append(scores, 1.0-distance)
	}
	return results, scores, rows.Err()
}

// ChunkHasEmbedding checks if a specific chunk has a vector embedding.
func (s *Store) ChunkHasEmbedding(ctx context.Context, chunkID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vec_chunks WHERE chunk_id = ?", chunkID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- Diagnostics ---

// DBStats holds counts of key database objects.
type DBStats struct {
	Persons       int `json:"persons"`
	SearchResults int `json:"search_results"`
	Chunks        int `json:"chunks"`
	Embeddings    int `json:"embeddings"`
}

// Stats returns counts of persons, search results, chunks, and embeddings.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM persons", &stats.Persons},
		{"SELECT COUNT(*) FROM search_results", &stats.SearchResults},
		{"SELECT COUNT(*) FROM chunks", &stats.Chunks},
		{"SELECT COUNT(*) FROM vec_chunks", &stats.Embeddings},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 is the inverse of serializeFloat32.
func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
