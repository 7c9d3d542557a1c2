// Package ontology maintains the unified organization ontology: a single
// JSON document of canonical organizations with aliases, classification
// metadata, and hierarchical tags. The store keeps the whole document in
// memory with exact-lookup indexes and persists every write atomically.
package ontology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	biograph "github.com/brunobiangulo/biograph"
)

// Meta-type constants for the closed classification set.
const (
	MetaIO         = "io"
	MetaGov        = "gov"
	MetaUniversity = "university"
	MetaNGO        = "ngo"
	MetaPrivate    = "private"
	MetaOther      = "other"
)

// Entry statuses.
const (
	StatusCompleted     = "completed"
	StatusPendingReview = "pending_review"
	StatusMerged        = "merged"
	StatusDismissed     = "dismissed"
)

// Entry sources.
const (
	SourceAutoStub         = "auto_stub"
	SourceAutoStubApproved = "auto_stub_approved"
)

// rootKey is the top-level key of the ontology document.
const rootKey = "unified_ontology"

// SubOntology places an entry inside one hierarchical tag tree. AllPaths
// holds every colon-separated prefix of HierarchicalTag, shortest first.
type SubOntology struct {
	HierarchicalTag string   `json:"hierarchical_tag"`
	AllPaths        []string `json:"all_paths,omitempty"`
}

// Entry is one canonical organization.
type Entry struct {
	CanonicalName   string       `json:"canonical_name"`
	VariationsFound []string     `json:"variations_found"`
	OrgTypes        []string     `json:"org_types,omitempty"`
	MetaType        string       `json:"meta_type"`
	Sector          string       `json:"sector,omitempty"`
	LocationCountry string       `json:"location_country,omitempty"`
	LocationCity    string       `json:"location_city,omitempty"`
	Parent          string       `json:"parent,omitempty"`
	UNOntology      *SubOntology `json:"un_ontology,omitempty"`
	GovOntology     *SubOntology `json:"gov_ontology,omitempty"`
	Source          string       `json:"source,omitempty"`
	Status          string       `json:"status,omitempty"`
}

// Tag returns the entry's primary hierarchical tag, preferring the UN
// sub-ontology over the government one.
func (e *Entry) Tag() string {
	if e.UNOntology != nil && e.UNOntology.HierarchicalTag != "" {
		return e.UNOntology.HierarchicalTag
	}
	if e.GovOntology != nil && e.GovOntology.HierarchicalTag != "" {
		return e.GovOntology.HierarchicalTag
	}
	return ""
}

// IsStub reports whether the entry was auto-created and never reviewed.
func (e *Entry) IsStub() bool {
	return e.Source == SourceAutoStub || e.Status == StatusPendingReview
}

// retired entries no longer own their aliases: merging moves them to
// the surviving entry, dismissal drops them from alias resolution.
func retired(e *Entry) bool {
	return e.Status == StatusMerged || e.Status == StatusDismissed
}

// Store is the in-memory ontology with persistence to a JSON file.
// Writes rebuild the indexes and save the full document before returning.
type Store struct {
	path string

	mu          sync.RWMutex
	entries     []*Entry
	byCanonical map[string]*Entry
	byVariation map[string]*Entry
	byMetaType  map[string][]*Entry
	tagsByPfx   map[string]map[string]struct{}
}

type document struct {
	UnifiedOntology []*Entry `json:"unified_ontology"`
}

// Open loads the ontology document at path. A missing file is an error;
// use Create to bootstrap an empty ontology.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", biograph.ErrOntologyNotFound, path)
		}
		return nil, fmt.Errorf("reading ontology: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing ontology %s: %w", path, err)
	}

	s := &Store{path: path, entries: doc.UnifiedOntology}
	s.rebuildIndexes()
	return s, nil
}

// Create writes an empty ontology document at path and returns its store.
func Create(path string) (*Store, error) {
	s := &Store{path: path}
	s.rebuildIndexes()
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the document from disk, replacing in-memory state.
func (s *Store) Reload() error {
	fresh, err := Open(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = fresh.entries
	s.byCanonical = fresh.byCanonical
	s.byVariation = fresh.byVariation
	s.byMetaType = fresh.byMetaType
	s.tagsByPfx = fresh.tagsByPfx
	return nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Count returns the number of entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// All returns every entry. The returned slice is a copy; the entries are
// shared and must not be mutated outside Update.
func (s *Store) All() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByMetaType returns entries with the given meta-type.
func (s *Store) ByMetaType(metaType string) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byMetaType[metaType]
	out := make([]*Entry, len(list))
	copy(out, list)
	return out
}

// LookupCanonical finds an entry by canonical name, case-insensitively.
func (s *Store) LookupCanonical(name string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byCanonical[foldKey(name)]
	return e, ok
}

// LookupVariation finds an entry by one of its alias strings.
func (s *Store) LookupVariation(name string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byVariation[foldKey(name)]
	return e, ok
}

// Stubs returns all auto-created or pending-review entries.
func (s *Store) Stubs() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.entries {
		if e.IsStub() {
			out = append(out, e)
		}
	}
	return out
}

// PendingStubs returns stubs still awaiting action: dismissed, merged, and
// completed entries are excluded.
func (s *Store) PendingStubs() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.entries {
		if !e.IsStub() {
			continue
		}
		switch e.Status {
		case StatusDismissed, StatusMerged, StatusCompleted:
			continue
		}
		out = append(out, e)
	}
	return out
}

// AllTags returns every full hierarchical tag in the ontology, sorted.
func (s *Store) AllTags() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, tags := range s.tagsByPfx {
		for t := range tags {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// TagCompletions returns the full tags reachable from a colon-separated
// prefix, sorted. An empty prefix returns all tags.
func (s *Store) TagCompletions(prefix string) []string {
	if prefix == "" {
		return s.AllTags()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags, ok := s.tagsByPfx[foldKey(prefix)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(tags))
	for t := range tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Add appends one entry, rebuilds indexes, and persists.
func (s *Store) Add(e *Entry) error {
	return s.AddBatch([]*Entry{e})
}

// AddBatch appends entries in one write. Entries whose canonical name is
// already present are skipped. An alias that already resolves to another
// live entry is an error; the store is left untouched.
func (s *Store) AddBatch(entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stagedCanonicals := make(map[string]bool)
	stagedAliases := make(map[string]string)
	var accepted []*Entry
	for _, e := range entries {
		if e.CanonicalName == "" {
			continue
		}
		key := foldKey(e.CanonicalName)
		if _, exists := s.byCanonical[key]; exists || stagedCanonicals[key] {
			continue
		}
		if !retired(e) {
			for _, v := range e.VariationsFound {
				vkey := foldKey(v)
				if vkey == "" {
					continue
				}
				if owner, taken := s.byVariation[vkey]; taken {
					return fmt.Errorf("%w: %q maps to %q and %q",
						biograph.ErrAliasConflict, v, owner.CanonicalName, e.CanonicalName)
				}
				if prev, taken := stagedAliases[vkey]; taken && prev != key {
					return fmt.Errorf("%w: %q claimed by %q and %q",
						biograph.ErrAliasConflict, v, prev, e.CanonicalName)
				}
				stagedAliases[vkey] = key
			}
		}
		stagedCanonicals[key] = true
		accepted = append(accepted, e)
	}

	for _, e := range accepted {
		normalizeEntry(e)
		s.entries = append(s.entries, e)
	}
	s.rebuildIndexes()
	return s.save()
}

// Update applies a patch function to the entry with the given canonical
// name, then rebuilds indexes and persists. The patch runs against a
// copy: an alias conflict with another live entry rejects the whole
// update and leaves the store unchanged.
func (s *Store) Update(canonical string, patch func(*Entry)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byCanonical[foldKey(canonical)]
	if !ok {
		return fmt.Errorf("%w: %s", biograph.ErrEntryNotFound, canonical)
	}

	candidate := *e
	candidate.VariationsFound = append([]string(nil), e.VariationsFound...)
	if e.UNOntology != nil {
		sub := *e.UNOntology
		candidate.UNOntology = &sub
	}
	if e.GovOntology != nil {
		sub := *e.GovOntology
		candidate.GovOntology = &sub
	}
	patch(&candidate)
	normalizeEntry(&candidate)

	if !retired(&candidate) {
		for _, v := range candidate.VariationsFound {
			vkey := foldKey(v)
			if vkey == "" {
				continue
			}
			if owner, taken := s.byVariation[vkey]; taken && owner != e {
				return fmt.Errorf("%w: %q already maps to %q",
					biograph.ErrAliasConflict, v, owner.CanonicalName)
			}
		}
	}

	*e = candidate
	s.rebuildIndexes()
	return s.save()
}

// Save persists the current document without modifying it.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func foldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeEntry fills derived fields: the all-paths prefix list of each
// sub-ontology tag.
func normalizeEntry(e *Entry) {
	if e.UNOntology != nil {
		e.UNOntology.AllPaths = tagPrefixPaths(e.UNOntology.HierarchicalTag)
	}
	if e.GovOntology != nil {
		e.GovOntology.AllPaths = tagPrefixPaths(e.GovOntology.HierarchicalTag)
	}
}

// tagPrefixPaths expands "a:b:c" into ["a", "a:b", "a:b:c"].
func tagPrefixPaths(tag string) []string {
	if tag == "" {
		return nil
	}
	parts := strings.Split(tag, ":")
	paths := make([]string, 0, len(parts))
	for i := range parts {
		paths = append(paths, strings.Join(parts[:i+1], ":"))
	}
	return paths
}

// rebuildIndexes recomputes all lookup maps from the entry list.
// Callers must hold the write lock.
func (s *Store) rebuildIndexes() {
	s.byCanonical = make(map[string]*Entry, len(s.entries))
	s.byVariation = make(map[string]*Entry)
	s.byMetaType = make(map[string][]*Entry)
	s.tagsByPfx = make(map[string]map[string]struct{})

	for _, e := range s.entries {
		s.byCanonical[foldKey(e.CanonicalName)] = e
		if !retired(e) {
			for _, v := range e.VariationsFound {
				key := foldKey(v)
				if key == "" {
					continue
				}
				if _, taken := s.byVariation[key]; !taken {
					s.byVariation[key] = e
				}
			}
		}
		s.byMetaType[e.MetaType] = append(s.byMetaType[e.MetaType], e)

		for _, sub := range []*SubOntology{e.UNOntology, e.GovOntology} {
			if sub == nil || sub.HierarchicalTag == "" {
				continue
			}
			for _, prefix := range tagPrefixPaths(sub.HierarchicalTag) {
				key := foldKey(prefix)
				if s.tagsByPfx[key] == nil {
					s.tagsByPfx[key] = make(map[string]struct{})
				}
				s.tagsByPfx[key][sub.HierarchicalTag] = struct{}{}
			}
		}
	}
}

// save writes the document atomically: temp file in the same directory,
// then rename over the target. Callers must hold the write lock.
func (s *Store) save() error {
	doc := document{UnifiedOntology: s.entries}
	if doc.UnifiedOntology == nil {
		doc.UnifiedOntology = []*Entry{}
	}
	data, err := json.MarshalIndent(map[string][]*Entry{rootKey: doc.UnifiedOntology}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ontology: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating ontology dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ontology_*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp ontology file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing ontology: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing ontology file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing ontology file: %w", err)
	}
	return nil
}
