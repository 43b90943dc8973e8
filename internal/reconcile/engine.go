// Package reconcile computes which archive studies are absent from the local store.
package reconcile

import (
	"sort"

	"github.com/hyperengineering/studysync/internal/types"
)

// Result is the outcome of one reconciliation pass.
type Result struct {
	Catalog    []types.CatalogEntry
	Local      []types.LocalEntry
	Missing    []types.CatalogEntry
	Mismatches []types.CountMismatch
}

// Engine deduplicates remote records and diffs them against local records.
// It holds no state between calls.
type Engine struct {
	normalizer Normalizer
}

// NewEngine creates an Engine using the given normalizer.
func NewEngine(n Normalizer) *Engine {
	return &Engine{normalizer: n}
}

// BuildCatalog normalizes raw remote records and groups them by identity,
// counting how many raw records collapsed into each entry.
func (e *Engine) BuildCatalog(raw []types.RawIdentity) []types.CatalogEntry {
	counts := make(map[types.Identity]int64, len(raw))
	for _, r := range raw {
		counts[e.normalizer.Identity(r)]++
	}

	catalog := make([]types.CatalogEntry, 0, len(counts))
	for id, n := range counts {
		catalog = append(catalog, types.CatalogEntry{Identity: id, OccurrenceCount: n})
	}
	sortCatalog(catalog)
	return catalog
}

// BuildLocal normalizes local records. Rows whose identities collapse after
// normalization have their counts summed.
func (e *Engine) BuildLocal(records []types.LocalRecord) []types.LocalEntry {
	counts := make(map[types.Identity]int64, len(records))
	for _, r := range records {
		counts[e.normalizer.Identity(r.Raw)] += r.Count
	}

	local := make([]types.LocalEntry, 0, len(counts))
	for id, n := range counts {
		local = append(local, types.LocalEntry{Identity: id, OccurrenceCount: n})
	}
	sort.Slice(local, func(i, j int) bool {
		return less(local[i].Identity, local[j].Identity)
	})
	return local
}

// Diff returns the catalog entries whose identity is absent locally. Entries
// present on both sides with differing counts are returned as mismatches and
// are not part of the missing set.
func Diff(catalog []types.CatalogEntry, local []types.LocalEntry) (missing []types.CatalogEntry, mismatches []types.CountMismatch) {
	index := make(map[types.Identity]int64, len(local))
	for _, l := range local {
		index[l.Identity] = l.OccurrenceCount
	}

	for _, c := range catalog {
		n, ok := index[c.Identity]
		if !ok {
			missing = append(missing, c)
			continue
		}
		if n != c.OccurrenceCount {
			mismatches = append(mismatches, types.CountMismatch{
				Identity:    c.Identity,
				RemoteCount: c.OccurrenceCount,
				LocalCount:  n,
			})
		}
	}
	sortCatalog(missing)
	return missing, mismatches
}

// Reconcile runs the full pass: normalize both sides, group remote records,
// and diff. It is pure; the same inputs always yield the same Result.
func (e *Engine) Reconcile(remote []types.RawIdentity, local []types.LocalRecord) Result {
	catalog := e.BuildCatalog(remote)
	localEntries := e.BuildLocal(local)
	missing, mismatches := Diff(catalog, localEntries)
	return Result{
		Catalog:    catalog,
		Local:      localEntries,
		Missing:    missing,
		Mismatches: mismatches,
	}
}

func sortCatalog(entries []types.CatalogEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return less(entries[i].Identity, entries[j].Identity)
	})
}

// less orders by study date, then subject name, then subject ID, matching the
// store's ORDER BY.
func less(a, b types.Identity) bool {
	if a.StudyDate != b.StudyDate {
		return a.StudyDate < b.StudyDate
	}
	if a.SubjectName != b.SubjectName {
		return a.SubjectName < b.SubjectName
	}
	return a.SubjectID < b.SubjectID
}
