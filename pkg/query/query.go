// Package query evaluates query expressions against a record store:
// findRecord, findRecords, findRelatedRecord, and findRelatedRecords,
// each optionally refined by filter, sort, and page terms.
package query

import (
	"sort"

	orbit "github.com/orbitkit/orbit-go"
)

// Store is the read surface a query evaluates against. Both the in-memory
// cache and a durable backing-store adapter satisfy it.
type Store interface {
	GetRecordSync(id orbit.Identity) (*orbit.Record, bool)
	RecordsSync(typ string) []*orbit.Record
}

// FilterOp names a comparison applied to one attribute.
type FilterOp string

const (
	Equal FilterOp = "equal"
	GT    FilterOp = "gt"
	GTE   FilterOp = "gte"
	LT    FilterOp = "lt"
	LTE   FilterOp = "lte"
	Match FilterOp = "match" // substring match against a string attribute
)

// FilterSpec is one filter term, ANDed with the others on a query.
type FilterSpec struct {
	Attribute string
	Op        FilterOp
	Value     any
}

// SortSpec is one sort term; earlier terms in a query's Sorts take priority.
type SortSpec struct {
	Field      string
	Descending bool
}

// PageSpec slices a result set after filtering and sorting.
type PageSpec struct {
	Offset int
	Limit  int // 0 means unlimited
}

// Kind names which expression a Query evaluates.
type Kind int

const (
	FindRecord Kind = iota
	FindRecords
	FindRelatedRecord
	FindRelatedRecords
)

// Query is one query expression, optionally refined by filter/sort/page.
type Query struct {
	Kind Kind

	// FindRecord / FindRelatedRecord / FindRelatedRecords target this identity.
	Identity orbit.Identity

	// FindRecords by type or by explicit id list; with both unset it
	// returns no records.
	Type string
	IDs  []orbit.Identity

	// FindRelatedRecord / FindRelatedRecords read this relationship off Identity.
	Relationship string

	Filters []FilterSpec
	Sorts   []SortSpec
	Page    *PageSpec

	// RaiseNotFoundExceptions defaults to true; set to a false pointer to
	// make findRecord return (nil, nil) instead of RecordNotFoundError.
	RaiseNotFoundExceptions *bool
}

func (q Query) raisesNotFound() bool {
	return q.RaiseNotFoundExceptions == nil || *q.RaiseNotFoundExceptions
}

// Evaluate runs q against store. The result is *orbit.Record for
// FindRecord/FindRelatedRecord (possibly nil), or []*orbit.Record for
// FindRecords/FindRelatedRecords.
func Evaluate(store Store, q Query) (any, error) {
	switch q.Kind {
	case FindRecord:
		rec, ok := store.GetRecordSync(q.Identity)
		if !ok {
			if q.raisesNotFound() {
				return nil, &orbit.RecordNotFoundError{Identity: q.Identity}
			}
			return nil, nil
		}
		return rec, nil

	case FindRecords:
		var records []*orbit.Record
		switch {
		case len(q.IDs) > 0:
			for _, id := range q.IDs {
				if rec, ok := store.GetRecordSync(id); ok {
					records = append(records, rec)
				}
				// Unknown identities in findRecords([...]) are silently dropped.
			}
		case q.Type != "":
			records = store.RecordsSync(q.Type)
		}
		return refine(records, q), nil

	case FindRelatedRecord:
		base, ok := store.GetRecordSync(q.Identity)
		if !ok {
			if q.raisesNotFound() {
				return nil, &orbit.RecordNotFoundError{Identity: q.Identity}
			}
			return nil, nil
		}
		data := base.Relationships[q.Relationship]
		if data == nil || !data.Present || data.ToOneID == nil {
			return nil, nil
		}
		rec, ok := store.GetRecordSync(*data.ToOneID)
		if !ok {
			return nil, nil
		}
		return rec, nil

	case FindRelatedRecords:
		base, ok := store.GetRecordSync(q.Identity)
		if !ok {
			if q.raisesNotFound() {
				return nil, &orbit.RecordNotFoundError{Identity: q.Identity}
			}
			return nil, nil
		}
		data := base.Relationships[q.Relationship]
		if data == nil || !data.Present || data.ToMany == nil {
			return []*orbit.Record{}, nil
		}
		var records []*orbit.Record
		for _, id := range data.ToMany.Slice() {
			if rec, ok := store.GetRecordSync(id); ok {
				records = append(records, rec)
			}
		}
		return refine(records, q), nil

	default:
		return nil, &orbit.AssertionError{Message: "query: unknown expression kind"}
	}
}

func refine(records []*orbit.Record, q Query) []*orbit.Record {
	records = applyFilters(records, q.Filters)
	records = applySort(records, q.Sorts)
	records = applyPage(records, q.Page)
	return records
}

func applyFilters(records []*orbit.Record, filters []FilterSpec) []*orbit.Record {
	if len(filters) == 0 {
		return records
	}
	out := make([]*orbit.Record, 0, len(records))
	for _, rec := range records {
		if matchesAll(rec, filters) {
			out = append(out, rec)
		}
	}
	return out
}

func matchesAll(rec *orbit.Record, filters []FilterSpec) bool {
	for _, f := range filters {
		if !matches(rec.Attributes[f.Attribute], f) {
			return false
		}
	}
	return true
}

func matches(actual any, f FilterSpec) bool {
	switch f.Op {
	case Equal:
		return actual == f.Value
	case Match:
		a, aok := actual.(string)
		v, vok := f.Value.(string)
		return aok && vok && contains(a, v)
	default:
		af, aok := toFloat(actual)
		vf, vok := toFloat(f.Value)
		if !aok || !vok {
			return false
		}
		switch f.Op {
		case GT:
			return af > vf
		case GTE:
			return af >= vf
		case LT:
			return af < vf
		case LTE:
			return af <= vf
		}
		return false
	}
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func applySort(records []*orbit.Record, sorts []SortSpec) []*orbit.Record {
	if len(sorts) == 0 {
		return records
	}
	out := make([]*orbit.Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		for _, s := range sorts {
			ai, aj := out[i].Attributes[s.Field], out[j].Attributes[s.Field]
			if ai == aj {
				continue
			}
			af, aok := toFloat(ai)
			bf, bok := toFloat(aj)
			var less bool
			if aok && bok {
				less = af < bf
			} else {
				less = toString(ai) < toString(aj)
			}
			if s.Descending {
				return !less
			}
			return less
		}
		return false
	})
	return out
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func applyPage(records []*orbit.Record, page *PageSpec) []*orbit.Record {
	if page == nil {
		return records
	}
	if page.Offset >= len(records) {
		return []*orbit.Record{}
	}
	end := len(records)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}
	return records[page.Offset:end]
}
