package forkmerge

import orbit "github.com/orbitkit/orbit-go"

type attrKey struct {
	id   orbit.Identity
	attr string
}

type relKey struct {
	id  orbit.Identity
	rel string
}

type edgeKey struct {
	id      orbit.Identity
	rel     string
	related orbit.Identity
}

// Coalesce folds ops left-to-right, collapsing redundant or annihilating
// pairs: repeated replaceAttribute on the same (id,attr) keeps only the
// last; addRecord followed by updateRecord on the same id merges into one
// addRecord; addRecord followed by removeRecord on the same id annihilates
// both; addToRelatedRecords followed by its matching
// removeFromRelatedRecords annihilates; replaceRelatedRecords (or
// replaceRelatedRecord) supersedes any prior add/remove/replace on the
// same (id,rel). The relative order of operations that are not collapsed
// is preserved.
func Coalesce(ops []orbit.Operation) []orbit.Operation {
	out := make([]orbit.Operation, 0, len(ops))
	discarded := make([]bool, 0, len(ops))

	addIdx := make(map[orbit.Identity]int)
	attrIdx := make(map[attrKey]int)
	edgeIdx := make(map[edgeKey]int)
	relIdx := make(map[relKey][]int)

	push := func(op orbit.Operation) int {
		out = append(out, op)
		discarded = append(discarded, false)
		return len(out) - 1
	}
	drop := func(idx int) { discarded[idx] = true }
	live := func(idx int, ok bool) bool { return ok && !discarded[idx] }

	for _, op := range ops {
		switch o := op.(type) {
		case orbit.ReplaceAttributeOp:
			k := attrKey{o.Identity, o.Attribute}
			if idx, ok := attrIdx[k]; live(idx, ok) {
				drop(idx)
			}
			attrIdx[k] = push(o)

		case orbit.AddRecordOp:
			id := o.Record.Identity()
			addIdx[id] = push(o)

		case orbit.UpdateRecordOp:
			id := o.Record.Identity()
			if idx, ok := addIdx[id]; live(idx, ok) {
				prior := out[idx].(orbit.AddRecordOp)
				merged := orbit.MergeRecord(prior.Record.Clone(), o.Record)
				out[idx] = orbit.AddRecordOp{Record: merged}
				continue
			}
			push(o)

		case orbit.RemoveRecordOp:
			if idx, ok := addIdx[o.Identity]; live(idx, ok) {
				drop(idx)
				delete(addIdx, o.Identity)
				continue
			}
			push(o)

		case orbit.AddToRelatedRecordsOp:
			k := edgeKey{o.Identity, o.Relationship, o.RelatedRecord}
			idx := push(o)
			edgeIdx[k] = idx
			rk := relKey{o.Identity, o.Relationship}
			relIdx[rk] = append(relIdx[rk], idx)

		case orbit.RemoveFromRelatedRecordsOp:
			k := edgeKey{o.Identity, o.Relationship, o.RelatedRecord}
			if idx, ok := edgeIdx[k]; live(idx, ok) {
				drop(idx)
				delete(edgeIdx, k)
				continue
			}
			idx := push(o)
			rk := relKey{o.Identity, o.Relationship}
			relIdx[rk] = append(relIdx[rk], idx)

		case orbit.ReplaceRelatedRecordsOp:
			k := relKey{o.Identity, o.Relationship}
			for _, idx := range relIdx[k] {
				drop(idx)
			}
			relIdx[k] = []int{push(o)}

		case orbit.ReplaceRelatedRecordOp:
			k := relKey{o.Identity, o.Relationship}
			for _, idx := range relIdx[k] {
				drop(idx)
			}
			relIdx[k] = []int{push(o)}

		default:
			push(op)
		}
	}

	result := make([]orbit.Operation, 0, len(out))
	for i, op := range out {
		if !discarded[i] {
			result = append(result, op)
		}
	}
	return result
}
