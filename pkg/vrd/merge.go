package vrd

import "sort"

// CategoryPair is an ordered (subject category, object category) pair.
type CategoryPair struct {
	Subject int `json:"subject_category_id"`
	Object  int `json:"object_category_id"`
}

// PredicateMerge lists, for one category pair, the merged id of every predicate id.
type PredicateMerge struct {
	CategoryPair
	MergedIDs []int `json:"merged_ids"`
}

// PredicateMerges groups predicates annotated on the same object pair. Within a category pair, two
// predicates are synonyms when some object pair carries both, and synonymy is transitive. Each
// predicate maps to the smallest id of its synonym group.
type PredicateMerges map[CategoryPair][]int

// MergePredicates computes the synonym groups of the numPredicates predicate ids over scenes.
// Only category pairs that carry a relation are present.
func MergePredicates(scenes []Scene, numPredicates int) PredicateMerges {
	parents := make(map[CategoryPair][]int)
	for _, scene := range scenes {
		type pair struct{ subject, object int }
		first := make(map[pair]int)
		for _, rel := range scene.Relations {
			if rel.PredicateID < 0 || rel.PredicateID >= numPredicates {
				continue
			}
			cats := CategoryPair{
				Subject: scene.Objects[rel.Subject].CategoryID,
				Object:  scene.Objects[rel.Object].CategoryID,
			}
			parent, ok := parents[cats]
			if !ok {
				parent = make([]int, numPredicates)
				for i := range parent {
					parent[i] = i
				}
				parents[cats] = parent
			}
			p := pair{rel.Subject, rel.Object}
			if id, ok := first[p]; ok {
				union(parent, id, rel.PredicateID)
				continue
			}
			first[p] = rel.PredicateID
		}
	}

	merges := make(PredicateMerges, len(parents))
	for cats, parent := range parents {
		merged := make([]int, numPredicates)
		for i := range merged {
			merged[i] = find(parent, i)
		}
		merges[cats] = merged
	}

	return merges
}

// union links the groups of a and b under the smaller root, so a root is always the smallest id of
// its group.
func union(parent []int, a, b int) {
	ra, rb := find(parent, a), find(parent, b)
	switch {
	case ra < rb:
		parent[rb] = ra
	case rb < ra:
		parent[ra] = rb
	}
}

func find(parent []int, i int) int {
	for parent[i] != i {
		parent[i] = parent[parent[i]]
		i = parent[i]
	}

	return i
}

// Merged returns the merged id of predicate for the category pair, predicate itself when the pair
// has no group.
func (m PredicateMerges) Merged(pair CategoryPair, predicate int) int {
	merged, ok := m[pair]
	if !ok || predicate < 0 || predicate >= len(merged) {
		return predicate
	}

	return merged[predicate]
}

// Entries returns the merges ordered by subject then object category.
func (m PredicateMerges) Entries() []PredicateMerge {
	out := make([]PredicateMerge, 0, len(m))
	for pair, merged := range m {
		out = append(out, PredicateMerge{CategoryPair: pair, MergedIDs: merged})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}

		return out[i].Object < out[j].Object
	})

	return out
}
