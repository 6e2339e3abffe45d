package vrd

// NegativeOverlap is the overlap under which two boxes are taken as different objects when mining
// negatives.
const NegativeOverlap = 0.9

// NegativeRules mine the predicates a relation of a scene can not have, from the other relations
// of the same scene.
type NegativeRules struct {
	// Unshared predicates have a single subject per object: (S1, P, O) rules out (S2, P, O) for
	// another subject S2.
	Unshared map[int]bool
	// Exclusive predicates have a single object per subject: (S, P, O1) rules out (S, P, O2) for
	// another object O2.
	Exclusive map[int]bool
}

// Empty reports whether no predicate is covered by the rules.
func (r NegativeRules) Empty() bool {
	return len(r.Unshared) == 0 && len(r.Exclusive) == 0
}

// Mine returns, for each relation of scene in order, the predicate ids it is a negative for. An
// unshared relation (S1, P, O) makes P a negative of every relation (S2, Q, O) with Q != P whose
// subject S2 barely overlaps S1. Exclusive relations work the same way on objects.
func (r NegativeRules) Mine(scene Scene) [][]int {
	negatives := make([][]int, len(scene.Relations))
	for i := range negatives {
		negatives[i] = []int{}
	}

	for _, rel := range scene.Relations {
		switch {
		case r.Unshared[rel.PredicateID]:
			subject := scene.Objects[rel.Subject].BBox
			for i, other := range scene.Relations {
				if other.Object != rel.Object || other.Subject == rel.Subject || other.PredicateID == rel.PredicateID {
					continue
				}
				if scene.Objects[other.Subject].BBox.Overlap(subject) >= NegativeOverlap {
					continue
				}
				negatives[i] = append(negatives[i], rel.PredicateID)
			}
		case r.Exclusive[rel.PredicateID]:
			object := scene.Objects[rel.Object].BBox
			for i, other := range scene.Relations {
				if other.Subject != rel.Subject || other.Object == rel.Object || other.PredicateID == rel.PredicateID {
					continue
				}
				if scene.Objects[other.Object].BBox.Overlap(object) >= NegativeOverlap {
					continue
				}
				negatives[i] = append(negatives[i], rel.PredicateID)
			}
		}
	}

	return negatives
}
