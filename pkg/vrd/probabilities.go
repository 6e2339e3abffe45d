package vrd

// RelationshipProbabilities estimates P(predicate | subject category, object category) from scenes
// with Laplace smoothing. Each (subject object, object object, predicate) triplet of a scene counts
// once, so object pairs carrying the background predicate feed the last column when scenes went
// through PredCls. The result is indexed [subject][object][predicate] and has numPredicates+1
// columns.
func RelationshipProbabilities(scenes []Scene, numObjects, numPredicates int) [][][]float64 {
	width := numPredicates + 1
	probs := make([][][]float64, numObjects)
	for s := range probs {
		probs[s] = make([][]float64, numObjects)
		for o := range probs[s] {
			row := make([]float64, width)
			for p := range row {
				row[p] = 1
			}
			probs[s][o] = row
		}
	}

	for _, scene := range scenes {
		seen := make(map[Relation]struct{}, len(scene.Relations))
		for _, rel := range scene.Relations {
			if _, ok := seen[rel]; ok {
				continue
			}
			seen[rel] = struct{}{}
			subject := scene.Objects[rel.Subject].CategoryID
			object := scene.Objects[rel.Object].CategoryID
			if subject >= numObjects || object >= numObjects || rel.PredicateID >= width {
				continue
			}
			probs[subject][object][rel.PredicateID]++
		}
	}

	for s := range probs {
		for o := range probs[s] {
			var sum float64
			for _, c := range probs[s][o] {
				sum += c
			}
			for p := range probs[s][o] {
				probs[s][o][p] /= sum
			}
		}
	}

	return probs
}
