package vrd

import "sort"

// BackgroundPredicate names the predicate of an object pair without any annotated relationship.
// Its id is the length of the predicate vocabulary.
const BackgroundPredicate = "__background__"

// Relation links two objects of a Scene by their index in Scene.Objects.
type Relation struct {
	Subject     int
	Object      int
	PredicateID int
}

// Scene is the relationship graph of one image: its distinct objects, ordered left to right by
// box centre, and the relations between them.
type Scene struct {
	ImageID   string
	Split     string
	Objects   []Object
	Relations []Relation
}

// Scenes groups the records of split by image, in the order images first appear.
func Scenes(split DatasetSplit) []Scene {
	index := make(map[string]int)
	var grouped [][]RelationshipRecord
	for _, record := range split.Records {
		i, ok := index[record.ImageID]
		if !ok {
			i = len(grouped)
			index[record.ImageID] = i
			grouped = append(grouped, nil)
		}
		grouped[i] = append(grouped[i], record)
	}

	scenes := make([]Scene, 0, len(grouped))
	for _, records := range grouped {
		scenes = append(scenes, buildScene(split.Name, records))
	}

	return scenes
}

func buildScene(split string, records []RelationshipRecord) Scene {
	scene := Scene{ImageID: records[0].ImageID, Split: split}
	seen := make(map[Object]struct{})
	for _, r := range records {
		for _, obj := range []Object{r.Subject, r.Object} {
			if _, ok := seen[obj]; ok {
				continue
			}
			seen[obj] = struct{}{}
			scene.Objects = append(scene.Objects, obj)
		}
	}
	sort.SliceStable(scene.Objects, func(i, j int) bool {
		return lessObject(scene.Objects[i], scene.Objects[j])
	})

	position := make(map[Object]int, len(scene.Objects))
	for i, obj := range scene.Objects {
		position[obj] = i
	}
	scene.Relations = make([]Relation, 0, len(records))
	for _, r := range records {
		scene.Relations = append(scene.Relations, Relation{
			Subject:     position[r.Subject],
			Object:      position[r.Object],
			PredicateID: r.PredicateID,
		})
	}

	return scene
}

// lessObject orders by horizontal centre, ties broken on the remaining coordinates then category.
func lessObject(a, b Object) bool {
	if ca, cb := a.BBox.XMin+a.BBox.XMax, b.BBox.XMin+b.BBox.XMax; ca != cb {
		return ca < cb
	}
	if ca, cb := a.BBox.YMin+a.BBox.YMax, b.BBox.YMin+b.BBox.YMax; ca != cb {
		return ca < cb
	}
	if a.BBox.XMin != b.BBox.XMin {
		return a.BBox.XMin < b.BBox.XMin
	}
	if a.BBox.YMin != b.BBox.YMin {
		return a.BBox.YMin < b.BBox.YMin
	}

	return a.CategoryID < b.CategoryID
}

// PredCls returns a copy of scene in which every ordered pair of distinct objects carries at least
// one relation. Annotated relations are kept in pair order, a pair without any gets the background
// predicate id. Relations of an object with itself come last.
func PredCls(scene Scene, background int) Scene {
	type pair struct{ subject, object int }
	byPair := make(map[pair][]Relation)
	for _, rel := range scene.Relations {
		p := pair{rel.Subject, rel.Object}
		byPair[p] = append(byPair[p], rel)
	}

	out := Scene{ImageID: scene.ImageID, Split: scene.Split, Objects: scene.Objects}
	n := len(scene.Objects)
	out.Relations = make([]Relation, 0, n*(n-1)+len(scene.Relations))
	for s := 0; s < n; s++ {
		for o := 0; o < n; o++ {
			if s == o {
				continue
			}
			rels, ok := byPair[pair{s, o}]
			if !ok {
				out.Relations = append(out.Relations, Relation{Subject: s, Object: o, PredicateID: background})
				continue
			}
			out.Relations = append(out.Relations, rels...)
		}
	}
	for s := 0; s < n; s++ {
		out.Relations = append(out.Relations, byPair[pair{s, s}]...)
	}

	return out
}

// Records flattens the scene back to relationship records.
func (s Scene) Records() []RelationshipRecord {
	out := make([]RelationshipRecord, 0, len(s.Relations))
	for _, rel := range s.Relations {
		out = append(out, RelationshipRecord{
			ImageID:     s.ImageID,
			Subject:     s.Objects[rel.Subject],
			PredicateID: rel.PredicateID,
			Object:      s.Objects[rel.Object],
		})
	}

	return out
}
