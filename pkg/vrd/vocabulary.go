package vrd

// Vocabulary kinds.
const (
	KindObject    = "object"
	KindPredicate = "predicate"
)

// CategoryVocabulary maps category names to dense identifiers in first seen order.
// It grows until Freeze is called and is read-only afterwards. A vocabulary is not safe for
// concurrent mutation.
type CategoryVocabulary struct {
	kind   string
	ids    map[string]int
	names  []string
	frozen bool
}

// NewCategoryVocabulary returns an empty, open vocabulary.
func NewCategoryVocabulary(kind string) *CategoryVocabulary {
	return &CategoryVocabulary{
		kind: kind,
		ids:  make(map[string]int),
	}
}

// FrozenVocabulary returns a frozen vocabulary holding names, the position of a name being its id.
func FrozenVocabulary(kind string, names []string) *CategoryVocabulary {
	v := NewCategoryVocabulary(kind)
	for _, name := range names {
		if _, ok := v.ids[name]; ok {
			continue
		}
		v.ids[name] = len(v.names)
		v.names = append(v.names, name)
	}
	v.frozen = true

	return v
}

// Resolve returns the id of name, inserting it when the vocabulary is still open.
func (v *CategoryVocabulary) Resolve(name string) (int, error) {
	if id, ok := v.ids[name]; ok {
		return id, nil
	}
	if v.frozen {
		return 0, &UnknownCategoryError{Kind: v.kind, Name: name}
	}
	id := len(v.names)
	v.ids[name] = id
	v.names = append(v.names, name)

	return id, nil
}

// ID returns the id of name without inserting it.
func (v *CategoryVocabulary) ID(name string) (int, bool) {
	id, ok := v.ids[name]

	return id, ok
}

func (v *CategoryVocabulary) Len() int { return len(v.names) }

// Names returns a copy of the names ordered by id.
func (v *CategoryVocabulary) Names() []string {
	return append([]string(nil), v.names...)
}

// Freeze makes the vocabulary read-only.
func (v *CategoryVocabulary) Freeze() { v.frozen = true }

// Vocabulary holds the object and predicate vocabularies of a dataset.
type Vocabulary struct {
	Objects    *CategoryVocabulary
	Predicates *CategoryVocabulary
}

// NewVocabulary returns open object and predicate vocabularies.
func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		Objects:    NewCategoryVocabulary(KindObject),
		Predicates: NewCategoryVocabulary(KindPredicate),
	}
}

// Freeze freezes both vocabularies.
func (v *Vocabulary) Freeze() {
	v.Objects.Freeze()
	v.Predicates.Freeze()
}
