package vrd

import "path/filepath"

// RejectReason explains why a raw relationship was not kept.
type RejectReason string

const (
	ReasonMalformedBox     RejectReason = "malformed_box"
	ReasonDegenerateBox    RejectReason = "degenerate_box"
	ReasonOutOfBounds      RejectReason = "out_of_bounds"
	ReasonMissingCategory  RejectReason = "missing_category"
	ReasonMissingPredicate RejectReason = "missing_predicate"
	// ReasonReservedPredicate is a source predicate named like the background predicate.
	ReasonReservedPredicate RejectReason = "reserved_predicate"
)

// RawObject is a subject or an object as found in the source.
type RawObject struct {
	Name string    `json:"name"`
	BBox []float64 `json:"bbox"`
}

// RawRelationship is one (subject, predicate, object) tuple as found in the source.
type RawRelationship struct {
	Subject   RawObject `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    RawObject `json:"object"`
}

// LocalFilename returns name when it is a file path local to the images directory, its last
// element when only that is, and an empty string otherwise.
func LocalFilename(name string) string {
	for _, candidate := range []string{name, filepath.Base(name)} {
		if clean := filepath.Clean(candidate); clean != "." && filepath.IsLocal(clean) {
			return clean
		}
	}

	return ""
}

// RawAnnotationRecord groups the raw relationships of one source image.
// Width and Height are zero when the source does not provide them. Filename is relative to the
// images directory.
type RawAnnotationRecord struct {
	ImageID       string
	Filename      string
	URL           string
	Width         int
	Height        int
	Split         string
	SHA256        string
	Layout        BoxLayout
	Relationships []RawRelationship
}

// Object is a categorised box.
type Object struct {
	CategoryID int `json:"category_id"`
	BBox       Box `json:"bbox"`
}

// RelationshipRecord is the canonical relationship schema.
type RelationshipRecord struct {
	ImageID     string `json:"image_id"`
	Subject     Object `json:"subject"`
	PredicateID int    `json:"predicate_id"`
	Object      Object `json:"object"`
}

// RejectedEntry records a raw relationship dropped by the normalizer.
type RejectedEntry struct {
	ImageID string          `json:"image_id"`
	Index   int             `json:"index"`
	Reason  RejectReason    `json:"reason"`
	Raw     RawRelationship `json:"raw"`
}
