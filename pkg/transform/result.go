package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/askiada/vrdprep/pkg/vrd"
)

// Result summarizes one transform run.
type Result struct {
	Dataset string
	State   State
	// FailedIn is the state the run was in when it failed.
	FailedIn State
	Err      error
	History  []Transition

	Images          int
	RecordsKept     int
	RecordsRejected int
	Duplicates      int
	Rejections      map[vrd.RejectReason]int
	Rejected        []vrd.RejectedEntry

	TrainRecords int
	TrainImages  int
	TestRecords  int
	TestImages   int
	// PredClsPairs is the number of lines of the predcls file.
	PredClsPairs int

	ImagesFetched int
	ImagesFailed  int
	ImagesSkipped int

	Files []string
}

func newResult(dataset string) *Result {
	return &Result{
		Dataset:    dataset,
		State:      StateIdle,
		Rejections: map[vrd.RejectReason]int{},
	}
}

func (r *Result) reject(entries []vrd.RejectedEntry) {
	for _, e := range entries {
		r.Rejections[e.Reason]++
	}
	r.RecordsRejected += len(entries)
	r.Rejected = append(r.Rejected, entries...)
}

// Reasons returns the rejection reasons sorted by name.
func (r *Result) Reasons() []vrd.RejectReason {
	reasons := make([]vrd.RejectReason, 0, len(r.Rejections))
	for reason := range r.Rejections {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })

	return reasons
}

// StatusLine is the one line summary printed for the dataset.
func (r *Result) StatusLine() string {
	if r.State == StateFailed {
		return fmt.Sprintf("%s: failed while %s: %v", r.Dataset, r.FailedIn, r.Err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s, records kept %d, rejected %d", r.Dataset, r.State, r.RecordsKept, r.RecordsRejected)
	if len(r.Rejections) > 0 {
		parts := make([]string, 0, len(r.Rejections))
		for _, reason := range r.Reasons() {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, r.Rejections[reason]))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, ", duplicates %d, train %d/%d, test %d/%d, images fetched %d, failed %d, skipped %d",
		r.Duplicates, r.TrainRecords, r.TrainImages, r.TestRecords, r.TestImages,
		r.ImagesFetched, r.ImagesFailed, r.ImagesSkipped)

	return b.String()
}
