// Package report writes the outcome of a run as a spreadsheet.
package report

import (
	"io"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/askiada/vrdprep/internal/fileutil"
	"github.com/askiada/vrdprep/pkg/transform"
)

// Sheet names.
const (
	SummarySheet    = "summary"
	RejectionsSheet = "rejections"
)

var (
	summaryHeader = []any{
		"dataset", "state", "failed_in", "error", "images", "records_kept", "records_rejected", "duplicates",
		"train_records", "train_images", "test_records", "test_images", "predcls_pairs",
		"images_fetched", "images_failed", "images_skipped",
	}
	rejectionsHeader = []any{"dataset", "image_id", "index", "reason", "subject", "predicate", "object"}
)

// WriteXLSX writes one summary row per result and one row per rejected relationship to path.
func WriteXLSX(path string, results []*transform.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		return errors.Wrap(err, "unable to name summary sheet")
	}
	if _, err := f.NewSheet(RejectionsSheet); err != nil {
		return errors.Wrap(err, "unable to add rejections sheet")
	}

	summary := &sheet{file: f, name: SummarySheet}
	rejections := &sheet{file: f, name: RejectionsSheet}
	summary.add(summaryHeader)
	rejections.add(rejectionsHeader)

	for _, res := range results {
		if res == nil {
			continue
		}
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		summary.add([]any{
			res.Dataset, string(res.State), string(res.FailedIn), errText,
			res.Images, res.RecordsKept, res.RecordsRejected, res.Duplicates,
			res.TrainRecords, res.TrainImages, res.TestRecords, res.TestImages, res.PredClsPairs,
			res.ImagesFetched, res.ImagesFailed, res.ImagesSkipped,
		})
		for _, rej := range res.Rejected {
			rejections.add([]any{
				res.Dataset, rej.ImageID, rej.Index, string(rej.Reason),
				rej.Raw.Subject.Name, rej.Raw.Predicate, rej.Raw.Object.Name,
			})
		}
	}
	if summary.err != nil {
		return summary.err
	}
	if rejections.err != nil {
		return rejections.err
	}

	return fileutil.WriteAtomic(path, func(w io.Writer) error {
		if err := f.Write(w); err != nil {
			return errors.Wrap(err, "unable to encode workbook")
		}

		return nil
	})
}

// sheet appends rows and keeps the first error.
type sheet struct {
	file *excelize.File
	name string
	row  int
	err  error
}

func (s *sheet) add(values []any) {
	if s.err != nil {
		return
	}
	s.row++
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		s.err = errors.Wrapf(err, "sheet %s row %d", s.name, s.row)
		return
	}
	if err := s.file.SetSheetRow(s.name, cell, &values); err != nil {
		s.err = errors.Wrapf(err, "sheet %s row %d", s.name, s.row)
	}
}
