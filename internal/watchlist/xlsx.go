package watchlist

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"limitwatch/internal/domain"
)

// XLSXFile is the grid layout saved as an Excel workbook. Only the first
// sheet is read.
type XLSXFile string

// Load implements Source.
func (x XLSXFile) Load(_ context.Context) ([]domain.ViewSpec, error) {
	f, err := excelize.OpenFile(string(x))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("reading grid: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	return parseGrid(rows)
}
