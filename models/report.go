package models

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

var productionReportHeaders = []string{
	"ID", "Recipe ID", "Quantity", "Batch Number", "Notes", "User", "Created At",
}

// ExportProductionHistoryXlsx renders the filtered production history as a
// spreadsheet. Paging limits do not apply here; the filter's date range keeps
// the result bounded.
func ExportProductionHistoryXlsx(ctx context.Context, filter ProductionFilter) (*excelize.File, error) {

	filter.Limit = maxPageSize
	filter.Offset = 0

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for col, header := range productionReportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, err
		}
	}

	row := 2
	for {
		productions, _, err := ListProductions(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, p := range productions {
			values := []interface{}{
				p.ID,
				p.RecipeId,
				p.Qty.String(),
				p.BatchNumber,
				p.Notes,
				p.UserName,
				p.CreatedAt.Format("2006-01-02 15:04:05"),
			}
			for col, v := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, row)
				if err != nil {
					return nil, err
				}
				if err := f.SetCellValue(sheet, cell, v); err != nil {
					return nil, err
				}
			}
			row++
		}
		if len(productions) < filter.Limit {
			break
		}
		filter.Offset += filter.Limit
	}

	if err := f.SetColWidth(sheet, "A", fmt.Sprintf("%c", 'A'+len(productionReportHeaders)-1), 18); err != nil {
		return nil, err
	}
	return f, nil
}
