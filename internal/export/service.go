package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// UsageRow is one user's line in the usage report.
type UsageRow struct {
	UserID     uint64
	Email      string
	Role       string
	DailyQuota int
	UsedToday  int64
	CreatedAt  time.Time
}

// UsageWorkbook renders the per-user usage report as XLSX bytes.
func UsageWorkbook(rows []UsageRow) ([]byte, error) {
	f := excelize.NewFile()
	const sheet = "Usage"

	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}

	headers := []string{"User ID", "Email", "Role", "Daily Quota", "Documents Today", "Registered"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}

	for r, row := range rows {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, r+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, row.UserID)
		write(2, row.Email)
		write(3, row.Role)
		write(4, row.DailyQuota)
		write(5, row.UsedToday)
		write(6, row.CreatedAt.Format("2006-01-02"))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
