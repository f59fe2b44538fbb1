package export

import (
	"fmt"
	"io"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"

	"github.com/xuri/excelize/v2"
)

// AlertSheet 告警导出工作表名称
const AlertSheet = "Alerts"

var alertHeader = []interface{}{
	"Alert ID", "Device ID", "Level", "PM2.5 (μg/m³)", "Latitude", "Longitude",
	"Opened At (UTC)", "Triggered At (UTC)", "Acknowledged", "Message",
}

// WriteAlertsXLSX 将告警快照写为 xlsx
func WriteAlertsXLSX(w io.Writer, alerts []models.Alert) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", AlertSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	// 表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetRow(AlertSheet, "A1", &alertHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(alertHeader), 1)
	if err := f.SetCellStyle(AlertSheet, "A1", lastHeader, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(AlertSheet, "A", "A", 38); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(AlertSheet, "B", "I", 18); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(AlertSheet, "J", "J", 48); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	for i, a := range alerts {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			a.ID,
			a.DeviceID,
			a.Level.String(),
			a.PM25Value,
			a.Location.Latitude,
			a.Location.Longitude,
			a.OpenedAt.UTC().Format("2006-01-02 15:04:05"),
			a.TriggeredAt.UTC().Format("2006-01-02 15:04:05"),
			yesNo(a.Acknowledged),
			a.Message,
		}
		if err := f.SetSheetRow(AlertSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(AlertSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
