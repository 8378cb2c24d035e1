package handler

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"

	"gowa-sessions/internal/model"
)

const (
	exportPageSize = 500
	exportMaxRows  = 10000
)

// GET /api/sessions/:sessionId/messages/export?format=xlsx|csv
func (h *Handler) ExportMessages(c echo.Context) error {
	sessionID := c.Param("sessionId")
	format := c.QueryParam("format")
	if format == "" {
		format = "xlsx"
	}
	if format != "xlsx" && format != "csv" {
		return ErrorResponse(c, http.StatusBadRequest, "Query 'format' must be xlsx or csv", "VALIDATION_ERROR", "")
	}

	ctx := c.Request().Context()
	if _, err := h.svc.GetSession(ctx, sessionID); err != nil {
		return serviceError(c, err)
	}

	var all []model.Message
	for offset := 0; offset < exportMaxRows; offset += exportPageSize {
		page, err := h.svc.ListMessages(ctx, sessionID, exportPageSize, offset)
		if err != nil {
			return serviceError(c, err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	if format == "csv" {
		return exportCSV(c, sessionID, all)
	}
	return exportXLSX(c, sessionID, all)
}

var exportHeaders = []string{"No", "Timestamp", "Direction", "Remote JID", "Type", "Status", "Message ID", "Content"}

func exportRow(i int, m model.Message) []any {
	direction := "in"
	if m.FromMe {
		direction = "out"
	}
	return []any{i + 1, m.Timestamp.UTC().Format(time.RFC3339), direction, m.RemoteJID, m.MessageType, m.Status, m.MessageID, m.Content}
}

func exportXLSX(c echo.Context, sessionID string, msgs []model.Message) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Messages"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to create Excel sheet", "EXCEL_ERROR", err.Error())
	}

	for i, header := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, header)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	f.SetCellStyle(sheetName, "A1", "H1", headerStyle)

	for i, m := range msgs {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := exportRow(i, m)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return ErrorResponse(c, http.StatusInternalServerError, "Failed to write Excel row", "EXCEL_ERROR", err.Error())
		}
	}

	f.SetColWidth(sheetName, "A", "A", 6)
	f.SetColWidth(sheetName, "B", "B", 22)
	f.SetColWidth(sheetName, "C", "C", 10)
	f.SetColWidth(sheetName, "D", "D", 32)
	f.SetColWidth(sheetName, "E", "F", 12)
	f.SetColWidth(sheetName, "G", "G", 26)
	f.SetColWidth(sheetName, "H", "H", 60)

	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	c.Response().Header().Set(echo.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=messages_%s.xlsx", sessionID))
	c.Response().WriteHeader(http.StatusOK)
	return f.Write(c.Response().Writer)
}

func exportCSV(c echo.Context, sessionID string, msgs []model.Message) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=messages_%s.csv", sessionID))
	c.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(c.Response().Writer)
	if err := w.Write(exportHeaders); err != nil {
		return err
	}
	for i, m := range msgs {
		row := exportRow(i, m)
		rec := make([]string, len(row))
		for j, v := range row {
			rec[j] = fmt.Sprint(v)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
