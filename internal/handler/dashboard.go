package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"diary-bot/internal/logger"
	"diary-bot/internal/model"
	"diary-bot/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// DashboardHandler serves the read-only admin views over the diary store.
type DashboardHandler struct {
	participants *service.ParticipantService
	diary        *service.DiaryService
	sched        *service.Scheduler
}

func NewDashboardHandler(participants *service.ParticipantService, diary *service.DiaryService, sched *service.Scheduler) *DashboardHandler {
	return &DashboardHandler{participants: participants, diary: diary, sched: sched}
}

func (h *DashboardHandler) Participants(c *gin.Context) {
	parts, err := h.participants.ListActive(c.Request.Context())
	if err != nil {
		logger.Error("dashboard: participants failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": parts})
}

func (h *DashboardHandler) Entries(c *gin.Context) {
	pid, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant id"})
		return
	}
	entries, err := h.diary.EntriesForParticipant(c.Request.Context(), pid)
	if err != nil {
		logger.Error("dashboard: entries failed", "participant", pid, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Today reports, per active participant, how many messages arrived today
// and what the flushed entry says if the day is already compiled.
func (h *DashboardHandler) Today(c *gin.Context) {
	ctx := c.Request.Context()
	day := h.sched.Today()

	parts, err := h.participants.ListActive(ctx)
	if err != nil {
		logger.Error("dashboard: today failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}

	rows := make([]model.TodayRow, 0, len(parts))
	for _, p := range parts {
		row := model.TodayRow{ParticipantID: p.ID, DisplayName: p.DisplayName, ChatID: p.ChatID, Status: model.StatusPending}
		if n, err := h.diary.CountDay(ctx, p.ID, day); err == nil {
			row.MessageCount = n
		} else {
			logger.Error("dashboard: count failed", "participant", p.ID, "err", err)
		}
		if e, ok, err := h.diary.EntryFor(ctx, p.ID, day); err == nil && ok {
			row.Status = e.Status
		}
		rows = append(rows, row)
	}
	c.JSON(http.StatusOK, gin.H{"date": day, "rows": rows})
}

// Export streams every diary entry as one xlsx sheet.
func (h *DashboardHandler) Export(c *gin.Context) {
	rows, err := h.diary.ExportRows(c.Request.Context())
	if err != nil {
		logger.Error("dashboard: export failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage error"})
		return
	}

	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Diary"
	f.SetSheetName("Sheet1", sheet)

	header := []interface{}{"Participant", "Date", "Time", "Status", "Diary", "Synced"}
	f.SetSheetRow(sheet, "A1", &header)
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		f.SetCellStyle(sheet, "A1", "F1", style)
	}
	for i, r := range rows {
		cell := fmt.Sprintf("A%d", i+2)
		row := []interface{}{r.DisplayName, r.EntryDate, r.EntryTime, r.Status, r.FullText, r.Synced}
		f.SetSheetRow(sheet, cell, &row)
	}

	c.Header("Content-Disposition", `attachment; filename="diary-export.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		logger.Error("dashboard: export write failed", "err", err)
	}
}
