package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"diary-bot/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DiaryService persists raw messages and compiled diary entries. Messages
// are a staging buffer; the entry row is the durable record and the sync
// outbox (Synced=false means "still owed to the workbook").
type DiaryService struct {
	db *gorm.DB
}

func NewDiaryService(db *gorm.DB) *DiaryService { return &DiaryService{db: db} }

func (s *DiaryService) SaveMessage(ctx context.Context, participantID, chatID int64, day, text string, telegramMsgID int64) error {
	m := model.Message{
		ParticipantID: participantID,
		ChatID:        chatID,
		Day:           day,
		Text:          text,
		TelegramMsgID: telegramMsgID,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *DiaryService) CountDay(ctx context.Context, participantID int64, day string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("participant_id = ? AND day = ?", participantID, day).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *DiaryService) DayMessages(ctx context.Context, participantID int64, day string) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("participant_id = ? AND day = ?", participantID, day).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return msgs, nil
}

// PurgeDay drops a participant's raw messages for a day. Called after the
// flush has upserted the entry, whether or not delivery succeeded.
func (s *DiaryService) PurgeDay(ctx context.Context, participantID int64, day string) error {
	err := s.db.WithContext(ctx).
		Where("participant_id = ? AND day = ?", participantID, day).
		Delete(&model.Message{}).Error
	if err != nil {
		return fmt.Errorf("purge messages: %w", err)
	}
	return nil
}

// UpsertEntry writes the compiled entry for (participant, day). A re-flush
// overwrites the previous compilation, resets Synced and assigns a fresh
// sync key so the edited row is delivered again.
func (s *DiaryService) UpsertEntry(ctx context.Context, participantID int64, entryDate, entryTime, status, fullText string) (model.DiaryEntry, error) {
	e := model.DiaryEntry{
		ParticipantID: participantID,
		EntryDate:     entryDate,
		EntryTime:     entryTime,
		Status:        status,
		FullText:      fullText,
		SyncKey:       uuid.New().String(),
		Synced:        false,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "participant_id"}, {Name: "entry_date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"entry_time": entryTime,
			"status":     status,
			"full_text":  fullText,
			"sync_key":   e.SyncKey,
			"synced":     false,
		}),
	}).Create(&e).Error
	if err != nil {
		return model.DiaryEntry{}, fmt.Errorf("upsert entry: %w", err)
	}

	var stored model.DiaryEntry
	err = s.db.WithContext(ctx).
		Where("participant_id = ? AND entry_date = ?", participantID, entryDate).
		First(&stored).Error
	if err != nil {
		return model.DiaryEntry{}, fmt.Errorf("reload entry: %w", err)
	}
	return stored, nil
}

func (s *DiaryService) MarkSynced(ctx context.Context, entryID int64) error {
	err := s.db.WithContext(ctx).Model(&model.DiaryEntry{}).
		Where("id = ?", entryID).
		Update("synced", true).Error
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// UnsyncedEntry carries the tab name along so the retrier does not need a
// second lookup per entry.
type UnsyncedEntry struct {
	ID            int64
	ParticipantID int64
	EntryDate     string
	EntryTime     string
	Status        string
	FullText      string
	SyncKey       string
	SheetTabName  string
	DisplayName   string
}

// UnsyncedEntries returns compiled entries still owed to the workbook.
// Pending rows have not been flushed yet and are skipped.
func (s *DiaryService) UnsyncedEntries(ctx context.Context) ([]UnsyncedEntry, error) {
	var rows []UnsyncedEntry
	err := s.db.WithContext(ctx).
		Table("diary_entries").
		Select("diary_entries.id, diary_entries.participant_id, diary_entries.entry_date, diary_entries.entry_time, diary_entries.status, diary_entries.full_text, diary_entries.sync_key, participants.sheet_tab_name, participants.display_name").
		Joins("JOIN participants ON participants.id = diary_entries.participant_id").
		Where("diary_entries.synced = ? AND diary_entries.status <> ?", false, model.StatusPending).
		Order("diary_entries.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load unsynced entries: %w", err)
	}
	return rows, nil
}

func (s *DiaryService) EntryFor(ctx context.Context, participantID int64, day string) (model.DiaryEntry, bool, error) {
	var e model.DiaryEntry
	err := s.db.WithContext(ctx).
		Where("participant_id = ? AND entry_date = ?", participantID, day).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.DiaryEntry{}, false, nil
	}
	if err != nil {
		return model.DiaryEntry{}, false, fmt.Errorf("load entry: %w", err)
	}
	return e, true, nil
}

func (s *DiaryService) EntriesForParticipant(ctx context.Context, participantID int64) ([]model.DiaryEntry, error) {
	var entries []model.DiaryEntry
	err := s.db.WithContext(ctx).
		Where("participant_id = ?", participantID).
		Order("entry_date DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	return entries, nil
}

func (s *DiaryService) ExportRows(ctx context.Context) ([]model.ExportRow, error) {
	var rows []model.ExportRow
	err := s.db.WithContext(ctx).
		Table("diary_entries").
		Select("participants.display_name, diary_entries.entry_date, diary_entries.entry_time, diary_entries.status, diary_entries.full_text, diary_entries.synced").
		Joins("JOIN participants ON participants.id = diary_entries.participant_id").
		Order("diary_entries.entry_date, participants.display_name").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("export entries: %w", err)
	}
	return rows, nil
}

// --- pending escalations ---

func (s *DiaryService) ArmEscalation(ctx context.Context, participantID int64, day string, dueAt time.Time) error {
	row := model.PendingEscalation{ParticipantID: participantID, Day: day, DueAt: dueAt}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"due_at": dueAt}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("arm escalation: %w", err)
	}
	return nil
}

func (s *DiaryService) ClearEscalation(ctx context.Context, participantID int64, day string) error {
	err := s.db.WithContext(ctx).
		Where("participant_id = ? AND day = ?", participantID, day).
		Delete(&model.PendingEscalation{}).Error
	if err != nil {
		return fmt.Errorf("clear escalation: %w", err)
	}
	return nil
}

func (s *DiaryService) PendingEscalations(ctx context.Context) ([]model.PendingEscalation, error) {
	var rows []model.PendingEscalation
	if err := s.db.WithContext(ctx).Order("due_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load pending escalations: %w", err)
	}
	return rows, nil
}
