package model

import "time"

// Diary entry statuses. "pending" is the placeholder a row carries before
// the daily flush compiles it; the retrier ignores pending rows.
const (
	StatusPending = "pending"
	StatusOnTime  = "on_time"
	StatusLate    = "late"
	StatusMissed  = "missed"
)

type Participant struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	TelegramUserID int64     `gorm:"uniqueIndex:uk_user_chat" json:"telegram_user_id"`
	ChatID         int64     `gorm:"uniqueIndex:uk_user_chat" json:"chat_id"`
	AdminUserID    int64     `json:"admin_user_id"`
	DisplayName    string    `json:"display_name"`
	SheetTabName   string    `json:"sheet_tab_name"`
	Active         bool      `gorm:"default:true" json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message is the staging buffer for one day of diary text. Day is stamped at
// ingest in the configured timezone so the flush query never depends on how
// the database stores CreatedAt.
type Message struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	ParticipantID int64     `gorm:"index:idx_messages_participant_day" json:"participant_id"`
	ChatID        int64     `json:"chat_id"`
	Day           string    `gorm:"index:idx_messages_participant_day" json:"day"`
	Text          string    `json:"text"`
	TelegramMsgID int64     `json:"telegram_msg_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type DiaryEntry struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	ParticipantID int64     `gorm:"uniqueIndex:uk_participant_date" json:"participant_id"`
	EntryDate     string    `gorm:"uniqueIndex:uk_participant_date" json:"entry_date"`
	EntryTime     string    `json:"entry_time"`
	Status        string    `gorm:"default:pending" json:"status"`
	FullText      string    `json:"full_text"`
	SyncKey       string    `json:"sync_key"`
	Synced        bool      `gorm:"index" json:"synced"`
	CreatedAt     time.Time `json:"created_at"`
}

// PendingEscalation survives a restart so an armed escalation is re-armed
// (or evaluated immediately when overdue) instead of silently lost.
type PendingEscalation struct {
	ID            int64  `gorm:"primaryKey"`
	ParticipantID int64  `gorm:"uniqueIndex:uk_escalation_day"`
	Day           string `gorm:"uniqueIndex:uk_escalation_day"`
	DueAt         time.Time
	CreatedAt     time.Time
}

func (Participant) TableName() string       { return "participants" }
func (Message) TableName() string           { return "messages" }
func (DiaryEntry) TableName() string        { return "diary_entries" }
func (PendingEscalation) TableName() string { return "pending_escalations" }
