package model

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type User struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// TodayRow is one dashboard line: how far a participant has gotten today.
type TodayRow struct {
	ParticipantID int64  `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	ChatID        int64  `json:"chat_id"`
	MessageCount  int64  `json:"message_count"`
	Status        string `json:"status"`
}

// ExportRow joins a diary entry with its participant for workbook export.
type ExportRow struct {
	DisplayName string `json:"display_name"`
	EntryDate   string `json:"entry_date"`
	EntryTime   string `json:"entry_time"`
	Status      string `json:"status"`
	FullText    string `json:"full_text"`
	Synced      bool   `json:"synced"`
}
