package service

import (
	"context"
	"fmt"
	"sync"

	"diary-bot/internal/logger"
	"diary-bot/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type participantKey struct {
	UserID int64
	ChatID int64
}

// ParticipantService owns the participant directory plus an in-memory index
// by (telegram user, chat). The index is rebuilt from storage at startup and
// updated on every registration, so the ingest path never hits the database
// for the lookup.
type ParticipantService struct {
	db    *gorm.DB
	mu    sync.RWMutex
	index map[participantKey]model.Participant
}

func NewParticipantService(db *gorm.DB) *ParticipantService {
	return &ParticipantService{db: db, index: make(map[participantKey]model.Participant)}
}

// LoadIndex rebuilds the lookup index from active participants. Must run
// before polling starts.
func (s *ParticipantService) LoadIndex(ctx context.Context) error {
	var parts []model.Participant
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&parts).Error; err != nil {
		return fmt.Errorf("load participants: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = make(map[participantKey]model.Participant, len(parts))
	for _, p := range parts {
		s.index[participantKey{p.TelegramUserID, p.ChatID}] = p
	}
	logger.Info("participant index loaded", "count", len(parts))
	return nil
}

func (s *ParticipantService) Lookup(userID, chatID int64) (model.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.index[participantKey{userID, chatID}]
	return p, ok
}

// Upsert registers a participant or reactivates and refreshes an existing
// one. Idempotent on the (user, chat) pair.
func (s *ParticipantService) Upsert(ctx context.Context, userID, chatID, adminID int64, displayName, tabName string) (model.Participant, error) {
	p := model.Participant{
		TelegramUserID: userID,
		ChatID:         chatID,
		AdminUserID:    adminID,
		DisplayName:    displayName,
		SheetTabName:   tabName,
		Active:         true,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "telegram_user_id"}, {Name: "chat_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"admin_user_id":  adminID,
			"display_name":   displayName,
			"sheet_tab_name": tabName,
			"active":         true,
		}),
	}).Create(&p).Error
	if err != nil {
		return model.Participant{}, fmt.Errorf("upsert participant: %w", err)
	}

	// Re-read so the cached copy carries the stored id and timestamps even
	// when the insert hit the conflict branch.
	var stored model.Participant
	err = s.db.WithContext(ctx).
		Where("telegram_user_id = ? AND chat_id = ?", userID, chatID).
		First(&stored).Error
	if err != nil {
		return model.Participant{}, fmt.Errorf("reload participant: %w", err)
	}

	s.mu.Lock()
	s.index[participantKey{userID, chatID}] = stored
	s.mu.Unlock()
	return stored, nil
}

// Deactivate soft-deletes a participant; historical entries stay.
func (s *ParticipantService) Deactivate(ctx context.Context, userID, chatID int64) error {
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("telegram_user_id = ? AND chat_id = ?", userID, chatID).
		Update("active", false).Error
	if err != nil {
		return fmt.Errorf("deactivate participant: %w", err)
	}

	s.mu.Lock()
	delete(s.index, participantKey{userID, chatID})
	s.mu.Unlock()
	return nil
}

func (s *ParticipantService) ListActive(ctx context.Context) ([]model.Participant, error) {
	var parts []model.Participant
	err := s.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&parts).Error
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return parts, nil
}

func (s *ParticipantService) ListActiveInChat(ctx context.Context, chatID int64) ([]model.Participant, error) {
	var parts []model.Participant
	err := s.db.WithContext(ctx).Where("active = ? AND chat_id = ?", true, chatID).Order("id").Find(&parts).Error
	if err != nil {
		return nil, fmt.Errorf("list chat participants: %w", err)
	}
	return parts, nil
}

func (s *ParticipantService) Get(ctx context.Context, id int64) (model.Participant, error) {
	var p model.Participant
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return model.Participant{}, fmt.Errorf("get participant %d: %w", id, err)
	}
	return p, nil
}
