package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"diary-bot/internal/config"
	"diary-bot/internal/logger"
	"diary-bot/internal/model"
)

// emptyPlaceholder stands in for a blank diary when a row is appended to
// the workbook, so a missed day is still visible there.
const emptyPlaceholder = "(empty)"

type escalationKey struct {
	ParticipantID int64
	Day           string
}

// escalation is the snapshot captured when a reminder goes unanswered. The
// durable counterpart is the pending_escalations row; the snapshot only
// drives the in-process timer.
type escalation struct {
	ParticipantID  int64
	ChatID         int64
	AdminUserID    int64
	TelegramUserID int64
	DisplayName    string
	Day            string
}

// Scheduler runs the four jobs of the diary pipeline: the daily reminder,
// per-participant escalations, the end-of-day flush and the sync retrier.
// Job failures are logged and never propagate; only startup wiring errors
// are fatal.
type Scheduler struct {
	participants *ParticipantService
	diary        *DiaryService
	gateway      SheetGateway
	notifier     Notifier
	clock        Clock
	loc          *time.Location
	cfg          config.ScheduleConfig

	// syncMu serializes workbook delivery so an overlapping flush and retry
	// never append the same entry twice.
	syncMu sync.Mutex

	timerMu sync.Mutex
	timers  map[escalationKey]*time.Timer

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(participants *ParticipantService, diary *DiaryService, gateway SheetGateway, notifier Notifier, clock Clock, cfg config.ScheduleConfig) (*Scheduler, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return &Scheduler{
		participants: participants,
		diary:        diary,
		gateway:      gateway,
		notifier:     notifier,
		clock:        clock,
		loc:          loc,
		cfg:          cfg,
		timers:       make(map[escalationKey]*time.Timer),
		stop:         make(chan struct{}),
	}, nil
}

func (s *Scheduler) Location() *time.Location { return s.loc }

// Today returns the current civil date in the configured timezone.
func (s *Scheduler) Today() string {
	return s.clock.Now().In(s.loc).Format("2006-01-02")
}

func (s *Scheduler) reminderHHMM() string {
	return fmt.Sprintf("%02d:%02d", s.cfg.ReminderHour, s.cfg.ReminderMinute)
}

// Start launches the three periodic loops. Escalation timers are armed by
// the reminder job and by RecoverEscalations.
func (s *Scheduler) Start() {
	s.wg.Add(3)
	go s.runDaily(s.cfg.ReminderHour, s.cfg.ReminderMinute, "reminder", s.RunReminders)
	go s.runDaily(s.cfg.FlushHour, s.cfg.FlushMinute, "flush", s.RunFlush)
	go s.runRetry()
	logger.Info("jobs scheduled",
		"reminder", s.reminderHHMM(),
		"flush", fmt.Sprintf("%02d:%02d", s.cfg.FlushHour, s.cfg.FlushMinute),
		"retry_minutes", s.cfg.RetryIntervalMinutes,
		"timezone", s.cfg.Timezone)
}

// Stop cancels future timers and waits for the job currently running to
// finish its participant, so no upsert is cut off mid-write.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.timerMu.Lock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.timerMu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) runDaily(hour, minute int, name string, job func(ctx context.Context)) {
	defer s.wg.Done()
	for {
		now := s.clock.Now().In(s.loc)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		t := time.NewTimer(next.Sub(now))
		select {
		case <-s.stop:
			t.Stop()
			return
		case <-t.C:
			logger.Info("daily job firing", "job", name)
			job(context.Background())
		}
	}
}

func (s *Scheduler) runRetry() {
	defer s.wg.Done()
	first := time.NewTimer(time.Duration(s.cfg.RetryInitialDelaySeconds) * time.Second)
	select {
	case <-s.stop:
		first.Stop()
		return
	case <-first.C:
	}

	ticker := time.NewTicker(time.Duration(s.cfg.RetryIntervalMinutes) * time.Minute)
	defer ticker.Stop()
	s.RunRetry(context.Background())
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.RunRetry(context.Background())
		}
	}
}

// RunReminders checks every active participant for a missing diary, nudges
// the chat and arms an escalation. One participant failing never stops the
// rest.
func (s *Scheduler) RunReminders(ctx context.Context) {
	day := s.Today()
	parts, err := s.participants.ListActive(ctx)
	if err != nil {
		logger.Error("reminder: list participants failed", "err", err)
		return
	}
	for _, p := range parts {
		if err := s.remind(ctx, p, day); err != nil {
			logger.Error("reminder failed", "participant", p.ID, "err", err)
		}
	}
}

func (s *Scheduler) remind(ctx context.Context, p model.Participant, day string) error {
	n, err := s.diary.CountDay(ctx, p.ID, day)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	text := fmt.Sprintf(s.cfg.ReminderTemplate, Mention(p.TelegramUserID, p.DisplayName))
	if err := s.notifier.Send(ctx, p.ChatID, text); err != nil {
		logger.Warn("reminder delivery failed", "participant", p.ID, "chat", p.ChatID, "err", err)
	}

	due := s.clock.Now().Add(time.Duration(s.cfg.EscalationDelayMinutes) * time.Minute)
	if err := s.diary.ArmEscalation(ctx, p.ID, day, due); err != nil {
		return err
	}
	s.armTimer(escalation{
		ParticipantID:  p.ID,
		ChatID:         p.ChatID,
		AdminUserID:    p.AdminUserID,
		TelegramUserID: p.TelegramUserID,
		DisplayName:    p.DisplayName,
		Day:            day,
	}, due.Sub(s.clock.Now()))
	return nil
}

func (s *Scheduler) armTimer(e escalation, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	key := escalationKey{e.ParticipantID, e.Day}
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	s.timers[key] = time.AfterFunc(delay, func() {
		s.timerMu.Lock()
		delete(s.timers, key)
		s.timerMu.Unlock()
		s.FireEscalation(context.Background(), e)
	})
}

// FireEscalation re-checks the captured day; a participant who wrote late
// gets no escalation. The durable row is cleared either way.
func (s *Scheduler) FireEscalation(ctx context.Context, e escalation) {
	n, err := s.diary.CountDay(ctx, e.ParticipantID, e.Day)
	if err != nil {
		// Leave the row for the startup sweep to evaluate again.
		logger.Error("escalation check failed", "participant", e.ParticipantID, "err", err)
		return
	}
	if n == 0 {
		text := fmt.Sprintf(s.cfg.EscalationTemplate,
			Mention(e.AdminUserID, "Admin"),
			Mention(e.TelegramUserID, e.DisplayName))
		if err := s.notifier.Send(ctx, e.ChatID, text); err != nil {
			logger.Warn("escalation delivery failed", "participant", e.ParticipantID, "chat", e.ChatID, "err", err)
		}
	}
	if err := s.diary.ClearEscalation(ctx, e.ParticipantID, e.Day); err != nil {
		logger.Error("escalation clear failed", "participant", e.ParticipantID, "err", err)
	}
}

// RecoverEscalations re-arms escalations that were pending when the process
// last stopped. Overdue ones are evaluated immediately.
func (s *Scheduler) RecoverEscalations(ctx context.Context) {
	rows, err := s.diary.PendingEscalations(ctx)
	if err != nil {
		logger.Error("escalation recovery failed", "err", err)
		return
	}
	for _, row := range rows {
		p, err := s.participants.Get(ctx, row.ParticipantID)
		if err != nil {
			logger.Warn("escalation recovery: participant gone, dropping", "participant", row.ParticipantID, "err", err)
			s.diary.ClearEscalation(ctx, row.ParticipantID, row.Day)
			continue
		}
		e := escalation{
			ParticipantID:  p.ID,
			ChatID:         p.ChatID,
			AdminUserID:    p.AdminUserID,
			TelegramUserID: p.TelegramUserID,
			DisplayName:    p.DisplayName,
			Day:            row.Day,
		}
		if delay := row.DueAt.Sub(s.clock.Now()); delay > 0 {
			s.armTimer(e, delay)
		} else {
			s.FireEscalation(ctx, e)
		}
	}
	if len(rows) > 0 {
		logger.Info("escalations recovered", "count", len(rows))
	}
}

// RunFlush compiles every active participant's day into a diary entry,
// delivers it and purges the staging messages. Each participant's sequence
// runs to completion before the next begins.
func (s *Scheduler) RunFlush(ctx context.Context) {
	day := s.Today()
	parts, err := s.participants.ListActive(ctx)
	if err != nil {
		logger.Error("flush: list participants failed", "err", err)
		return
	}
	for _, p := range parts {
		if err := s.flushParticipant(ctx, p, day); err != nil {
			logger.Error("flush failed", "participant", p.ID, "err", err)
		}
	}
}

func (s *Scheduler) flushParticipant(ctx context.Context, p model.Participant, day string) error {
	msgs, err := s.diary.DayMessages(ctx, p.ID, day)
	if err != nil {
		return err
	}

	entryTime, status, fullText := compileEntry(msgs, s.reminderHHMM(), s.loc)
	if len(msgs) == 0 {
		// A re-run after the purge must not demote an already compiled day
		// to missed; keep the compiled values and only reset the sync flag.
		if prev, ok, err := s.diary.EntryFor(ctx, p.ID, day); err != nil {
			return err
		} else if ok && prev.Status != model.StatusPending {
			entryTime, status, fullText = prev.EntryTime, prev.Status, prev.FullText
		}
	}
	entry, err := s.diary.UpsertEntry(ctx, p.ID, day, entryTime, status, fullText)
	if err != nil {
		return err
	}

	// Delivery failure is not an error here: the retrier owns redelivery.
	s.deliver(ctx, p.SheetTabName, entry)

	// Purge is unconditional. The entry row is now the durable record.
	return s.diary.PurgeDay(ctx, p.ID, day)
}

// compileEntry folds one day of messages into the entry fields. The tie at
// exactly the reminder time counts as late.
func compileEntry(msgs []model.Message, reminderHHMM string, loc *time.Location) (entryTime, status, fullText string) {
	if len(msgs) == 0 {
		return "", model.StatusMissed, ""
	}
	texts := make([]string, len(msgs))
	for i, m := range msgs {
		texts[i] = m.Text
	}
	fullText = strings.Join(texts, "\n\n")
	entryTime = msgs[0].CreatedAt.In(loc).Format("15:04")
	if entryTime < reminderHHMM {
		status = model.StatusOnTime
	} else {
		status = model.StatusLate
	}
	return entryTime, status, fullText
}

func (s *Scheduler) deliver(ctx context.Context, tab string, e model.DiaryEntry) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	text := e.FullText
	if text == "" {
		text = emptyPlaceholder
	}
	if err := s.gateway.EnsureTab(ctx, tab); err != nil {
		logger.Warn("sheet sync failed", "entry", e.ID, "tab", tab, "err", err)
		return
	}
	if err := s.gateway.AppendRow(ctx, tab, e.EntryDate, e.EntryTime, e.Status, text, e.SyncKey); err != nil {
		logger.Warn("sheet sync failed", "entry", e.ID, "tab", tab, "err", err)
		return
	}
	if err := s.diary.MarkSynced(ctx, e.ID); err != nil {
		logger.Error("mark synced failed", "entry", e.ID, "err", err)
	}
}

// RunRetry redelivers every compiled entry still owed to the workbook.
// With nothing eligible the gateway is not contacted at all. Retries are
// unbounded in count, spaced only by the interval.
func (s *Scheduler) RunRetry(ctx context.Context) {
	entries, err := s.diary.UnsyncedEntries(ctx)
	if err != nil {
		logger.Error("retry: load unsynced failed", "err", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	logger.Info("retrying sheet sync", "entries", len(entries))
	for _, e := range entries {
		s.deliver(ctx, e.SheetTabName, model.DiaryEntry{
			ID:        e.ID,
			EntryDate: e.EntryDate,
			EntryTime: e.EntryTime,
			Status:    e.Status,
			FullText:  e.FullText,
			SyncKey:   e.SyncKey,
		})
	}
}
