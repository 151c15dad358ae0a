package telegram

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"diary-bot/internal/logger"
	"diary-bot/internal/service"
)

var tabNameRe = regexp.MustCompile(`[^\p{L}\p{N}\s-]`)

// sanitizeTabName makes a workbook-safe tab name; the caller appends the
// user id so two participants with the same name get distinct tabs.
func sanitizeTabName(name string) string {
	name = strings.TrimSpace(tabNameRe.ReplaceAllString(name, ""))
	if len([]rune(name)) > 80 {
		name = string([]rune(name)[:80])
	}
	if name == "" {
		name = "participant"
	}
	return name
}

func (p *Poller) reply(ctx context.Context, chatID int64, text string) {
	if err := p.client.Send(ctx, chatID, text); err != nil {
		logger.Warn("reply failed", "chat", chatID, "err", err)
	}
}

// handleSetup registers the participant whose message the admin replied to.
func (p *Poller) handleSetup(ctx context.Context, m *IncomingMessage) {
	if !m.Chat.IsGroup() {
		p.reply(ctx, m.Chat.ID, "This command only works in groups.")
		return
	}
	if m.ReplyToMessage == nil || m.ReplyToMessage.From == nil {
		p.reply(ctx, m.Chat.ID, "Reply to the participant's message and send /setup.")
		return
	}
	target := m.ReplyToMessage.From
	if target.IsBot {
		p.reply(ctx, m.Chat.ID, "A bot cannot be registered as a participant.")
		return
	}

	member, err := p.client.GetChatMember(ctx, m.Chat.ID, m.From.ID)
	if err != nil {
		logger.Error("admin check failed", "chat", m.Chat.ID, "user", m.From.ID, "err", err)
		p.reply(ctx, m.Chat.ID, "Could not verify administrator rights.")
		return
	}
	if member.Status != "administrator" && member.Status != "creator" {
		p.reply(ctx, m.Chat.ID, "Only an administrator can run /setup.")
		return
	}

	displayName := target.FullName()
	tabName := fmt.Sprintf("%s_%d", sanitizeTabName(displayName), target.ID)

	// Tab creation failing is not fatal: the flush ensures the tab again
	// and the retrier redelivers anything that could not be appended.
	if err := p.gateway.EnsureTab(ctx, tabName); err != nil {
		logger.Error("setup: ensure tab failed", "tab", tabName, "err", err)
		p.reply(ctx, m.Chat.ID, "Participant registered, but the workbook tab could not be created. It will be created at the next sync.")
	}

	part, err := p.participants.Upsert(ctx, target.ID, m.Chat.ID, m.From.ID, displayName, tabName)
	if err != nil {
		logger.Error("setup failed", "chat", m.Chat.ID, "user", target.ID, "err", err)
		p.reply(ctx, m.Chat.ID, "Registration failed, try again later.")
		return
	}

	logger.Info("participant registered", "participant", part.ID, "chat", m.Chat.ID, "admin", m.From.ID)
	p.reply(ctx, m.Chat.ID, fmt.Sprintf(
		"Done! Diary tracking for %s is active.\nEvery text message will be collected into the diary.\nWorkbook tab: <b>%s</b>",
		service.Mention(target.ID, displayName), tabName))
}

func (p *Poller) handleList(ctx context.Context, m *IncomingMessage) {
	if !m.Chat.IsGroup() {
		p.reply(ctx, m.Chat.ID, "This command only works in groups.")
		return
	}
	parts, err := p.participants.ListActiveInChat(ctx, m.Chat.ID)
	if err != nil {
		logger.Error("list failed", "chat", m.Chat.ID, "err", err)
		return
	}
	if len(parts) == 0 {
		p.reply(ctx, m.Chat.ID, "No registered participants in this group.")
		return
	}

	lines := []string{"<b>Participants:</b>"}
	for i, part := range parts {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, service.Mention(part.TelegramUserID, part.DisplayName)))
	}
	p.reply(ctx, m.Chat.ID, strings.Join(lines, "\n"))
}

func (p *Poller) handleStatus(ctx context.Context, m *IncomingMessage) {
	if !m.Chat.IsGroup() {
		p.reply(ctx, m.Chat.ID, "This command only works in groups.")
		return
	}
	parts, err := p.participants.ListActiveInChat(ctx, m.Chat.ID)
	if err != nil {
		logger.Error("status failed", "chat", m.Chat.ID, "err", err)
		return
	}
	if len(parts) == 0 {
		p.reply(ctx, m.Chat.ID, "No registered participants in this group.")
		return
	}

	day := p.today()
	lines := []string{fmt.Sprintf("<b>Diary status for %s:</b>", day)}
	for _, part := range parts {
		n, err := p.diary.CountDay(ctx, part.ID, day)
		var status string
		switch {
		case err != nil:
			logger.Error("status count failed", "participant", part.ID, "err", err)
			status = "?"
		case n > 0:
			status = fmt.Sprintf("✅ %d message(s)", n)
		default:
			status = "❌ nothing yet"
		}
		lines = append(lines, fmt.Sprintf("• %s: %s", service.Mention(part.TelegramUserID, part.DisplayName), status))
	}
	p.reply(ctx, m.Chat.ID, strings.Join(lines, "\n"))
}
