package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"diary-bot/internal/model"
	"diary-bot/internal/service"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeGateway struct {
	mu   sync.Mutex
	tabs []string
	fail bool
}

func (g *fakeGateway) EnsureTab(ctx context.Context, tab string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail {
		return fmt.Errorf("workbook unavailable")
	}
	g.tabs = append(g.tabs, tab)
	return nil
}

func (g *fakeGateway) AppendRow(ctx context.Context, tab, date, timeOfDay, status, text, key string) error {
	return nil
}

// fakeAPI records sendMessage calls and answers getChatMember with a fixed
// member status.
type fakeAPI struct {
	mu           sync.Mutex
	sent         []string
	memberStatus string
}

func (a *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			a.mu.Lock()
			a.sent = append(a.sent, body["text"].(string))
			a.mu.Unlock()
			w.Write([]byte(`{"ok":true,"result":{}}`))
		case strings.HasSuffix(r.URL.Path, "/getChatMember"):
			fmt.Fprintf(w, `{"ok":true,"result":{"status":%q,"user":{"id":1}}}`, a.memberStatus)
		default:
			w.Write([]byte(`{"ok":true,"result":[]}`))
		}
	})
}

func (a *fakeAPI) messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

type pollerFixture struct {
	db      *gorm.DB
	parts   *service.ParticipantService
	diary   *service.DiaryService
	gateway *fakeGateway
	api     *fakeAPI
	poller  *Poller
}

func newPollerFixture(t *testing.T) *pollerFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&model.Participant{}, &model.Message{}, &model.DiaryEntry{}, &model.PendingEscalation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	api := &fakeAPI{memberStatus: "administrator"}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	f := &pollerFixture{
		db:      db,
		parts:   service.NewParticipantService(db),
		diary:   service.NewDiaryService(db),
		gateway: &fakeGateway{},
		api:     api,
	}
	client := NewClient("TOKEN", srv.URL)
	f.poller = NewPoller(client, f.parts, f.diary, f.gateway, fixedClock{time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}, time.UTC, 1)
	return f
}

func groupMessage(userID, chatID int64, text string) Update {
	return Update{Message: &IncomingMessage{
		MessageID: 1,
		From:      &User{ID: userID, FirstName: "Alice"},
		Chat:      Chat{ID: chatID, Type: "supergroup"},
		Text:      text,
	}}
}

func TestCollectSavesRegisteredGroupMessages(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	p, err := f.parts.Upsert(ctx, 7, -100, 1, "Alice", "Alice_7")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	f.poller.handleUpdate(ctx, groupMessage(7, -100, "dear diary"))
	// Unregistered sender and wrong chat are both ignored.
	f.poller.handleUpdate(ctx, groupMessage(8, -100, "not registered"))
	f.poller.handleUpdate(ctx, groupMessage(7, -200, "wrong chat"))
	// Private chats never feed the diary.
	f.poller.handleUpdate(ctx, Update{Message: &IncomingMessage{
		From: &User{ID: 7}, Chat: Chat{ID: 7, Type: "private"}, Text: "psst",
	}})

	n, err := f.diary.CountDay(ctx, p.ID, "2026-03-10")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("saved messages = %d, want 1", n)
	}
}

func TestSetupRegistersParticipant(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()

	setup := Update{Message: &IncomingMessage{
		From: &User{ID: 1, FirstName: "Admin"},
		Chat: Chat{ID: -100, Type: "supergroup"},
		Text: "/setup",
		ReplyToMessage: &IncomingMessage{
			From: &User{ID: 7, FirstName: "Alice", LastName: "Smith"},
		},
	}}
	f.poller.handleUpdate(ctx, setup)

	p, ok := f.parts.Lookup(7, -100)
	if !ok {
		t.Fatal("participant not registered")
	}
	if p.DisplayName != "Alice Smith" || p.SheetTabName != "Alice Smith_7" || p.AdminUserID != 1 {
		t.Errorf("unexpected participant %+v", p)
	}
	if len(f.gateway.tabs) != 1 || f.gateway.tabs[0] != "Alice Smith_7" {
		t.Errorf("tabs ensured = %v", f.gateway.tabs)
	}
	msgs := f.api.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Alice Smith") {
		t.Errorf("confirmation = %v", msgs)
	}
}

func TestSetupRejectsNonAdmin(t *testing.T) {
	f := newPollerFixture(t)
	f.api.memberStatus = "member"
	ctx := context.Background()

	f.poller.handleUpdate(ctx, Update{Message: &IncomingMessage{
		From:           &User{ID: 2, FirstName: "NotAdmin"},
		Chat:           Chat{ID: -100, Type: "supergroup"},
		Text:           "/setup",
		ReplyToMessage: &IncomingMessage{From: &User{ID: 7, FirstName: "Alice"}},
	}})

	if _, ok := f.parts.Lookup(7, -100); ok {
		t.Error("non-admin registered a participant")
	}
}

func TestSetupStillRegistersWhenTabCreationFails(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.fail = true
	ctx := context.Background()

	f.poller.handleUpdate(ctx, Update{Message: &IncomingMessage{
		From:           &User{ID: 1, FirstName: "Admin"},
		Chat:           Chat{ID: -100, Type: "supergroup"},
		Text:           "/setup",
		ReplyToMessage: &IncomingMessage{From: &User{ID: 7, FirstName: "Alice"}},
	}})

	if _, ok := f.parts.Lookup(7, -100); !ok {
		t.Error("tab failure must not block registration")
	}
}

func TestStatusCommandReportsCounts(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	p, _ := f.parts.Upsert(ctx, 7, -100, 1, "Alice", "Alice_7")
	f.parts.Upsert(ctx, 8, -100, 1, "Bob", "Bob_8")
	f.diary.SaveMessage(ctx, p.ID, -100, "2026-03-10", "hello", 1)

	f.poller.handleUpdate(ctx, groupMessage(1, -100, "/status"))

	msgs := f.api.messages()
	if len(msgs) != 1 {
		t.Fatalf("replies = %d, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0], "2026-03-10") || !strings.Contains(msgs[0], "1 message") || !strings.Contains(msgs[0], "nothing yet") {
		t.Errorf("status reply = %q", msgs[0])
	}
}

func TestCommandWithBotSuffixIsRecognized(t *testing.T) {
	f := newPollerFixture(t)
	ctx := context.Background()
	f.parts.Upsert(ctx, 7, -100, 1, "Alice", "Alice_7")

	f.poller.handleUpdate(ctx, groupMessage(1, -100, "/list@diary_bot"))

	msgs := f.api.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Alice") {
		t.Errorf("list reply = %v", msgs)
	}
}
