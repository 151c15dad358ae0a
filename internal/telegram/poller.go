package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	"diary-bot/internal/logger"
	"diary-bot/internal/service"
)

// Poller long-polls getUpdates and feeds messages into the diary pipeline.
type Poller struct {
	client       *Client
	participants *service.ParticipantService
	diary        *service.DiaryService
	gateway      service.SheetGateway
	clock        service.Clock
	loc          *time.Location
	timeoutSec   int

	offset int64
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewPoller(client *Client, participants *service.ParticipantService, diary *service.DiaryService, gateway service.SheetGateway, clock service.Clock, loc *time.Location, timeoutSec int) *Poller {
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	return &Poller{
		client:       client,
		participants: participants,
		diary:        diary,
		gateway:      gateway,
		clock:        clock,
		loc:          loc,
		timeoutSec:   timeoutSec,
		stop:         make(chan struct{}),
	}
}

func (p *Poller) Start() {
	p.wg.Add(1)
	go p.loop()
	logger.Info("polling started")
}

func (p *Poller) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Poller) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(p.timeoutSec+10)*time.Second)
		updates, err := p.client.GetUpdates(ctx, p.offset, p.timeoutSec)
		cancel()
		if err != nil {
			logger.Warn("getUpdates failed", "err", err)
			select {
			case <-p.stop:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			p.handleUpdate(context.Background(), u)
		}
	}
}

func (p *Poller) today() string {
	return p.clock.Now().In(p.loc).Format("2006-01-02")
}

func (p *Poller) handleUpdate(ctx context.Context, u Update) {
	m := u.Message
	if m == nil || m.From == nil || m.Text == "" {
		return
	}

	if strings.HasPrefix(m.Text, "/") {
		cmd := strings.Fields(m.Text)[0]
		// Commands may arrive as /cmd@botname in groups.
		if i := strings.Index(cmd, "@"); i > 0 {
			cmd = cmd[:i]
		}
		switch cmd {
		case "/setup":
			p.handleSetup(ctx, m)
		case "/list":
			p.handleList(ctx, m)
		case "/status":
			p.handleStatus(ctx, m)
		}
		return
	}

	p.collect(ctx, m)
}

// collect saves a group text message from a registered participant. The
// in-memory index keeps this path off the database for strangers.
func (p *Poller) collect(ctx context.Context, m *IncomingMessage) {
	if !m.Chat.IsGroup() {
		return
	}
	part, ok := p.participants.Lookup(m.From.ID, m.Chat.ID)
	if !ok {
		return
	}
	if err := p.diary.SaveMessage(ctx, part.ID, m.Chat.ID, p.today(), m.Text, m.MessageID); err != nil {
		logger.Error("save message failed", "participant", part.ID, "err", err)
	}
}
