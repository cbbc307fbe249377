package bot

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tuxbot-bot/tuxbot/bot/msg"
	"github.com/tuxbot-bot/tuxbot/bot/stats"
	"github.com/tuxbot-bot/tuxbot/bot/user"
	"github.com/tuxbot-bot/tuxbot/config"
)

// MockBot records everything a plugin does with the Bot interface so tests
// can assert on it without a live connection.
type MockBot struct {
	Cfg  *config.Config
	db   *sqlx.DB
	St   *stats.Stats
	Conn *MockConnector

	mu       sync.Mutex
	commands map[string]*Command
	subs     map[EventKind][]Callback

	// Owners lists user IDs IsOwner accepts
	Owners   []string
	Messages []string
	DMs      []string
	QuitCode int
	Workers  map[string]func(context.Context)
}

func NewMockBot() *MockBot {
	dir, err := os.MkdirTemp("", "tuxbot-test")
	if err != nil {
		log.Fatal().Err(err).Msg("could not create temp config dir")
	}
	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		log.Fatal().Err(err).Msg("could not open database")
	}
	return &MockBot{
		Cfg:      config.New(dir),
		db:       db,
		St:       stats.New(),
		Conn:     &MockConnector{},
		commands: map[string]*Command{},
		subs:     map[EventKind][]Callback{},
		Workers:  map[string]func(context.Context){},
	}
}

func (mb *MockBot) Config() *config.Config      { return mb.Cfg }
func (mb *MockBot) DB() *sqlx.DB                { return mb.db }
func (mb *MockBot) Stats() *stats.Stats         { return mb.St }
func (mb *MockBot) DefaultConnector() Connector { return mb.Conn }
func (mb *MockBot) AddPlugin(p Plugin)          {}

func (mb *MockBot) RegisterCommand(cmd *Command) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		mb.commands[alias] = cmd
	}
}

func (mb *MockBot) Commands() []*Command {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	seen := map[*Command]bool{}
	out := []*Command{}
	for _, cmd := range mb.commands {
		if !seen[cmd] {
			seen[cmd] = true
			out = append(out, cmd)
		}
	}
	return out
}

// Command returns a registered command by name for direct invocation in
// tests.
func (mb *MockBot) Command(name string) *Command {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.commands[name]
}

func (mb *MockBot) Subscribe(kind EventKind, cb Callback) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.subs[kind] = append(mb.subs[kind], cb)
}

func (mb *MockBot) Publish(conn Connector, kind EventKind, m msg.Message, args ...interface{}) {
	mb.mu.Lock()
	subs := append([]Callback{}, mb.subs[kind]...)
	mb.mu.Unlock()
	for _, cb := range subs {
		cb(conn, kind, m, args...)
	}
}

func (mb *MockBot) Receive(conn Connector, kind EventKind, m msg.Message, args ...interface{}) {
	mb.Publish(conn, kind, m, args...)
}

func (mb *MockBot) Send(conn Connector, kind Kind, args ...interface{}) (string, error) {
	switch kind {
	case Message:
		mb.Messages = append(mb.Messages, args[1].(string))
	case Reply:
		mb.Messages = append(mb.Messages, args[2].(string))
	case DM:
		mb.DMs = append(mb.DMs, args[1].(string))
	}
	return "mock", nil
}

func (mb *MockBot) IsOwner(userID string) bool {
	for _, id := range mb.Owners {
		if id == userID {
			return true
		}
	}
	return false
}

// Go records the worker without running it; tests drive workers themselves.
func (mb *MockBot) Go(name string, f func(context.Context)) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.Workers[name] = f
}

func (mb *MockBot) Quit(code int) { mb.QuitCode = code }

func (mb *MockBot) RegisterWeb(r http.Handler, root, name string) {}

// MockConnector is a Connector that records outbound traffic.
type MockConnector struct {
	mu    sync.Mutex
	event Callback

	Me         *user.User
	Owners     []int64
	OwnerErr   error
	OwnerCalls int

	SendErr error
	HookErr error

	Sent  []MockSent
	Hooks []MockWebhook
}

type MockSent struct {
	Kind Kind
	Args []interface{}
}

type MockWebhook struct {
	ID      string
	Token   string
	Payload *WebhookPayload
}

func (c *MockConnector) RegisterEvent(cb Callback) { c.event = cb }

// Event injects an inbound event as the gateway would.
func (c *MockConnector) Event(kind EventKind, m msg.Message, args ...interface{}) {
	if c.event != nil {
		c.event(c, kind, m, args...)
	}
}

func (c *MockConnector) Send(kind Kind, args ...interface{}) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.Sent = append(c.Sent, MockSent{Kind: kind, Args: args})
	return "mock", nil
}

func (c *MockConnector) Profile(id string) (user.User, error) {
	return user.User{ID: id, Name: id}, nil
}

func (c *MockConnector) BotUser() *user.User { return c.Me }

func (c *MockConnector) AppOwners(ctx context.Context) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.OwnerCalls++
	return c.Owners, c.OwnerErr
}

func (c *MockConnector) ExecuteWebhook(id, token string, w *WebhookPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.HookErr != nil {
		return c.HookErr
	}
	c.Hooks = append(c.Hooks, MockWebhook{ID: id, Token: token, Payload: w})
	return nil
}

func (c *MockConnector) Serve() error { return nil }
func (c *MockConnector) Close() error { return nil }
