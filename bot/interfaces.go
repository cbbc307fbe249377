package bot

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tuxbot-bot/tuxbot/bot/msg"
	"github.com/tuxbot-bot/tuxbot/bot/stats"
	"github.com/tuxbot-bot/tuxbot/bot/user"
	"github.com/tuxbot-bot/tuxbot/config"
)

// Process exit codes. Supervisors treat ExitRestart as a request to start the
// bot again.
const (
	ExitShutdown = 0
	ExitCritical = 1
	ExitRestart  = 26
)

// Kind selects the form of an outgoing send.
type Kind int

const (
	_ Kind = iota
	// Message is plain text to a channel: args are channel, body
	Message
	// Reply references an existing message: args are channel, messageID, body
	Reply
	// DM is a direct message: args are userID, body
	DM
)

// EventKind identifies an event flowing through the subscriber registry.
type EventKind int

const (
	_ EventKind = iota
	// IncomingMessage is raised by connectors for every chat message.
	// Subscribers see it after the bot-author and blacklist filters,
	// whether or not the message carries a command
	IncomingMessage
	// MessageWithoutCommand fires when dispatch decides a message carries no
	// command
	MessageWithoutCommand
	// CommandCompleted fires after a handler returns nil; args[0] is the *Ctx
	CommandCompleted
	// CommandFailed fires after a handler fails; args[0] is the *Ctx
	CommandFailed
	// GuildJoin and GuildRemove carry a *Guild in args[0]
	GuildJoin
	GuildRemove
	// GatewayStatus carries a *GatewayRecord in args[0]
	GatewayStatus
	// RawSocket carries the raw frame type string in args[0]
	RawSocket
)

// Callback receives events from a connector or from the subscriber registry.
type Callback func(conn Connector, kind EventKind, message msg.Message, args ...interface{})

// Guild describes the guild of a join/remove event.
type Guild struct {
	ID          string
	Name        string
	OwnerID     string
	MemberCount int
	JoinedAt    time.Time
}

// GatewayRecord is one realtime-connection status change.
type GatewayRecord struct {
	Level   string
	Message string
	Time    time.Time
}

// WebhookPayload is a structured message for an external log sink.
type WebhookPayload struct {
	Content string
	Embeds  []*Embed
}

type Embed struct {
	Title       string
	Description string
	Color       int
	Timestamp   time.Time
	Footer      string
	Fields      []EmbedField
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type CommandHandler func(ctx *Ctx) error

// Command is a named handler a plugin registers with the dispatcher.
type Command struct {
	Name      string
	Aliases   []string
	Help      string
	OwnerOnly bool
	GuildOnly bool
	Handler   CommandHandler
}

// Ctx is the invocation context built for every message that might be a
// command. It lives for one dispatch and is handed to event subscribers
// afterwards.
type Ctx struct {
	Conn    Connector
	Msg     msg.Message
	Command *Command
	Prefix  string
	Args    []string
	Valid   bool
	Failed  bool
	Err     error
}

type Bot interface {
	Config() *config.Config
	DB() *sqlx.DB
	Stats() *stats.Stats
	DefaultConnector() Connector

	AddPlugin(Plugin)
	RegisterCommand(*Command)
	Commands() []*Command

	Subscribe(EventKind, Callback)
	Publish(Connector, EventKind, msg.Message, ...interface{})
	// Receive injects an event as if a connector delivered it
	Receive(Connector, EventKind, msg.Message, ...interface{})

	Send(Connector, Kind, ...interface{}) (string, error)

	IsOwner(userID string) bool

	// Go runs f as a tracked worker; shutdown cancels its context and waits
	// for it to return
	Go(name string, f func(context.Context))
	Quit(code int)

	RegisterWeb(r http.Handler, root, name string)
}

type Connector interface {
	RegisterEvent(Callback)
	Send(Kind, ...interface{}) (string, error)
	Profile(id string) (user.User, error)
	// BotUser is nil until the connection is established
	BotUser() *user.User
	// AppOwners fetches the IDs of the registered application's team members
	AppOwners(ctx context.Context) ([]int64, error)
	ExecuteWebhook(id, token string, w *WebhookPayload) error
	Serve() error
	Close() error
}

type Plugin interface {
	Name() string
}

// PluginFactory builds a plugin against the bot, registering its commands and
// subscriptions as a side effect.
type PluginFactory func(Bot) (Plugin, error)

// WebRegistrar is the part of the web service the bot exposes to plugins.
type WebRegistrar interface {
	RegisterWebName(r http.Handler, root, name string)
}
