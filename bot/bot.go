package bot

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/tuxbot-bot/tuxbot/bot/msg"
	"github.com/tuxbot-bot/tuxbot/bot/stats"
	"github.com/tuxbot-bot/tuxbot/config"
)

// Tux is the dispatcher core. It owns the plugin, command and subscriber
// registries and the set of tracked background workers.
type Tux struct {
	config *config.Config
	db     *sqlx.DB
	stats  *stats.Stats
	conn   Connector
	web    WebRegistrar

	mu       sync.Mutex
	plugins  []Plugin
	commands map[string]*Command
	names    []string
	subs     map[EventKind][]Callback

	// team owners are fetched remotely at most once per process
	ownersOnce sync.Once
	teamOwners map[int64]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	quit   chan int
}

func New(cfg *config.Config, conn Connector, db *sqlx.DB, st *stats.Stats) *Tux {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Tux{
		config:   cfg,
		db:       db,
		stats:    st,
		conn:     conn,
		commands: map[string]*Command{},
		subs:     map[EventKind][]Callback{},
		ctx:      ctx,
		cancel:   cancel,
		quit:     make(chan int, 1),
	}
	conn.RegisterEvent(b.Receive)
	return b
}

func (b *Tux) Config() *config.Config      { return b.config }
func (b *Tux) DB() *sqlx.DB                { return b.db }
func (b *Tux) Stats() *stats.Stats         { return b.stats }
func (b *Tux) DefaultConnector() Connector { return b.conn }
func (b *Tux) SetWeb(w WebRegistrar)       { b.web = w }

func (b *Tux) AddPlugin(p Plugin) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plugins = append(b.plugins, p)
}

// LoadPlugin constructs one plugin. A failing constructor is logged and
// skipped so the remaining plugins still load.
func (b *Tux) LoadPlugin(name string, f PluginFactory) {
	p, err := f(b)
	if err != nil {
		log.Error().Err(err).Msgf("Failed to load plugin %s", name)
		return
	}
	b.AddPlugin(p)
	log.Debug().Msgf("%s loaded", name)
}

func (b *Tux) RegisterCommand(cmd *Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.commands[cmd.Name]; ok {
		log.Warn().Msgf("command %s registered twice, keeping first", cmd.Name)
		return
	}
	b.commands[cmd.Name] = cmd
	b.names = append(b.names, cmd.Name)
	for _, alias := range cmd.Aliases {
		if _, ok := b.commands[alias]; !ok {
			b.commands[alias] = cmd
		}
	}
}

// Commands returns registered commands, one entry per command, sorted by
// name.
func (b *Tux) Commands() []*Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := append([]string{}, b.names...)
	sort.Strings(names)
	out := make([]*Command, 0, len(names))
	for _, n := range names {
		out = append(out, b.commands[n])
	}
	return out
}

func (b *Tux) lookup(name string) *Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commands[name]
}

func (b *Tux) Subscribe(kind EventKind, cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], cb)
}

// Publish fans an event out to subscribers in registration order. A panicking
// subscriber never stops the remaining ones.
func (b *Tux) Publish(conn Connector, kind EventKind, message msg.Message, args ...interface{}) {
	b.mu.Lock()
	subs := append([]Callback{}, b.subs[kind]...)
	b.mu.Unlock()
	for _, cb := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Msgf("subscriber panic on event %d: %v", kind, r)
				}
			}()
			cb(conn, kind, message, args...)
		}()
	}
}

func (b *Tux) Send(conn Connector, kind Kind, args ...interface{}) (string, error) {
	id, err := conn.Send(kind, args...)
	if err == nil {
		b.stats.MessageSent()
	}
	return id, err
}

// IsOwner reports whether the user is a recognized bot owner. Beyond the
// configured owner IDs, the registered application's team members count as
// owners; they are fetched at most once per process and merged back into the
// persisted list.
func (b *Tux) IsOwner(userID string) bool {
	id, ok := config.ParseID(userID)
	if !ok {
		return false
	}
	for _, owner := range b.config.Owners() {
		if owner == id {
			return true
		}
	}
	b.fetchTeamOwners()
	return b.teamOwners[id]
}

func (b *Tux) fetchTeamOwners() {
	b.ownersOnce.Do(func() {
		b.teamOwners = map[int64]bool{}
		ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
		defer cancel()
		ids, err := b.conn.AppOwners(ctx)
		if err != nil {
			log.Error().Err(err).Msg("could not fetch application owners")
			return
		}
		merged := b.config.Owners()
		for _, id := range ids {
			b.teamOwners[id] = true
			seen := false
			for _, have := range merged {
				if have == id {
					seen = true
					break
				}
			}
			if !seen {
				merged = append(merged, id)
			}
		}
		if err := b.config.SetOwners(merged); err != nil {
			log.Error().Err(err).Msg("could not persist merged owner list")
		}
	})
}

// Go runs f as a tracked worker. Shutdown cancels the worker context and
// waits for every tracked worker to return.
func (b *Tux) Go(name string, f func(context.Context)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Msgf("worker %s panicked: %v", name, r)
			}
		}()
		f(b.ctx)
	}()
}

// Quit requests process termination with the given exit code. The first
// request wins.
func (b *Tux) Quit(code int) {
	select {
	case b.quit <- code:
	default:
	}
}

// QuitSignal delivers the requested exit code.
func (b *Tux) QuitSignal() <-chan int { return b.quit }

// Shutdown cancels all tracked workers, waits for them, then closes the
// realtime connection.
func (b *Tux) Shutdown() {
	b.cancel()
	b.wg.Wait()
	if err := b.conn.Close(); err != nil {
		log.Error().Err(err).Msg("closing connection")
	}
}

func (b *Tux) RegisterWeb(r http.Handler, root, name string) {
	if b.web == nil {
		return
	}
	b.web.RegisterWebName(r, root, name)
}
