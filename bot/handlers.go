package bot

import (
	"errors"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tuxbot-bot/tuxbot/bot/msg"
	"github.com/tuxbot-bot/tuxbot/config"
)

// fallbackPrefix keeps direct messages commandable when no prefix is
// configured at all.
const fallbackPrefix = "."

// Receive accepts an event delivered by a connector and routes it. Incoming
// chat messages go through the dispatch pipeline; everything else fans out to
// subscribers directly.
func (b *Tux) Receive(conn Connector, kind EventKind, m msg.Message, args ...interface{}) {
	switch kind {
	case IncomingMessage:
		b.stats.MessageRcv()
		b.dispatch(conn, m)
	case RawSocket:
		if len(args) > 0 {
			if t, ok := args[0].(string); ok {
				b.stats.SocketEvent(t)
			}
		}
		b.Publish(conn, kind, m, args...)
	default:
		b.Publish(conn, kind, m, args...)
	}
}

// dispatch runs the per-message state machine: reject bots and blacklisted
// sources, resolve a prefix and command, then invoke or signal
// MessageWithoutCommand. Rejected messages produce no signal at all.
func (b *Tux) dispatch(conn Connector, m msg.Message) {
	if m.User == nil || m.User.Bot {
		return
	}
	if b.blacklisted(m) {
		return
	}
	b.Publish(conn, IncomingMessage, m)

	ctx := b.buildContext(conn, m)
	if !ctx.Valid {
		b.Publish(conn, MessageWithoutCommand, m)
		return
	}
	b.invoke(ctx)
}

func (b *Tux) blacklisted(m msg.Message) bool {
	if id, ok := config.ParseID(m.User.ID); ok && b.config.Blacklist(config.BlacklistUser)[id] {
		return true
	}
	if id, ok := config.ParseID(m.Channel); ok && b.config.Blacklist(config.BlacklistChannel)[id] {
		return true
	}
	if m.Guild != "" {
		if id, ok := config.ParseID(m.Guild); ok && b.config.Blacklist(config.BlacklistGuild)[id] {
			return true
		}
	}
	return false
}

// resolvePrefixes merges the configured prefix sources into one ordered
// candidate list. Mention forms come first so a mention always matches
// regardless of custom prefixes; duplicates are fine because matching stops
// at the first hit.
func (b *Tux) resolvePrefixes(m msg.Message) []string {
	var prefixes []string

	if b.config.Mentionable() {
		if me := b.conn.BotUser(); me != nil {
			prefixes = append(prefixes, "<@"+me.ID+"> ", "<@!"+me.ID+"> ")
		}
	}

	core := b.config.Prefixes()
	if m.Guild == "" {
		if len(core) == 0 {
			core = []string{fallbackPrefix}
		}
		return append(prefixes, core...)
	}

	prefixes = append(prefixes, core...)
	return append(prefixes, b.config.GuildPrefixes(m.Guild)...)
}

// buildContext resolves the message into an invocation context. Valid stays
// false when no prefix matches or no known command follows the prefix.
func (b *Tux) buildContext(conn Connector, m msg.Message) *Ctx {
	ctx := &Ctx{Conn: conn, Msg: m}

	for _, p := range b.resolvePrefixes(m) {
		if p != "" && strings.HasPrefix(m.Body, p) {
			ctx.Prefix = p
			break
		}
	}
	if ctx.Prefix == "" {
		return ctx
	}

	fields := strings.Fields(m.Body[len(ctx.Prefix):])
	if len(fields) == 0 {
		return ctx
	}
	cmd := b.lookup(fields[0])
	if cmd == nil {
		return ctx
	}

	ctx.Command = cmd
	ctx.Args = fields[1:]
	ctx.Valid = true
	return ctx
}

func (b *Tux) isDisabled(name string) bool {
	for _, d := range b.config.DisabledCommands() {
		if d == name {
			return true
		}
	}
	return false
}

// invoke runs the resolved command. Success emits CommandCompleted; any
// failure marks the context failed, replies for usage errors, and emits
// CommandFailed for observers. Dispatch never retries.
func (b *Tux) invoke(ctx *Ctx) {
	var err error
	switch {
	case b.isDisabled(ctx.Command.Name):
		err = ErrDisabledCommand
	case ctx.Command.GuildOnly && ctx.Msg.Guild == "":
		err = ErrNoPrivateMessage
	case ctx.Command.OwnerOnly && !b.IsOwner(ctx.Msg.User.ID):
		err = ErrNotOwner
	default:
		err = b.runHandler(ctx)
	}

	if err == nil {
		b.stats.Command(ctx.Command.Name)
		b.Publish(ctx.Conn, CommandCompleted, ctx.Msg, ctx)
		return
	}

	ctx.Failed = true
	ctx.Err = err

	var usage *UsageError
	if errors.As(err, &usage) {
		if _, serr := b.Send(ctx.Conn, DM, ctx.Msg.User.ID, usage.Reply()); serr != nil {
			log.Error().Err(serr).Msgf("could not deliver usage reply for %s", ctx.Command.Name)
		}
	}
	b.Publish(ctx.Conn, CommandFailed, ctx.Msg, ctx)
}

func (b *Tux) runHandler(ctx *Ctx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return ctx.Command.Handler(ctx)
}
