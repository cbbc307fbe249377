package admin

import (
	"fmt"
	"strings"

	"github.com/tuxbot-bot/tuxbot/bot"
	"github.com/tuxbot-bot/tuxbot/config"
)

// AdminPlugin carries the owner maintenance commands: shutdown/restart,
// blacklist and prefix management, and raw config access.
type AdminPlugin struct {
	b   bot.Bot
	cfg *config.Config
}

// Keys that must never be echoed back into a chat channel.
var forbiddenKeys = map[string]bool{
	"token": true,
}

func New(b bot.Bot) (bot.Plugin, error) {
	p := &AdminPlugin{
		b:   b,
		cfg: b.Config(),
	}

	b.RegisterCommand(&bot.Command{
		Name:      "quit",
		Help:      "quit: shut the bot down cleanly",
		OwnerOnly: true,
		Handler:   p.quitCmd,
	})
	b.RegisterCommand(&bot.Command{
		Name:      "restart",
		Help:      "restart: shut down with the restart exit code",
		OwnerOnly: true,
		Handler:   p.restartCmd,
	})
	b.RegisterCommand(&bot.Command{
		Name:      "blacklist",
		Help:      "blacklist <add|del> <user|channel|guild> <id>",
		OwnerOnly: true,
		Handler:   p.blacklistCmd,
	})
	b.RegisterCommand(&bot.Command{
		Name:      "prefix",
		Help:      "prefix <add|del> <prefix>: manage this guild's prefixes",
		OwnerOnly: true,
		GuildOnly: true,
		Handler:   p.prefixCmd,
	})
	b.RegisterCommand(&bot.Command{
		Name:      "set",
		Help:      "set <key> <value>: set a core config key",
		OwnerOnly: true,
		Handler:   p.setCmd,
	})
	b.RegisterCommand(&bot.Command{
		Name:      "get",
		Help:      "get <key>: read a core config key",
		OwnerOnly: true,
		Handler:   p.getCmd,
	})

	return p, nil
}

func (p *AdminPlugin) Name() string { return "admin" }

func (p *AdminPlugin) reply(ctx *bot.Ctx, body string) error {
	_, err := p.b.Send(ctx.Conn, bot.Message, ctx.Msg.Channel, body)
	return err
}

func (p *AdminPlugin) quitCmd(ctx *bot.Ctx) error {
	if err := p.reply(ctx, "Shutting down."); err != nil {
		return err
	}
	p.b.Quit(bot.ExitShutdown)
	return nil
}

func (p *AdminPlugin) restartCmd(ctx *bot.Ctx) error {
	if err := p.reply(ctx, "Restarting."); err != nil {
		return err
	}
	p.b.Quit(bot.ExitRestart)
	return nil
}

var blacklistKinds = map[string]bool{
	config.BlacklistUser:    true,
	config.BlacklistChannel: true,
	config.BlacklistGuild:   true,
}

func (p *AdminPlugin) blacklistCmd(ctx *bot.Ctx) error {
	if len(ctx.Args) != 3 {
		return p.reply(ctx, "Usage: blacklist <add|del> <user|channel|guild> <id>")
	}
	op, kind := ctx.Args[0], ctx.Args[1]
	if !blacklistKinds[kind] {
		return p.reply(ctx, fmt.Sprintf("Unknown blacklist kind %q", kind))
	}
	id, ok := config.ParseID(ctx.Args[2])
	if !ok {
		return p.reply(ctx, fmt.Sprintf("%q is not a valid ID", ctx.Args[2]))
	}

	switch op {
	case "add":
		if err := p.cfg.BlacklistAdd(kind, id); err != nil {
			return err
		}
		return p.reply(ctx, fmt.Sprintf("Blacklisted %s %d.", kind, id))
	case "del":
		if err := p.cfg.BlacklistRemove(kind, id); err != nil {
			return err
		}
		return p.reply(ctx, fmt.Sprintf("Removed %s %d from the blacklist.", kind, id))
	default:
		return p.reply(ctx, "Usage: blacklist <add|del> <user|channel|guild> <id>")
	}
}

func (p *AdminPlugin) prefixCmd(ctx *bot.Ctx) error {
	if len(ctx.Args) != 2 {
		return p.reply(ctx, "Usage: prefix <add|del> <prefix>")
	}
	op, prefix := ctx.Args[0], ctx.Args[1]
	current := p.cfg.GuildPrefixes(ctx.Msg.Guild)

	switch op {
	case "add":
		for _, have := range current {
			if have == prefix {
				return p.reply(ctx, fmt.Sprintf("%q is already a prefix here.", prefix))
			}
		}
		if err := p.cfg.SetGuildPrefixes(ctx.Msg.Guild, append(current, prefix)); err != nil {
			return err
		}
		return p.reply(ctx, fmt.Sprintf("Added prefix %q.", prefix))
	case "del":
		kept := make([]string, 0, len(current))
		for _, have := range current {
			if have != prefix {
				kept = append(kept, have)
			}
		}
		if len(kept) == len(current) {
			return p.reply(ctx, fmt.Sprintf("%q is not a prefix here.", prefix))
		}
		if err := p.cfg.SetGuildPrefixes(ctx.Msg.Guild, kept); err != nil {
			return err
		}
		return p.reply(ctx, fmt.Sprintf("Removed prefix %q.", prefix))
	default:
		return p.reply(ctx, "Usage: prefix <add|del> <prefix>")
	}
}

func (p *AdminPlugin) setCmd(ctx *bot.Ctx) error {
	if len(ctx.Args) < 2 {
		return p.reply(ctx, "Usage: set <key> <value>")
	}
	key := ctx.Args[0]
	if forbiddenKeys[key] {
		return p.reply(ctx, "I cannot set that key from chat.")
	}
	value := strings.Join(ctx.Args[1:], " ")
	if err := p.cfg.Set(config.Core, key, value); err != nil {
		return err
	}
	return p.reply(ctx, fmt.Sprintf("Set %s.", key))
}

func (p *AdminPlugin) getCmd(ctx *bot.Ctx) error {
	if len(ctx.Args) != 1 {
		return p.reply(ctx, "Usage: get <key>")
	}
	key := ctx.Args[0]
	if forbiddenKeys[key] {
		return p.reply(ctx, "I cannot access that key.")
	}
	value := p.cfg.Get(config.Core, key)
	if value == nil {
		return p.reply(ctx, fmt.Sprintf("%s: <unknown>", key))
	}
	return p.reply(ctx, fmt.Sprintf("%s: %v", key, value))
}
