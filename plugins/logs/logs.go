package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/tuxbot-bot/tuxbot/bot"
	"github.com/tuxbot-bot/tuxbot/bot/msg"
	"github.com/tuxbot-bot/tuxbot/config"
)

// namespace is this plugin's settings partition; it holds the category
// webhooks under the "webhooks" key.
const namespace = "logs"

const flushEvery = 10 * time.Second

const (
	colorError = 0xCC3366
	colorJoin  = 0x53DDA4
	colorLeave = 0xDD5F53
	colorDM    = 0x0A97F5
)

// LogsPlugin is the external notification sink. It batches command history
// into sqlite, forwards classified failures, guild changes, DM traffic and
// gateway status to category webhooks, and answers the stats commands.
type LogsPlugin struct {
	b   bot.Bot
	cfg *config.Config
	db  *sqlx.DB

	mu    sync.Mutex
	batch []commandLog

	gateway chan *bot.GatewayRecord
}

type commandLog struct {
	Guild   string `db:"guild"`
	Channel string `db:"channel"`
	Author  string `db:"author"`
	Used    string `db:"used"`
	Prefix  string `db:"prefix"`
	Command string `db:"command"`
	Failed  bool   `db:"failed"`
}

func New(b bot.Bot) (bot.Plugin, error) {
	p := &LogsPlugin{
		b:       b,
		cfg:     b.Config(),
		db:      b.DB(),
		gateway: make(chan *bot.GatewayRecord, 64),
	}
	if err := p.mkDB(); err != nil {
		return nil, err
	}

	b.Subscribe(bot.CommandCompleted, p.commandCompleted)
	b.Subscribe(bot.CommandFailed, p.commandFailed)
	b.Subscribe(bot.IncomingMessage, p.directMessage)
	b.Subscribe(bot.GuildJoin, p.guildJoin)
	b.Subscribe(bot.GuildRemove, p.guildRemove)
	b.Subscribe(bot.GatewayStatus, p.gatewayStatus)

	b.RegisterCommand(&bot.Command{
		Name:      "commandstats",
		Help:      "commandstats [limit]: most used commands",
		OwnerOnly: true,
		Handler:   p.commandStatsCmd,
	})
	b.RegisterCommand(&bot.Command{
		Name:      "socketstats",
		Help:      "socketstats: gateway event counters",
		OwnerOnly: true,
		Handler:   p.socketStatsCmd,
	})
	b.RegisterCommand(&bot.Command{
		Name:    "uptime",
		Help:    "uptime: time since startup",
		Handler: p.uptimeCmd,
	})

	b.Go("logs.gateway", p.gatewayWorker)
	b.Go("logs.flush", p.flushWorker)

	return p, nil
}

func (p *LogsPlugin) Name() string { return "logs" }

func (p *LogsPlugin) mkDB() error {
	_, err := p.db.Exec(`create table if not exists commandlog (
		id integer primary key autoincrement,
		guild text,
		channel text,
		author text,
		used text,
		prefix text,
		command text,
		failed integer
	)`)
	return err
}

// register queues one command invocation for the next batch flush.
func (p *LogsPlugin) register(ctx *bot.Ctx, failed bool) {
	entry := commandLog{
		Guild:   ctx.Msg.Guild,
		Channel: ctx.Msg.Channel,
		Author:  ctx.Msg.User.ID,
		Used:    ctx.Msg.Time.UTC().Format(time.RFC3339),
		Prefix:  ctx.Prefix,
		Command: ctx.Command.Name,
		Failed:  failed,
	}
	p.mu.Lock()
	p.batch = append(p.batch, entry)
	p.mu.Unlock()
}

func (p *LogsPlugin) flush() {
	p.mu.Lock()
	batch := p.batch
	p.batch = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	tx, err := p.db.Beginx()
	if err != nil {
		log.Error().Err(err).Msg("could not begin commandlog flush")
		return
	}
	for _, entry := range batch {
		if _, err := tx.NamedExec(`insert into commandlog
			(guild, channel, author, used, prefix, command, failed) values
			(:guild, :channel, :author, :used, :prefix, :command, :failed)`,
			entry); err != nil {
			log.Error().Err(err).Msg("could not insert commandlog entry")
		}
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("could not commit commandlog flush")
	}
}

func (p *LogsPlugin) flushWorker(ctx context.Context) {
	tick := time.NewTicker(flushEvery)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case <-tick.C:
			p.flush()
		}
	}
}

func (p *LogsPlugin) commandCompleted(conn bot.Connector, kind bot.EventKind, m msg.Message, args ...interface{}) {
	ctx, ok := firstCtx(args)
	if !ok {
		return
	}
	p.register(ctx, false)
	log.Info().Msgf("%s: %s in %s: %s", ctx.Msg.Time, ctx.Msg.User.Name, ctx.Msg.Channel, ctx.Msg.Body)
}

// commandFailed classifies the failure. Usage and permission errors were
// already handled (or deliberately dropped) by dispatch; connector
// missing-access/not-found errors are dropped too. Everything else becomes a
// structured report on the errors webhook.
func (p *LogsPlugin) commandFailed(conn bot.Connector, kind bot.EventKind, m msg.Message, args ...interface{}) {
	ctx, ok := firstCtx(args)
	if !ok {
		return
	}
	p.register(ctx, true)

	var usage *bot.UsageError
	if errors.As(ctx.Err, &usage) {
		return
	}
	if errors.Is(ctx.Err, bot.ErrNotOwner) {
		return
	}
	var rest *discordgo.RESTError
	if errors.As(ctx.Err, &rest) && rest.Response != nil {
		if rest.Response.StatusCode == http.StatusForbidden ||
			rest.Response.StatusCode == http.StatusNotFound {
			return
		}
	}

	location := fmt.Sprintf("Channel: %s", ctx.Msg.Channel)
	if ctx.Msg.Guild != "" {
		location = fmt.Sprintf("%s\nGuild: %s", location, ctx.Msg.Guild)
	}

	e := &bot.Embed{
		Title:       "Command Error",
		Color:       colorError,
		Description: fmt.Sprintf("```\n%s\n```", trace(ctx.Err)),
		Timestamp:   time.Now().UTC(),
		Footer:      "Report " + uuid.New().String(),
		Fields: []bot.EmbedField{
			{Name: "Name", Value: ctx.Command.Name, Inline: true},
			{Name: "Author", Value: fmt.Sprintf("%s (ID: %s)", ctx.Msg.User.Name, ctx.Msg.User.ID), Inline: true},
			{Name: "Location", Value: location},
			{Name: "Content", Value: shorten(ctx.Msg.Body, 512)},
		},
	}
	p.send("errors", &bot.WebhookPayload{Embeds: []*bot.Embed{e}})
}

// trace renders the failure for the report. Panics carry a real stack;
// returned errors are rendered with their full chain.
func trace(err error) string {
	var perr *bot.PanicError
	if errors.As(err, &perr) {
		return fmt.Sprintf("%v\n\n%s", perr.Value, perr.Stack)
	}
	return fmt.Sprintf("%+v", err)
}

func shorten(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}

func (p *LogsPlugin) directMessage(conn bot.Connector, kind bot.EventKind, m msg.Message, args ...interface{}) {
	if !m.IsIM || m.User == nil {
		return
	}
	e := &bot.Embed{
		Title:       "New DM:",
		Description: shorten(m.Body, 2000),
		Color:       colorDM,
		Timestamp:   time.Now().UTC(),
		Footer:      "User ID: " + m.User.ID,
	}
	p.send("dm", &bot.WebhookPayload{Embeds: []*bot.Embed{e}})
}

func (p *LogsPlugin) guildJoin(conn bot.Connector, kind bot.EventKind, m msg.Message, args ...interface{}) {
	if g, ok := firstGuild(args); ok {
		p.sendGuildStats("New Guild", colorJoin, g)
	}
}

func (p *LogsPlugin) guildRemove(conn bot.Connector, kind bot.EventKind, m msg.Message, args ...interface{}) {
	if g, ok := firstGuild(args); ok {
		p.sendGuildStats("Left Guild", colorLeave, g)
	}
}

func (p *LogsPlugin) sendGuildStats(title string, color int, g *bot.Guild) {
	e := &bot.Embed{
		Title:     title,
		Color:     color,
		Timestamp: time.Now().UTC(),
		Fields: []bot.EmbedField{
			{Name: "Name", Value: g.Name, Inline: true},
			{Name: "ID", Value: g.ID, Inline: true},
		},
	}
	if g.OwnerID != "" {
		e.Fields = append(e.Fields, bot.EmbedField{Name: "Owner", Value: g.OwnerID, Inline: true})
	}
	if g.MemberCount > 0 {
		e.Fields = append(e.Fields, bot.EmbedField{Name: "Members", Value: fmt.Sprint(g.MemberCount), Inline: true})
	}
	p.send("guilds", &bot.WebhookPayload{Embeds: []*bot.Embed{e}})
}

// gatewayStatus queues the record for the drain worker; a full queue drops
// the record rather than blocking the event path.
func (p *LogsPlugin) gatewayStatus(conn bot.Connector, kind bot.EventKind, m msg.Message, args ...interface{}) {
	if len(args) == 0 {
		return
	}
	record, ok := args[0].(*bot.GatewayRecord)
	if !ok {
		return
	}
	select {
	case p.gateway <- record:
	default:
		log.Warn().Msg("gateway notification queue full, dropping record")
	}
}

func (p *LogsPlugin) gatewayWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-p.gateway:
			p.notifyGatewayStatus(record)
		}
	}
}

func (p *LogsPlugin) notifyGatewayStatus(record *bot.GatewayRecord) {
	emoji := map[string]string{
		"INFO":    ":information_source:",
		"WARNING": ":warning:",
	}
	prefix, ok := emoji[record.Level]
	if !ok {
		prefix = ":heavy_multiplication_x:"
	}
	content := fmt.Sprintf("%s `[%s] %s`",
		prefix, record.Time.UTC().Format("2006-01-02 15:04:05"), record.Message)
	p.send("gateway", &bot.WebhookPayload{Content: content})
}

// send delivers a payload to one category webhook. Delivery is retried a few
// times and then dropped; a failing sink must never propagate back into
// dispatch.
func (p *LogsPlugin) send(category string, payload *bot.WebhookPayload) {
	id, token := p.webhook(category)
	if id == "" || token == "" {
		log.Debug().Msgf("no %s webhook configured, dropping notification", category)
		return
	}
	conn := p.b.DefaultConnector()
	op := func() error {
		return conn.ExecuteWebhook(id, token, payload)
	}
	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	if err != nil {
		log.Error().Err(err).Msgf("could not deliver %s notification", category)
	}
}

func (p *LogsPlugin) webhook(category string) (string, string) {
	raw, ok := p.cfg.Get(namespace, "webhooks").(map[string]interface{})
	if !ok {
		return "", ""
	}
	entry, ok := raw[category].(map[string]interface{})
	if !ok {
		return "", ""
	}
	return asString(entry["id"]), asString(entry["token"])
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return ""
	}
}

func (p *LogsPlugin) commandStatsCmd(ctx *bot.Ctx) error {
	p.flush()

	limit := 20
	if len(ctx.Args) == 1 {
		fmt.Sscanf(ctx.Args[0], "%d", &limit)
	}

	rows := []struct {
		Command string `db:"command"`
		Uses    int    `db:"uses"`
	}{}
	err := p.db.Select(&rows, `select command, count(*) as uses from commandlog
		group by command order by uses desc limit ?`, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		_, err := p.b.Send(ctx.Conn, bot.Message, ctx.Msg.Channel, "No commands recorded yet.")
		return err
	}

	width := 0
	for _, r := range rows {
		if len(r.Command) > width {
			width = len(r.Command)
		}
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%-*s: %d", width, r.Command, r.Uses))
	}
	out := fmt.Sprintf("```\n%s\n```", strings.Join(lines, "\n"))
	_, err = p.b.Send(ctx.Conn, bot.Message, ctx.Msg.Channel, out)
	return err
}

func (p *LogsPlugin) socketStatsCmd(ctx *bot.Ctx) error {
	snap := p.b.Stats().Snapshot()
	total := 0
	types := make([]string, 0, len(snap.SocketEvents))
	for t, n := range snap.SocketEvents {
		total += n
		types = append(types, fmt.Sprintf("%s: %d", t, n))
	}
	sort.Strings(types)

	minutes := p.b.Stats().Uptime().Minutes()
	cpm := 0.0
	if minutes > 0 {
		cpm = float64(total) / minutes
	}
	out := fmt.Sprintf("%d socket events observed (%.2f/minute):\n%s",
		total, cpm, strings.Join(types, ", "))
	_, err := p.b.Send(ctx.Conn, bot.Message, ctx.Msg.Channel, out)
	return err
}

func (p *LogsPlugin) uptimeCmd(ctx *bot.Ctx) error {
	_, err := p.b.Send(ctx.Conn, bot.Message, ctx.Msg.Channel,
		fmt.Sprintf("Uptime: **%s**", p.b.Stats().Uptime()))
	return err
}

func firstCtx(args []interface{}) (*bot.Ctx, bool) {
	if len(args) == 0 {
		return nil, false
	}
	ctx, ok := args[0].(*bot.Ctx)
	if !ok || ctx.Command == nil || ctx.Msg.User == nil {
		return nil, false
	}
	return ctx, true
}

func firstGuild(args []interface{}) (*bot.Guild, bool) {
	if len(args) == 0 {
		return nil, false
	}
	g, ok := args[0].(*bot.Guild)
	return g, ok
}
