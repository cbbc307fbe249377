package logs

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"github.com/tuxbot-bot/tuxbot/bot"
	"github.com/tuxbot-bot/tuxbot/bot/msg"
	"github.com/tuxbot-bot/tuxbot/bot/user"
)

func setup(t *testing.T) (*LogsPlugin, *bot.MockBot) {
	t.Helper()
	mb := bot.NewMockBot()
	assert.Nil(t, mb.Cfg.Set(namespace, "webhooks", map[string]interface{}{
		"errors":  map[string]interface{}{"id": "1", "token": "et"},
		"guilds":  map[string]interface{}{"id": "2", "token": "gt"},
		"dm":      map[string]interface{}{"id": "3", "token": "dt"},
		"gateway": map[string]interface{}{"id": "4", "token": "wt"},
	}))
	p, err := New(mb)
	assert.Nil(t, err)
	return p.(*LogsPlugin), mb
}

func failedCtx(mb *bot.MockBot, err error) *bot.Ctx {
	return &bot.Ctx{
		Conn: mb.Conn,
		Msg: msg.Message{
			ID:      "1",
			User:    &user.User{ID: "100", Name: "alice"},
			Channel: "200",
			Guild:   "300",
			Body:    "!ping",
			Time:    time.Now(),
		},
		Command: &bot.Command{Name: "ping"},
		Prefix:  "!",
		Valid:   true,
		Failed:  true,
		Err:     err,
	}
}

func TestGenericErrorReported(t *testing.T) {
	p, mb := setup(t)
	ctx := failedCtx(mb, errors.New("boom"))

	mb.Publish(mb.Conn, bot.CommandFailed, ctx.Msg, ctx)

	if assert.Len(t, mb.Conn.Hooks, 1) {
		hook := mb.Conn.Hooks[0]
		assert.Equal(t, "1", hook.ID)
		assert.Equal(t, "et", hook.Token)
		if assert.Len(t, hook.Payload.Embeds, 1) {
			e := hook.Payload.Embeds[0]
			assert.Equal(t, "Command Error", e.Title)
			assert.Contains(t, e.Description, "boom")
			assert.True(t, strings.HasPrefix(e.Footer, "Report "))
			assert.Equal(t, "Name", e.Fields[0].Name)
			assert.Equal(t, "ping", e.Fields[0].Value)
			assert.Equal(t, "alice (ID: 100)", e.Fields[1].Value)
			assert.Contains(t, e.Fields[2].Value, "Guild: 300")
		}
	}
	// the failure is still queued for the command history
	assert.Len(t, p.batch, 1)
	assert.True(t, p.batch[0].Failed)
}

func TestPanicReportCarriesStack(t *testing.T) {
	_, mb := setup(t)
	perr := &bot.PanicError{Value: "kaboom", Stack: []byte("goroutine 1 [running]")}
	ctx := failedCtx(mb, perr)

	mb.Publish(mb.Conn, bot.CommandFailed, ctx.Msg, ctx)

	if assert.Len(t, mb.Conn.Hooks, 1) {
		desc := mb.Conn.Hooks[0].Payload.Embeds[0].Description
		assert.Contains(t, desc, "kaboom")
		assert.Contains(t, desc, "goroutine 1 [running]")
	}
}

func TestExpectedFailuresNotReported(t *testing.T) {
	p, mb := setup(t)
	for _, err := range []error{
		bot.ErrNoPrivateMessage,
		bot.ErrDisabledCommand,
		bot.ErrNotOwner,
		&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusForbidden}},
		&discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}},
	} {
		ctx := failedCtx(mb, err)
		mb.Publish(mb.Conn, bot.CommandFailed, ctx.Msg, ctx)
	}

	assert.Empty(t, mb.Conn.Hooks)
	// they still count as failed invocations in the history
	assert.Len(t, p.batch, 5)
}

func TestOtherRESTErrorsAreReported(t *testing.T) {
	_, mb := setup(t)
	ctx := failedCtx(mb, &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusInternalServerError}})
	mb.Publish(mb.Conn, bot.CommandFailed, ctx.Msg, ctx)
	assert.Len(t, mb.Conn.Hooks, 1)
}

func TestDirectMessageForwarded(t *testing.T) {
	_, mb := setup(t)
	dm := msg.Message{User: &user.User{ID: "100", Name: "alice"}, Channel: "200", Body: "hi there", IsIM: true}
	mb.Publish(mb.Conn, bot.IncomingMessage, dm)

	if assert.Len(t, mb.Conn.Hooks, 1) {
		hook := mb.Conn.Hooks[0]
		assert.Equal(t, "3", hook.ID)
		e := hook.Payload.Embeds[0]
		assert.Equal(t, "hi there", e.Description)
		assert.Equal(t, "User ID: 100", e.Footer)
	}

	// command DMs are forwarded too
	cmd := dm
	cmd.Body = "!uptime"
	mb.Publish(mb.Conn, bot.IncomingMessage, cmd)
	if assert.Len(t, mb.Conn.Hooks, 2) {
		assert.Equal(t, "!uptime", mb.Conn.Hooks[1].Payload.Embeds[0].Description)
	}

	// guild chatter is not DM traffic
	guild := dm
	guild.IsIM = false
	guild.Guild = "300"
	mb.Publish(mb.Conn, bot.IncomingMessage, guild)
	assert.Len(t, mb.Conn.Hooks, 2)
}

func TestGuildJoinAndRemove(t *testing.T) {
	_, mb := setup(t)
	g := &bot.Guild{ID: "300", Name: "testers", OwnerID: "100", MemberCount: 12}

	mb.Publish(mb.Conn, bot.GuildJoin, msg.Message{}, g)
	mb.Publish(mb.Conn, bot.GuildRemove, msg.Message{}, g)

	if assert.Len(t, mb.Conn.Hooks, 2) {
		assert.Equal(t, "New Guild", mb.Conn.Hooks[0].Payload.Embeds[0].Title)
		assert.Equal(t, "Left Guild", mb.Conn.Hooks[1].Payload.Embeds[0].Title)
		fields := mb.Conn.Hooks[0].Payload.Embeds[0].Fields
		assert.Len(t, fields, 4)
		assert.Equal(t, "testers", fields[0].Value)
		assert.Equal(t, "12", fields[3].Value)
	}
}

func TestGatewayStatusQueuedAndNotified(t *testing.T) {
	p, mb := setup(t)
	record := &bot.GatewayRecord{Level: "WARNING", Message: "Disconnected from the gateway", Time: time.Now()}

	mb.Publish(mb.Conn, bot.GatewayStatus, msg.Message{}, record)
	assert.Len(t, p.gateway, 1)

	p.notifyGatewayStatus(<-p.gateway)
	if assert.Len(t, mb.Conn.Hooks, 1) {
		hook := mb.Conn.Hooks[0]
		assert.Equal(t, "4", hook.ID)
		assert.Contains(t, hook.Payload.Content, ":warning:")
		assert.Contains(t, hook.Payload.Content, "Disconnected from the gateway")
	}
}

func TestMissingWebhookDropsSilently(t *testing.T) {
	mb := bot.NewMockBot()
	_, err := New(mb)
	assert.Nil(t, err)

	ctx := failedCtx(mb, errors.New("boom"))
	mb.Publish(mb.Conn, bot.CommandFailed, ctx.Msg, ctx)
	assert.Empty(t, mb.Conn.Hooks)
}

func TestCommandStats(t *testing.T) {
	p, mb := setup(t)
	for i := 0; i < 3; i++ {
		ctx := failedCtx(mb, nil)
		ctx.Failed = false
		mb.Publish(mb.Conn, bot.CommandCompleted, ctx.Msg, ctx)
	}

	ctx := failedCtx(mb, nil)
	assert.Nil(t, p.commandStatsCmd(ctx))

	if assert.NotEmpty(t, mb.Messages) {
		out := mb.Messages[len(mb.Messages)-1]
		assert.Contains(t, out, "ping")
		assert.Contains(t, out, "3")
	}
	// the flush drained the batch into sqlite
	assert.Empty(t, p.batch)
}

func TestCommandStatsEmpty(t *testing.T) {
	p, mb := setup(t)
	assert.Nil(t, p.commandStatsCmd(failedCtx(mb, nil)))
	assert.Equal(t, "No commands recorded yet.", mb.Messages[len(mb.Messages)-1])
}

func TestSocketStats(t *testing.T) {
	p, mb := setup(t)
	mb.St.SocketEvent("MESSAGE_CREATE")
	mb.St.SocketEvent("MESSAGE_CREATE")
	mb.St.SocketEvent("READY")

	assert.Nil(t, p.socketStatsCmd(failedCtx(mb, nil)))
	out := mb.Messages[len(mb.Messages)-1]
	assert.Contains(t, out, "3 socket events")
	assert.Contains(t, out, "MESSAGE_CREATE: 2")
}

func TestUptime(t *testing.T) {
	p, mb := setup(t)
	assert.Nil(t, p.uptimeCmd(failedCtx(mb, nil)))
	assert.Contains(t, mb.Messages[len(mb.Messages)-1], "Uptime:")
}

func TestWorkersRegistered(t *testing.T) {
	_, mb := setup(t)
	assert.Contains(t, mb.Workers, "logs.gateway")
	assert.Contains(t, mb.Workers, "logs.flush")
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short", 512))
	long := strings.Repeat("x", 600)
	assert.Len(t, shorten(long, 512), 512)
	assert.True(t, strings.HasSuffix(shorten(long, 512), "..."))
}
