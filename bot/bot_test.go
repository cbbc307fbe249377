package bot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tuxbot-bot/tuxbot/bot/msg"
)

func TestRegisterCommandKeepsFirst(t *testing.T) {
	b, _ := testBot(t)
	b.RegisterCommand(&Command{Name: "ping", Help: "first"})
	b.RegisterCommand(&Command{Name: "ping", Help: "second"})
	assert.Equal(t, "first", b.lookup("ping").Help)
}

func TestRegisterCommandAliases(t *testing.T) {
	b, _ := testBot(t)
	b.RegisterCommand(&Command{Name: "commandstats", Aliases: []string{"cs"}})
	b.RegisterCommand(&Command{Name: "uptime", Aliases: []string{"cs"}})

	assert.Equal(t, "commandstats", b.lookup("cs").Name)

	// Commands lists each command once, sorted by primary name
	cmds := b.Commands()
	if assert.Len(t, cmds, 2) {
		assert.Equal(t, "commandstats", cmds[0].Name)
		assert.Equal(t, "uptime", cmds[1].Name)
	}
}

func TestPublishSurvivesSubscriberPanic(t *testing.T) {
	b, conn := testBot(t)
	reached := false
	b.Subscribe(GuildJoin, func(c Connector, k EventKind, m msg.Message, args ...interface{}) {
		panic("bad subscriber")
	})
	b.Subscribe(GuildJoin, func(c Connector, k EventKind, m msg.Message, args ...interface{}) {
		reached = true
	})

	b.Publish(conn, GuildJoin, msg.Message{}, &Guild{ID: "300"})
	assert.True(t, reached)
}

func TestQuitFirstRequestWins(t *testing.T) {
	b, _ := testBot(t)
	b.Quit(ExitRestart)
	b.Quit(ExitShutdown)
	assert.Equal(t, ExitRestart, <-b.QuitSignal())
}

func TestIsOwnerFromConfig(t *testing.T) {
	b, conn := testBot(t)
	assert.Nil(t, b.Config().SetOwners([]int64{100}))

	assert.True(t, b.IsOwner("100"))
	assert.False(t, b.IsOwner("not-an-id"))
	// the configured list answered, no remote fetch happened
	assert.Equal(t, 0, conn.OwnerCalls)
}

func TestIsOwnerFetchesTeamOnce(t *testing.T) {
	b, conn := testBot(t)
	conn.Owners = []int64{100, 500}

	assert.True(t, b.IsOwner("100"))
	assert.True(t, b.IsOwner("500"))
	assert.False(t, b.IsOwner("600"))
	assert.Equal(t, 1, conn.OwnerCalls)

	// the fetched team got merged into the persisted list
	assert.ElementsMatch(t, []int64{100, 500}, b.Config().Owners())
}

func TestIsOwnerFetchFailureIsNotRetried(t *testing.T) {
	b, conn := testBot(t)
	conn.OwnerErr = errors.New("api down")

	assert.False(t, b.IsOwner("100"))
	assert.False(t, b.IsOwner("100"))
	assert.Equal(t, 1, conn.OwnerCalls)
}

func TestSendCountsSentMessages(t *testing.T) {
	b, conn := testBot(t)
	_, err := b.Send(conn, Message, "200", "hello")
	assert.Nil(t, err)
	assert.Equal(t, 1, b.Stats().Snapshot().MessagesSent)

	conn.SendErr = errors.New("closed")
	_, err = b.Send(conn, Message, "200", "hello")
	assert.NotNil(t, err)
	assert.Equal(t, 1, b.Stats().Snapshot().MessagesSent)
}

func TestLoadPluginSkipsFailures(t *testing.T) {
	b, _ := testBot(t)
	b.LoadPlugin("broken", func(Bot) (Plugin, error) {
		return nil, errors.New("nope")
	})
	assert.Empty(t, b.plugins)

	b.LoadPlugin("ok", func(Bot) (Plugin, error) {
		return &namedPlugin{}, nil
	})
	assert.Len(t, b.plugins, 1)
}

type namedPlugin struct{}

func (*namedPlugin) Name() string { return "ok" }
