package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tuxbot-bot/tuxbot/bot"
	"github.com/tuxbot-bot/tuxbot/bot/stats"
	"github.com/tuxbot-bot/tuxbot/config"
	"github.com/tuxbot-bot/tuxbot/connectors/discord"
	"github.com/tuxbot-bot/tuxbot/plugins/admin"
	"github.com/tuxbot-bot/tuxbot/plugins/logs"
	"github.com/tuxbot-bot/tuxbot/web"
)

const tuxbotVersion = "3.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		token       string
		showVersion bool
		showDebug   bool
		listInst    bool
	)

	fs := flag.NewFlagSet("tuxbot", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: tuxbot <instance_name> [arguments]")
		fs.PrintDefaults()
	}
	fs.StringVar(&token, "token", "", "Override the configured bot token")
	fs.BoolVar(&showVersion, "version", false, "Show tuxbot's used version")
	fs.BoolVar(&showVersion, "V", false, "Show tuxbot's used version (shorthand)")
	fs.BoolVar(&showDebug, "debug", false, "Show debug information")
	fs.BoolVar(&listInst, "list-instances", false, "List all instance names")
	fs.BoolVar(&listInst, "L", false, "List all instance names (shorthand)")

	fs.Parse(args)
	instance := ""
	if fs.NArg() > 0 {
		// flags may follow the instance name
		instance = fs.Arg(0)
		fs.Parse(fs.Args()[1:])
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp})

	if showVersion {
		fmt.Printf("Tuxbot V%s\n", tuxbotVersion)
		return bot.ExitShutdown
	}
	if showDebug {
		debugInfo()
		return bot.ExitShutdown
	}

	registry, err := config.LoadRegistry(config.DefaultRegistryPath())
	if err != nil {
		log.Error().Err(err).Msg("Could not read the instance registry")
		return bot.ExitCritical
	}

	if listInst {
		for _, name := range registry.Names() {
			fmt.Printf("-> %s\n", name)
		}
		return bot.ExitShutdown
	}

	if instance == "" {
		log.Error().Msg("No instance provided! You can use 'tuxbot -L' to list all available instances")
		return bot.ExitCritical
	}
	inst, ok := registry.Get(instance)
	if !ok {
		log.Error().Msgf("No instance named %q. You can use 'tuxbot -L' to list all available instances", instance)
		return bot.ExitCritical
	}

	cfg := config.New(inst.DataPath)
	if token == "" {
		token = cfg.Token()
	}
	if token == "" {
		log.Error().Msg("Token must be set if you want to login.")
		return bot.ExitCritical
	}

	db, err := sqlx.Open("sqlite3", filepath.Join(inst.DataPath, "tuxbot.db"))
	if err != nil {
		log.Error().Err(err).Msg("Could not open the instance database")
		return bot.ExitCritical
	}
	defer db.Close()

	conn, err := discord.New(cfg, token)
	if err != nil {
		log.Error().Err(err).Msg("Could not create the Discord client")
		return bot.ExitCritical
	}

	st := stats.New()
	b := bot.New(cfg, conn, db, st)

	w := web.New(cfg, st)
	b.SetWeb(w)
	b.Go("web", func(ctx context.Context) {
		w.Serve(ctx, cfg.GetString(config.Core, "http_addr", "127.0.0.1:1337"))
	})

	b.LoadPlugin("admin", admin.New)
	b.LoadPlugin("logs", logs.New)

	if err := conn.Serve(); err != nil {
		log.Error().Err(err).Msg("Login failed, this token appears to be invalid.")
		b.Shutdown()
		return bot.ExitCritical
	}

	if err := registry.SetRunning(instance, true); err != nil {
		log.Warn().Err(err).Msg("could not mark instance running")
	}
	defer func() {
		if err := registry.SetRunning(instance, false); err != nil {
			log.Warn().Err(err).Msg("could not mark instance stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	code := bot.ExitShutdown
	select {
	case s := <-sig:
		log.Warn().Msgf("%s received. Quitting...", s)
	case code = <-b.QuitSignal():
		log.Info().Msgf("Shutting down with exit code: %d", code)
	}

	b.Shutdown()
	return code
}

func debugInfo() {
	fmt.Printf("Tuxbot version: %s\n", tuxbotVersion)
	fmt.Println()
	fmt.Printf("Go version: %s\n", runtime.Version())
	fmt.Printf("Discordgo version: %s\n", discordgo.VERSION)
	fmt.Println()
	fmt.Printf("OS info: %s (%s)\n", runtime.GOOS, runtime.GOARCH)
}
