// tuxbot-setup registers a new bot instance: it records the instance in the
// shared registry and seeds the core settings file.
package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tuxbot-bot/tuxbot/config"
)

var (
	name     = flag.String("name", "", "Instance name")
	dataPath = flag.String("data-path", "", "Instance data directory (default ~/.local/share/tuxbot/<name>)")
	token    = flag.String("token", "", "Bot token")
	prefix   = flag.String("prefix", ".", "Comma separated command prefixes")
	owners   = flag.String("owners", "", "Comma separated owner user IDs")
	mention  = flag.Bool("mentionable", true, "Accept a bot mention as prefix")
)

func main() {
	flag.Parse()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *name == "" {
		log.Fatal().Msg("An instance name is required.")
	}
	if *token == "" {
		log.Fatal().Msg("A bot token is required.")
	}

	path := *dataPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatal().Err(err).Msg("Could not resolve the home directory")
		}
		path = filepath.Join(home, ".local", "share", "tuxbot", *name)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Could not create the data directory")
	}

	registry, err := config.LoadRegistry(config.DefaultRegistryPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Could not read the instance registry")
	}
	if err := registry.Register(*name, path); err != nil {
		log.Fatal().Err(err).Msg("Could not register the instance")
	}

	cfg := config.New(path)
	checkErr(cfg.Set(config.Core, "token", *token))
	checkErr(cfg.Set(config.Core, "prefixes", splitList(*prefix)))
	checkErr(cfg.Set(config.Core, "mentionable", *mention))
	checkErr(cfg.Set(config.Core, "locale", "en-US"))

	ownerIDs := []int64{}
	for _, raw := range splitList(*owners) {
		id, ok := config.ParseID(raw)
		if !ok {
			log.Fatal().Msgf("%q is not a valid user ID", raw)
		}
		ownerIDs = append(ownerIDs, id)
	}
	checkErr(cfg.SetOwners(ownerIDs))

	log.Info().Msgf("Instance %s created at %s", *name, path)
	log.Info().Msgf("Start it with: tuxbot %s", *name)
}

func splitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func checkErr(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("Could not write the instance settings")
	}
}
