// The bridge gateway relays chat between website visitors and the
// operator channels configured through the environment.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pocketping/bridge-gateway/pkg/api"
	"github.com/pocketping/bridge-gateway/pkg/bridge"
	"github.com/pocketping/bridge-gateway/pkg/channels/discord"
	"github.com/pocketping/bridge-gateway/pkg/channels/slack"
	"github.com/pocketping/bridge-gateway/pkg/channels/telegram"
	"github.com/pocketping/bridge-gateway/pkg/config"
	"github.com/pocketping/bridge-gateway/pkg/gateway"
	"github.com/pocketping/bridge-gateway/pkg/logger"
	"github.com/pocketping/bridge-gateway/pkg/registry"
	"github.com/pocketping/bridge-gateway/pkg/router"
	"github.com/pocketping/bridge-gateway/pkg/webhook"
)

func main() {
	// A local .env is a convenience, not a requirement.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		l := logger.Get()
		l.Fatal().Err(err).Msg("load config")
	}
	logger.Init(cfg.Log)
	log := logger.Component("main")

	var store registry.Store
	if cfg.DBPath != "" {
		s, err := registry.OpenSQLiteStore(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open store")
		}
		store = s
	}
	reg := registry.New(store)
	defer reg.Close()

	var bridges []bridge.Bridge
	if cfg.Telegram.Enabled() {
		tg, err := telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram bridge")
		}
		bridges = append(bridges, tg)
	}
	if cfg.Discord.Enabled() {
		dc, err := discord.New(cfg.Discord.BotToken, cfg.Discord.ChannelID)
		if err != nil {
			log.Fatal().Err(err).Msg("discord bridge")
		}
		bridges = append(bridges, dc)
	}
	if cfg.Slack.Enabled() {
		bridges = append(bridges, slack.New(cfg.Slack.BotToken, cfg.Slack.ChannelID, cfg.Slack.Username, cfg.Slack.IconEmoji))
	}
	if len(bridges) == 0 {
		log.Warn().Msg("no bridges configured, events go to SSE and webhook only")
	}

	sender := webhook.NewSender(cfg.EventsWebhookURL, cfg.EventsWebhookSecret)
	rt := router.New(reg, sender, bridges...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Discord.Enabled() && cfg.Discord.EnableGateway {
		gw := gateway.New(cfg.Discord.BotToken, &discordIngest{rt: rt},
			gateway.WithAllowedBots(cfg.TestBotIDs))
		go func() {
			if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("discord gateway stopped")
			}
		}()
	}

	server := api.NewServer(cfg, rt)
	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start server")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	cancel()
	if err := server.Stop(); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

// discordIngest feeds gateway dispatches into the router, resolving
// thread channels to sessions first.
type discordIngest struct {
	rt *router.Router
}

func (d *discordIngest) OperatorMessage(channelID, messageID, content, operatorName string) {
	if sessionID, ok := d.rt.ResolveThread("discord", channelID); ok {
		d.rt.RecordOperatorMessage("discord", messageID, sessionID, content, operatorName)
	}
}

func (d *discordIngest) OperatorEdit(channelID, messageID, content string) {
	if sessionID, ok := d.rt.ResolveThread("discord", channelID); ok {
		d.rt.RecordOperatorEdit("discord", messageID, sessionID, content)
	}
}

func (d *discordIngest) OperatorDelete(channelID, messageID string) {
	if sessionID, ok := d.rt.ResolveThread("discord", channelID); ok {
		d.rt.RecordOperatorDelete("discord", messageID, sessionID)
	}
}
