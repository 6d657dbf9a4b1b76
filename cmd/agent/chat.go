package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Dethon/Agent-sub012/internal/bus"
	"github.com/Dethon/Agent-sub012/internal/channels"
	"github.com/Dethon/Agent-sub012/internal/config"
	"github.com/Dethon/Agent-sub012/internal/mcpserver"
	"github.com/Dethon/Agent-sub012/internal/monitor"
	"github.com/Dethon/Agent-sub012/internal/resourcemon"
	"github.com/Dethon/Agent-sub012/internal/state"
	"github.com/Dethon/Agent-sub012/internal/web"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

func runChat(opts *chatOptions) error {
	switch opts.mode {
	case modeTerminal, modeBot, modeWeb, modeOnce:
	default:
		return fmt.Errorf("unknown chat mode %q (want terminal, bot, web or once)", opts.mode)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := buildLogger(cfg.Logging, opts.debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, opts.mode, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("agent starting", "version", version, "chat", opts.mode)

	switch opts.mode {
	case modeBot:
		err = rt.runBot(ctx, opts.agentID)
	case modeWeb:
		err = rt.runWeb(ctx)
	case modeOnce:
		err = rt.runOnce(ctx, opts.agentID, opts.prompt)
	default:
		err = rt.runTerminal(ctx, opts.agentID)
	}
	if err != nil {
		return err
	}
	logger.Info("agent stopped")
	return nil
}

// runTerminal wires stdin/stdout to a single conversation.
func (rt *runtime) runTerminal(ctx context.Context, agentFlag string) error {
	agentID, err := rt.pickAgent(agentFlag, "")
	if err != nil {
		return err
	}

	term, err := channels.NewTerminal(channels.TerminalConfig{
		Registry: rt.registry,
		Key: models.ConversationKey{
			ChatID:  models.DeriveChatID("terminal"),
			AgentID: agentID,
		},
		Logger: rt.logger,
	})
	if err != nil {
		return err
	}

	mon := monitor.New(monitor.Config{Registry: rt.registry, Metrics: rt.metrics, Logger: rt.logger})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx, term.Prompts()) })
	g.Go(func() error { return term.Run(gctx) })
	go rt.sweepLoop(gctx)

	return ignoreCancel(g.Wait())
}

// runOnce submits a single prompt and prints the full reply.
func (rt *runtime) runOnce(ctx context.Context, agentFlag, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("--chat once needs --prompt")
	}
	agentID, err := rt.pickAgent(agentFlag, "")
	if err != nil {
		return err
	}

	once, err := channels.NewOnce(channels.OnceConfig{
		Registry: rt.registry,
		Key: models.ConversationKey{
			ChatID:  models.DeriveChatID("once"),
			AgentID: agentID,
		},
		Text:   prompt,
		Logger: rt.logger,
	})
	if err != nil {
		return err
	}

	mon := monitor.New(monitor.Config{Registry: rt.registry, Metrics: rt.metrics, Logger: rt.logger})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx, once.Prompts()) })
	g.Go(func() error { return once.Run(gctx) })
	return ignoreCancel(g.Wait())
}

// runBot serves the Telegram surface.
func (rt *runtime) runBot(ctx context.Context, agentFlag string) error {
	if !rt.cfg.Bot.Enabled {
		return fmt.Errorf("telegram bot is disabled in config")
	}
	agentID, err := rt.pickAgent(agentFlag, rt.cfg.Bot.DefaultAgent)
	if err != nil {
		return err
	}

	tg, err := channels.NewTelegram(channels.TelegramConfig{
		Token:        rt.cfg.Bot.Token,
		AllowedUsers: rt.cfg.Bot.AllowedUsers,
		Registry:     rt.registry,
		AgentID:      agentID,
		Logger:       rt.logger,
	})
	if err != nil {
		return err
	}

	mon := monitor.New(monitor.Config{Registry: rt.registry, Metrics: rt.metrics, Logger: rt.logger})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx, tg.Prompts()) })
	g.Go(func() error { return tg.Run(gctx) })
	go rt.sweepLoop(gctx)

	return ignoreCancel(g.Wait())
}

// runWeb serves the browser gateway, the MCP endpoint and, when
// enabled, the NATS bus. All three feed the same monitor.
func (rt *runtime) runWeb(ctx context.Context) error {
	defaultAgent, err := rt.pickAgent("", "")
	if err != nil {
		return err
	}

	topics := state.NewTopicStore(rt.redis)
	memories := state.NewMemoryStore(rt.redis)
	downloads := state.NewDownloadStore(rt.redis)
	push := state.NewPushStore(rt.redis)

	tracker := resourcemon.New(resourcemon.Config{
		Provider: downloads,
		Interval: rt.cfg.Resources.TickInterval,
		Metrics:  rt.metrics,
		Logger:   rt.logger,
	})

	mcpSrv := mcpserver.New(mcpserver.Config{
		Name:         "agent",
		Version:      version,
		Registry:     rt.registry,
		Memories:     memories,
		Downloads:    downloads,
		DefaultAgent: defaultAgent,
		ValidAgents:  rt.agentIDs(),
		Metrics:      rt.metrics,
		Logger:       rt.logger,
	})
	// MCP chat callers follow their downloads through the shared
	// tracker rather than one subscription per call.
	tracker.Subscribe("mcp", "download://{id}/", mcpSrv.Notifier())

	webSrv := web.New(web.Config{
		Server:       rt.cfg.Server,
		Registry:     rt.registry,
		Topics:       topics,
		Push:         push,
		History:      rt.history,
		Tracker:      tracker,
		MCP:          mcpSrv.Handler(),
		DefaultAgent: defaultAgent,
		Agents:       rt.agentIDs(),
		Metrics:      rt.metrics,
		Logger:       rt.logger,
	})

	feeds := []<-chan *models.Prompt{webSrv.Prompts(), mcpSrv.Prompts()}

	g, gctx := errgroup.WithContext(ctx)

	if rt.cfg.Bus.Enabled {
		natsBus, err := bus.Connect(bus.Config{
			Bus:      rt.cfg.Bus,
			Registry: rt.registry,
			Metrics:  rt.metrics,
			Logger:   rt.logger,
		})
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer natsBus.Close()
		feeds = append(feeds, natsBus.Prompts())
		g.Go(func() error { return natsBus.Run(gctx) })
	}

	mon := monitor.New(monitor.Config{Registry: rt.registry, Metrics: rt.metrics, Logger: rt.logger})

	g.Go(func() error { return webSrv.Start(gctx) })
	g.Go(func() error { return tracker.Run(gctx) })
	g.Go(func() error { return mon.Run(gctx, monitor.Merge(feeds...)) })
	go rt.sweepLoop(gctx)

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if shutErr := mcpSrv.Shutdown(shutdownCtx); shutErr != nil {
		rt.logger.Warn("mcp server shutdown", "error", shutErr)
	}

	return ignoreCancel(err)
}

// ignoreCancel drops the error a clean signal-driven shutdown
// produces.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
