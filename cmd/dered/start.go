package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dere-run/dered/bond"
	"github.com/dere-run/dered/container"
	"github.com/dere-run/dered/emotion"
	"github.com/dere-run/dered/eventbus"
	"github.com/dere-run/dered/httpapi"
	"github.com/dere-run/dered/internal/config"
	"github.com/dere-run/dered/llm"
	"github.com/dere-run/dered/mission"
	"github.com/dere-run/dered/rareevent"
	"github.com/dere-run/dered/session"
	"github.com/dere-run/dered/store"
	"github.com/dere-run/dered/swarm"
	"github.com/dere-run/dered/workqueue"
)

// startCmd boots every subsystem in dependency order and runs the HTTP/WS
// facade until interrupted, using the same flag set and
// signal.NotifyContext shape as any single-process daemon entry point,
// generalized to the daemon's full coordinator graph instead of one
// dashboard server.
func startCmd(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	addr := fs.String("addr", "", "override DERED_ADDR")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: dered start [-addr :8080]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if pid, err := readPID(); err == nil && processAlive(pid) {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	if err := writePIDFile(); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	defer removePIDFile()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return run(ctx, cfg)
}

// run wires every subsystem and blocks until ctx is cancelled, then tears
// everything down in reverse init order, per the single process-wide
// state the daemon owns: the store connection pool, the session registry,
// and the scheduler/rare-event background handles.
func run(ctx context.Context, cfg config.Config) error {
	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		return fmt.Errorf("init store schema: %w", err)
	}

	bus, err := eventbus.Start(eventbus.Config{Port: cfg.NATSPort, ClientID: "dered"})
	if err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	defer bus.Close()

	model := llm.NewAnthropic(
		llm.WithAPIKey(cfg.AnthropicAPIKey),
		llm.WithModel(cfg.AnthropicModel),
	)

	bonds := bond.New(st)
	emotions := emotion.New(st, model)

	baseEnv := func(personality string, allowedTools []string) []string {
		env := []string{"DERED_MODEL=" + cfg.DefaultModel}
		if personality != "" {
			env = append(env, "DERED_PERSONALITY="+personality)
		}
		if len(allowedTools) > 0 {
			env = append(env, "DERED_ALLOWED_TOOLS="+strings.Join(allowedTools, ","))
		}
		return env
	}

	containers, err := container.NewManager(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("init container manager: %w", err)
	}
	defer containers.Close()
	if !containers.IsAvailable() {
		slog.Warn("dered: docker unavailable, sessions requesting a sandbox image will run on the host instead")
	}
	catalog := newToolCatalog(containers)
	sandbox := newSandboxAdapterFactory(containers, catalog, cfg.AgentCommand, cfg.SandboxImage, baseEnv)

	sessions := session.NewService(st, sandbox.factory, bonds, emotions)
	defer func() {
		for _, id := range sessions.ListActive() {
			sessions.CloseSession(context.Background(), id)
		}
	}()

	tasks := workqueue.New(st)

	executor := mission.NewSessionExecutor(st, sessions)
	scheduler := mission.NewScheduler(st, executor, cfg.SchedulerTick)
	go scheduler.Start(ctx)
	defer scheduler.Stop()

	swarmRunner := newSessionAgentRunner(sessions)
	swarms := swarm.New(st, swarmRunner)

	rare := rareevent.NewGenerator(st, bonds, emotions, rareevent.Config{
		Cooldown: cfg.RareEventCooldown,
		DailyCap: cfg.RareEventDailyCap,
	})
	rare.OnCreate(func(ev store.RareEvent) {
		if err := bus.PublishJSON(eventbus.RareEvents(ev.UserID), ev); err != nil {
			slog.Error("main: publish rare event failed", "user_id", ev.UserID, "error", err)
		}
	})
	go rare.Start(ctx, func() []rareevent.Subject {
		return activeSessionSubjects(sessions, st)
	})
	defer rare.Stop()

	srv := httpapi.New(httpapi.Config{Addr: cfg.Addr}, st, tasks, scheduler, executor, swarms, sessions, bonds, emotions, rare, bus, containers, model)

	slog.Info("dered: starting", "addr", cfg.Addr, "db", cfg.DBPath)
	return srv.Start(ctx)
}

// activeSessionSubjects turns every currently-running session into a rare
// event subject, looking up each one's owning user id from the store since
// session.Service's in-memory registry only tracks IDs.
func activeSessionSubjects(sessions *session.Service, st store.Store) []rareevent.Subject {
	var subjects []rareevent.Subject
	for _, id := range sessions.ListActive() {
		sess, err := st.GetSession(context.Background(), id)
		if err != nil || sess.UserID == "" {
			continue
		}
		subjects = append(subjects, rareevent.Subject{
			UserID:           sess.UserID,
			SessionID:        id,
			ActivityCategory: sess.Medium,
		})
	}
	return subjects
}
