package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/darbylab/darby/internal/api"
	"github.com/darbylab/darby/internal/capability"
	"github.com/darbylab/darby/internal/config"
	"github.com/darbylab/darby/internal/daemon"
	"github.com/darbylab/darby/internal/events"
	"github.com/darbylab/darby/internal/logging"
	"github.com/darbylab/darby/internal/task"
	"github.com/darbylab/darby/internal/watch"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the always-on loop: watchers, scheduler, heartbeat, status API",
	Long: `Daemon polls the configured watchers (mail, calendar, chat,
notifications, repo), routes fresh events, executes scheduled tasks, and
serves the loopback status API. The first SIGINT or SIGTERM stops the loop
cleanly; a second one exits immediately. SIGHUP re-reads the .env file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()
		return runDaemon(cmd.Context(), a)
	},
}

func runDaemon(parent context.Context, a *app) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	tasks, err := task.Load(a.cfg.TasksPath)
	if err != nil {
		return err
	}

	opts := daemon.Options{
		PollInterval: a.cfg.ListenerPollInterval,
		TickInterval: a.cfg.SchedulerTickInterval,
		Tasks:        tasks,
	}
	if a.cfg.SchedulerEnabled {
		opts.Execute = a.runInput
	}
	if a.cfg.ListenerEnabled {
		watchers := watch.Build(a.cfg.ListenerWatchers, watch.Sources{
			Maildir:          a.cfg.MaildirPath,
			CalendarPath:     a.cfg.CalendarPath,
			ChatDBPath:       a.cfg.ChatDBPath,
			NotificationsLog: a.cfg.NotificationsLog,
			RepoPath:         a.cfg.RepoPath,
		})
		if len(watchers) > 0 {
			cursors, err := watch.OpenStore(a.cfg.ListenerStatePath)
			if err != nil {
				return err
			}
			defer cursors.Close()
			opts.Watchers = watchers
			opts.Cursors = cursors
			opts.Router = events.New(a.model, a.agent, tasks)
		} else {
			log.Info().Msg("Listener enabled but no watcher sources configured")
		}
	}

	d := daemon.New(opts)

	// Skill files reload live; a changed skill set re-syncs the manifest.
	if dw, err := capability.NewDirWatcher(a.registry, a.cfg.SkillsDir); err == nil {
		dw.OnReload(func() {
			if changed, err := a.manifest.Sync(a.registry.Snapshot()); err != nil {
				log.Warn().Err(err).Msg("Manifest sync after skill reload failed")
			} else if changed {
				log.Info().Int("version", a.manifest.Version()).Msg("Manifest synced after skill reload")
			}
		})
		if err := dw.Start(); err != nil {
			log.Warn().Err(err).Str("dir", a.cfg.SkillsDir).Msg("Skill watching unavailable")
		} else {
			defer dw.Stop()
		}
	} else {
		log.Warn().Err(err).Str("dir", a.cfg.SkillsDir).Msg("Skill watching unavailable")
	}

	// Hot-reload the .env file for the keys that allow it.
	cfgWatcher, err := config.NewWatcher(a.cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Config watching unavailable")
	} else {
		cfgWatcher.OnChange(func(changed []string) {
			log.Info().Strs("keys", changed).Msg("Configuration reloaded")
		})
		if err := cfgWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Config watching unavailable")
		}
		defer cfgWatcher.Stop()
	}

	broadcaster := logging.GetBroadcaster()
	defer broadcaster.Shutdown()

	srv := api.New(a.cfg.StatusAddr, func(ctx context.Context) api.Status {
		st := d.Stats()
		return api.Status{
			Version:         Version,
			Uptime:          time.Since(st.StartedAt).Round(time.Second).String(),
			Provider:        a.model.Name(),
			Providers:       a.model.ProbeAll(ctx),
			ManifestVersion: a.manifest.Version(),
			Daemon:          st,
		}
	}, broadcaster)
	srv.Start(ctx)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	go func() {
		for {
			select {
			case <-hup:
				if cfgWatcher != nil {
					log.Info().Msg("SIGHUP received; reloading configuration")
					cfgWatcher.Reload()
				}
			case <-stop:
				log.Info().Msg("Shutdown signal received")
				cancel()
				<-stop
				log.Warn().Msg("Second signal; exiting immediately")
				os.Exit(1)
			case <-ctx.Done():
				return
			}
		}
	}()

	return d.Run(ctx)
}
