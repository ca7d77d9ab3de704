package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"cebus/internal/agent"
	"cebus/internal/chat"
	cebuscli "cebus/internal/cli"
	"cebus/internal/config"
	"cebus/internal/providers"
	"cebus/internal/state"
	"cebus/internal/tui"
)

type runtimeDeps struct {
	db          *state.DB
	session     *state.Session
	coordinator *chat.Coordinator
	logger      *chat.DebugLogger
	configChan  chan *config.Config
	stopWatch   func()
}

func (r *runtimeDeps) Close() {
	if r == nil {
		return
	}
	if r.stopWatch != nil {
		r.stopWatch()
	}
	if r.coordinator != nil {
		r.coordinator.Shutdown()
	}
	if r.logger != nil {
		r.logger.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}

func restoreTerminalState() {
	fmt.Fprint(os.Stderr, "\x1b[?25h\x1b[0m")
}

type chatOptions struct {
	models      []string
	title       string
	orchestrate bool
	resumeID    string
}

func bootstrapRuntime(cfg *config.Config, opts chatOptions) (*runtimeDeps, error) {
	setup, err := cebuscli.BuildSession(cfg, opts.models, opts.orchestrate || cfg.Session.Orchestrator)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	statuses := providers.CheckAll(pingCtx, setup.Providers)
	cancel()
	if !providers.AnyOnline(statuses) {
		for _, s := range statuses {
			fmt.Fprintf(os.Stderr, "%s: %s\n", s.Name, s.ErrorMsg)
		}
		return nil, errors.New("no provider is reachable; run `cebus providers connect <provider>` first")
	}

	rt := &runtimeDeps{}
	ctx := context.Background()

	dbPath, err := state.DefaultPath()
	if err != nil {
		return nil, err
	}
	rt.db, err = state.Connect(dbPath)
	if err != nil {
		return nil, err
	}

	var history []agent.HistoryMessage
	if opts.resumeID != "" {
		session, err := rt.db.GetSession(ctx, opts.resumeID)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.session = session
		stored, err := rt.db.GetMessages(ctx, session.ID)
		if err != nil {
			rt.Close()
			return nil, err
		}
		for _, m := range stored {
			history = append(history, agent.HistoryMessage{Role: m.Role, Sender: m.SenderID, Content: m.Content})
		}
	} else {
		title := opts.title
		if title == "" {
			title = cfg.Session.DefaultTitle
		}
		session, err := rt.db.CreateSession(ctx, title, setup.Mode)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.session = session
	}

	for _, p := range chat.ModelParticipants(setup.Participants) {
		profile := setup.Profiles[p.ID]
		_ = rt.db.SaveParticipant(ctx, state.SessionParticipant{
			SessionID:     rt.session.ID,
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			DisplayName:   p.DisplayName,
			Provider:      profile.Provider.Name(),
			Model:         profile.Model,
		})
	}

	if chat.DebugEnabled() {
		if logger, err := chat.OpenDebugLogger(); err == nil {
			rt.logger = logger
		}
	}

	rt.coordinator = chat.NewCoordinator(chat.CoordinatorConfig{
		Participants: setup.Participants,
		Profiles:     setup.Profiles,
		Workers:      setup.Workers,
		PlannerID:    setup.PlannerID,
		IdleTimeout:  cfg.IdleTimeout(),
		History:      history,
		Logger:       rt.logger,
	})

	rt.configChan = make(chan *config.Config, 1)
	stop, err := config.Watch(config.GetConfigPath(), func(fresh *config.Config) {
		select {
		case rt.configChan <- fresh:
		default:
		}
	})
	if err == nil {
		rt.stopWatch = stop
	}

	return rt, nil
}

func main() {
	var opts chatOptions
	var debug bool
	var interactive bool

	rootCmd := &cobra.Command{
		Use:   "cebus",
		Short: "Chat with several AI models in one terminal session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !interactive && !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				return errors.New("cebus needs an interactive terminal; see `cebus --help`")
			}
			if debug {
				_ = os.Setenv("CEBUS_DEBUG", "1")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			rt, err := bootstrapRuntime(cfg, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			return tui.Run(tui.AppOptions{
				Coordinator: rt.coordinator,
				DB:          rt.db,
				Session:     rt.session,
				Config:      cfg,
				ConfigChan:  rt.configChan,
			})
		},
	}

	rootCmd.Flags().StringArrayVarP(&opts.models, "models", "m", nil, "model participant, e.g. gpt, claude, openai:gpt-4o (repeatable)")
	rootCmd.Flags().StringVarP(&opts.title, "title", "t", "", "session title")
	rootCmd.Flags().BoolVarP(&opts.orchestrate, "orchestrate", "o", false, "route undirected messages through a planning orchestrator")
	rootCmd.Flags().StringVar(&opts.resumeID, "resume", "", "resume a previous session by id")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "write a JSON debug log")
	rootCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "skip the terminal check and start the TUI anyway")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return config.RunConfigForm(cfg)
		},
	}

	cfgForCommands, _ := config.Load()
	rootCmd.AddCommand(
		configCmd,
		cebuscli.NewProvidersCmd(cfgForCommands),
		cebuscli.NewSessionsCmd(),
		cebuscli.NewStatsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		restoreTerminalState()
		os.Exit(1)
	}
	restoreTerminalState()
}
