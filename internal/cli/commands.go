package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cebus/internal/config"
	"cebus/internal/providers"
	"cebus/internal/state"
)

type providerSpec struct {
	Name        string
	DisplayName string
	KeyName     string
	Nickname    string
	Aliases     []string
	NeedsKey    bool
	Builder     func(cfg *config.Config) providers.Provider
	Model       func(cfg *config.Config) string
}

func providerSpecs() []providerSpec {
	return []providerSpec{
		{
			Name:        "anthropic",
			DisplayName: "Claude",
			KeyName:     "anthropic",
			Nickname:    "claude",
			Aliases:     []string{"claude"},
			NeedsKey:    true,
			Builder: func(_ *config.Config) providers.Provider {
				return providers.NewAnthropic()
			},
			Model: func(cfg *config.Config) string {
				return cfg.Providers.Anthropic.DefaultModel
			},
		},
		{
			Name:        "openai",
			DisplayName: "GPT",
			KeyName:     "openai",
			Nickname:    "gpt",
			Aliases:     []string{"gpt"},
			NeedsKey:    true,
			Builder: func(cfg *config.Config) providers.Provider {
				baseURL := ""
				if cfg != nil {
					baseURL = cfg.Providers.OpenAI.BaseURL
				}
				return providers.NewOpenAI(baseURL, "openai")
			},
			Model: func(cfg *config.Config) string {
				return cfg.Providers.OpenAI.DefaultModel
			},
		},
		{
			Name:        "ollama",
			DisplayName: "Ollama",
			KeyName:     "",
			Nickname:    "llama",
			Aliases:     []string{"llama", "local"},
			Builder: func(cfg *config.Config) providers.Provider {
				host := ""
				if cfg != nil {
					host = cfg.Providers.Ollama.Host
				}
				return providers.NewOllama(host)
			},
			Model: func(cfg *config.Config) string {
				return cfg.Providers.Ollama.DefaultModel
			},
		},
	}
}

func resolveProvider(input string) (providerSpec, error) {
	name := strings.ToLower(strings.TrimSpace(input))
	for _, spec := range providerSpecs() {
		if name == spec.Name || name == strings.ToLower(spec.DisplayName) {
			return spec, nil
		}
		for _, alias := range spec.Aliases {
			if name == alias {
				return spec, nil
			}
		}
	}
	return providerSpec{}, fmt.Errorf("unknown provider %q", input)
}

// NewProvidersCmd manages provider credentials and connectivity.
func NewProvidersCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Manage model providers",
	}
	cmd.AddCommand(newProvidersListCmd(cfg))
	cmd.AddCommand(newProvidersConnectCmd())
	cmd.AddCommand(newProvidersDisconnectCmd())
	cmd.AddCommand(newProvidersModelsCmd(cfg))
	return cmd
}

func newProvidersListCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show provider connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			var provs []providers.Provider
			for _, spec := range providerSpecs() {
				provs = append(provs, spec.Builder(cfg))
			}
			statuses := providers.CheckAll(ctx, provs)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tSTATUS\tDETAIL")
			for _, s := range statuses {
				status := "online"
				if !s.IsOnline {
					status = "offline"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, status, s.ErrorMsg)
			}
			return w.Flush()
		},
	}
}

func newProvidersConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <provider>",
		Short: "Store an API key for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := resolveProvider(args[0])
			if err != nil {
				return err
			}
			if !spec.NeedsKey {
				fmt.Fprintf(cmd.OutOrStdout(), "%s needs no API key.\n", spec.DisplayName)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Enter %s API key: ", spec.DisplayName)
			reader := bufio.NewReader(cmd.InOrStdin())
			raw, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			key := strings.TrimSpace(raw)
			if err := providers.ValidateCredential(key); err != nil {
				return err
			}
			if err := providers.StoreCredential(spec.KeyName, key); err != nil {
				return fmt.Errorf("store key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored credential for %s.\n", spec.DisplayName)
			return nil
		},
	}
}

func newProvidersDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <provider>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := resolveProvider(args[0])
			if err != nil {
				return err
			}
			if !spec.NeedsKey {
				return nil
			}
			if err := providers.DeleteCredential(spec.KeyName); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed credential for %s.\n", spec.DisplayName)
			return nil
		},
	}
}

func newProvidersModelsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "models <provider>",
		Short: "List models offered by a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := resolveProvider(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			models, err := spec.Builder(cfg).ListModels(ctx)
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

// NewSessionsCmd lists past sessions from the local database.
func NewSessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStateDB()
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := db.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMODE\tCREATED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					shortID(s.ID), s.Title, s.Mode, s.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")
	return cmd
}

// NewStatsCmd prints persisted token usage for a session.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [session-id]",
		Short: "Show token usage for a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStateDB()
			if err != nil {
				return err
			}
			defer db.Close()

			sessionID, err := resolveSessionID(cmd.Context(), db, args)
			if err != nil {
				return err
			}

			totals, err := db.GetUsageTotals(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			if len(totals) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No usage recorded for this session.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PARTICIPANT\tMESSAGES\tINPUT\tOUTPUT")
			var in, out int
			for _, u := range totals {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", u.ParticipantID, u.Messages, u.InputTokens, u.OutputTokens)
				in += u.InputTokens
				out += u.OutputTokens
			}
			fmt.Fprintf(w, "total\t\t%d\t%d\n", in, out)
			return w.Flush()
		},
	}
}

func resolveSessionID(ctx context.Context, db *state.DB, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	sessions, err := db.ListSessions(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no sessions recorded yet")
	}
	return sessions[0].ID, nil
}

func openStateDB() (*state.DB, error) {
	path, err := state.DefaultPath()
	if err != nil {
		return nil, err
	}
	return state.Connect(path)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
