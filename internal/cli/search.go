package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"sales-intel-be/internal/config"
	"sales-intel-be/internal/pkg/logger"
	"sales-intel-be/pkg/agentic"
	"sales-intel-be/pkg/agentic/connection"
	"sales-intel-be/pkg/agentic/fallback"
	"sales-intel-be/pkg/agentic/session"
)

var (
	searchJSON        bool
	searchLimit       int
	searchSuggestions int
	searchNoPartners  bool
	searchCompanies   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run one agentic search",
	Long: `Run one agentic search against the backend configured by API_URL / WS_URL
and print every phase as it arrives.

Examples:
  sales-intel search "fintech companies in Jakarta"
  sales-intel search --json --limit 5 "logistics"
  sales-intel search --no-suggestions "retail chains"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print the final state as JSON")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (default from config)")
	searchCmd.Flags().IntVar(&searchSuggestions, "suggestions", 0, "partner suggestion limit (default from config)")
	searchCmd.Flags().BoolVar(&searchNoPartners, "no-suggestions", false, "do not ask for partner suggestions")
	searchCmd.Flags().BoolVar(&searchCompanies, "companies-only", false, "search companies only")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	log := logger.NewConsoleLogger(verbose)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := connection.NewWebSocketDialer(cfg.Backend.WSURL, cfg.Backend.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("invalid WS_URL: %w", err)
	}
	coordinator := fallback.NewCoordinator(
		fallback.NewRESTClient(cfg.Backend.APIURL, cfg.Backend.RequestTimeout, nil),
		fallback.NewMemoryDirectory(cfg.Fallback.DirectoryTTL),
		log,
		fallback.Config{
			DomainLimit:    cfg.Fallback.DomainLimit,
			HeuristicLimit: cfg.Fallback.HeuristicLimit,
			Timeout:        cfg.Backend.RequestTimeout,
		},
	)

	opts := searchOptions(cfg)
	out := cmd.OutOrStdout()
	r := newRun(out, opts, !searchJSON)

	ctrl := session.NewController(ctx, connection.NewManager(dialer, log), coordinator, log,
		session.Config{IdleTimeout: cfg.Search.IdleTimeout}, r.hooks())

	if _, ok := ctrl.Search(strings.Join(args, " "), opts); !ok {
		return errors.New("query is empty")
	}

	var final agentic.SessionState
	select {
	case final = <-r.done:
	case <-ctx.Done():
		ctrl.Cancel()
		final = ctrl.Snapshot()
		printWarn(out, "cancelled")
	}

	if searchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	}
	renderState(out, final)
	if final.Phase == agentic.PhaseError {
		return errors.New(final.Error)
	}
	return nil
}

func searchOptions(cfg *config.Config) agentic.SearchOptions {
	opts := agentic.DefaultSearchOptions()
	opts.Limit = cfg.Search.DefaultLimit
	opts.PartnerSuggestionLimit = cfg.Search.PartnerSuggestionLimit
	if searchLimit > 0 {
		opts.Limit = searchLimit
	}
	if searchSuggestions > 0 {
		opts.PartnerSuggestionLimit = searchSuggestions
	}
	if searchNoPartners {
		opts.IncludePartnerSuggestions = false
	}
	if searchCompanies {
		opts.EntityTypes = []string{agentic.EntityCompanies}
	}
	return opts.WithDefaults()
}

// run follows one session and reports its final state on done: after
// complete when no fallback is due, after the fallback otherwise, or on
// error.
type run struct {
	out    io.Writer
	opts   agentic.SearchOptions
	phases bool
	done   chan agentic.SessionState
}

func newRun(out io.Writer, opts agentic.SearchOptions, phases bool) *run {
	return &run{out: out, opts: opts, phases: phases, done: make(chan agentic.SessionState, 1)}
}

func (r *run) hooks() session.Hooks {
	return session.Hooks{
		OnPhaseChange: func(from, to agentic.Phase) {
			if r.phases && to != agentic.PhaseIdle {
				printPhase(r.out, to)
			}
		},
		OnComplete: func(s agentic.SessionState) {
			if !s.FallbackPending {
				r.finish(s)
			}
		},
		OnError: func(s agentic.SessionState, err *agentic.SessionError) {
			r.finish(s)
		},
		OnFallback: func(s agentic.SessionState, out fallback.Outcome) {
			if r.phases && !out.Dropped {
				printWarn(r.out, fmt.Sprintf("no streamed partner suggestions, used %s fallback", out.Source))
			}
			r.finish(s)
		},
	}
}

func (r *run) finish(s agentic.SessionState) {
	select {
	case r.done <- s:
	default:
	}
}
