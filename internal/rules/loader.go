package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// SetStore persists a whole ruleset
type SetStore interface {
	LoadRuleSet(ctx context.Context) (*Set, error)
	SaveRuleSet(ctx context.Context, set *Set) error
}

// Loader loads the active configuration into a Store, either from a YAML
// file (which is then persisted) or from the persistence layer. Hooks run
// after every successful load with the validated set.
type Loader struct {
	path   string
	store  SetStore
	target *Store
	logger zerolog.Logger

	mu    sync.Mutex
	hooks []func(*Set)
}

// NewLoader creates a Loader. path may be empty when store is set.
func NewLoader(path string, store SetStore, target *Store, logger zerolog.Logger) *Loader {
	return &Loader{
		path:   path,
		store:  store,
		target: target,
		logger: logger.With().Str("component", "rules_loader").Logger(),
	}
}

// OnLoad registers fn to run after each successful load
func (l *Loader) OnLoad(fn func(*Set)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, fn)
}

// Load reads, validates and activates the configuration. Quarantined
// records are excluded and listed in the report; they never fail the load.
func (l *Loader) Load(ctx context.Context) (*Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		set    *Set
		report *Report
		err    error
	)
	switch {
	case l.path != "":
		set, report, err = LoadFile(l.path)
		if err != nil {
			return nil, err
		}
		if l.store != nil {
			// campaigns and call lists are persisted by the dialer, which
			// owns their attempt state
			cfgOnly := *set
			cfgOnly.Campaigns, cfgOnly.CallList = nil, nil
			if err := l.store.SaveRuleSet(ctx, &cfgOnly); err != nil {
				// the outbox keeps retrying; the file is still authoritative
				l.logger.Warn().Err(err).Msg("persisting ruleset")
			}
		}
	case l.store != nil:
		raw, err := l.store.LoadRuleSet(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading stored ruleset: %w", err)
		}
		set, report = Validate(raw)
	default:
		set, report = Validate(&Set{})
	}

	l.target.Replace(set)
	for _, fn := range l.hooks {
		fn(set)
	}

	for _, issue := range report.Quarantined {
		l.logger.Warn().Str("kind", issue.Kind).Str("id", issue.ID).Str("reason", issue.Reason).Msg("record quarantined")
	}
	l.logger.Info().
		Int("routing_rules", len(set.RoutingRules)).
		Int("priority_rules", len(set.PriorityRules)).
		Int("queues", len(set.Queues)).
		Int("menus", len(set.Menus)).
		Int("quarantined", len(report.Quarantined)).
		Msg("ruleset loaded")
	return report, nil
}
