package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"codetwin/internal/config"
	"codetwin/internal/extractor"
	"codetwin/internal/graph"
	"codetwin/internal/knowledge"
	"codetwin/internal/logging"
	"codetwin/internal/resolver"
	"codetwin/internal/storage"
	"codetwin/internal/telemetry"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// FallbackExplanation replaces an explanation the collaborator could not
// produce.
const FallbackExplanation = "Architectural analysis unavailable; manual review required."

const explainTimeout = 60 * time.Second

// Store is the slice of the knowledge store the risk pass reads and writes.
type Store interface {
	ListUnits(ctx context.Context, project string) ([]*extractor.CodeUnit, error)
	ListEdges(ctx context.Context, project string) ([]graph.Edge, error)
	ReplaceRiskAlerts(ctx context.Context, project, riskType string, alerts []storage.RiskAlert) error
	UpdateRiskScores(ctx context.Context, project string, scores map[string]float64) error
}

// Conflict is an active unit reaching a legacy unit within the hop limit
// with an age gap above the threshold.
type Conflict struct {
	Source    *extractor.CodeUnit
	Target    *extractor.CodeUnit
	SourceAge int
	TargetAge int
	Path      []string
	Severity  string
	// TargetDependents is the number of units with a direct edge into Target.
	TargetDependents int
}

func (c Conflict) Gap() int  { return c.TargetAge - c.SourceAge }
func (c Conflict) Hops() int { return len(c.Path) - 1 }

// Analyzer flags recently changed units that depend on long-untouched ones.
type Analyzer struct {
	store     Store
	explainer knowledge.Completer
	cfg       config.RiskConfig
	logger    hclog.Logger
	now       func() time.Time
}

type Option func(*Analyzer)

func WithExplainer(c knowledge.Completer) Option {
	return func(a *Analyzer) { a.explainer = c }
}

func WithLogger(l hclog.Logger) Option {
	return func(a *Analyzer) { a.logger = logging.OrNull(l) }
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

func NewAnalyzer(store Store, cfg config.RiskConfig, opts ...Option) *Analyzer {
	a := &Analyzer{
		store:  store,
		cfg:    withDefaults(cfg),
		logger: hclog.NewNullLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func withDefaults(c config.RiskConfig) config.RiskConfig {
	d := config.DefaultRiskConfig()
	if c.ActiveDays <= 0 {
		c.ActiveDays = d.ActiveDays
	}
	if c.LegacyDays <= 0 {
		c.LegacyDays = d.LegacyDays
	}
	if c.AgeGapDays <= 0 {
		c.AgeGapDays = d.AgeGapDays
	}
	if c.HighGapDays <= 0 {
		c.HighGapDays = d.HighGapDays
	}
	if c.StaleDays <= 0 {
		c.StaleDays = d.StaleDays
	}
	if c.MaxHops <= 0 {
		c.MaxHops = d.MaxHops
	}
	if c.SourceIncrement <= 0 {
		c.SourceIncrement = d.SourceIncrement
	}
	if c.TargetIncrement <= 0 {
		c.TargetIncrement = d.TargetIncrement
	}
	if c.StaleIncrement <= 0 {
		c.StaleIncrement = d.StaleIncrement
	}
	if c.ExplainConcurrency <= 0 {
		c.ExplainConcurrency = d.ExplainConcurrency
	}
	if c.ExplainRPS <= 0 {
		c.ExplainRPS = d.ExplainRPS
	}
	return c
}

// Analyze runs one risk pass for project and returns the number of alerts
// written. Alerts and scores from earlier passes are replaced.
func (a *Analyzer) Analyze(ctx context.Context, project string) (int, error) {
	units, err := a.store.ListUnits(ctx, project)
	if err != nil {
		return 0, fmt.Errorf("load units: %w", err)
	}
	edges, err := a.store.ListEdges(ctx, project)
	if err != nil {
		return 0, fmt.Errorf("load edges: %w", err)
	}

	g, stages := resolver.BuildGraph(units, edges)
	for _, st := range stages {
		a.logger.Debug("resolver stage", "resolver", st.Resolver, "resolved", st.Stats.Resolved,
			"unresolved", st.UnresolvedAfter, "edges", st.EdgeCount)
	}
	a.logger.Debug("graph built", "nodes", len(g.Nodes), "edges", g.EdgeCounts())
	if len(g.Unresolved) > 0 {
		a.logger.Debug("unresolved relations", "counts", g.UnresolvedReasonCounts())
	}

	ages := a.ages(units)
	conflicts := a.FindConflicts(g, ages)
	explanations := a.explain(ctx, conflicts)

	alerts := make([]storage.RiskAlert, len(conflicts))
	for i, c := range conflicts {
		alerts[i] = storage.RiskAlert{
			ProjectID:     project,
			RiskType:      storage.RiskTypeLegacyConflict,
			Severity:      c.Severity,
			Description:   describe(c, explanations[i]),
			AffectedUnits: []string{c.Source.Identifier, c.Target.Identifier},
		}
		telemetry.AlertsEmitted.WithLabelValues(c.Severity).Inc()
	}

	if err := a.store.ReplaceRiskAlerts(ctx, project, storage.RiskTypeLegacyConflict, alerts); err != nil {
		return 0, fmt.Errorf("save alerts: %w", err)
	}
	if err := a.store.UpdateRiskScores(ctx, project, a.Scores(units, ages, conflicts)); err != nil {
		return 0, fmt.Errorf("save risk scores: %w", err)
	}

	a.logger.Info("risk analysis complete", "project", project, "units", len(units), "alerts", len(alerts))
	return len(alerts), nil
}

// ages maps identifiers to whole days since last modification. Units
// without provenance are absent.
func (a *Analyzer) ages(units []*extractor.CodeUnit) map[string]int {
	now := a.now()
	out := make(map[string]int, len(units))
	for _, u := range units {
		if u.LastModifiedAt == nil {
			continue
		}
		days := int(now.Sub(*u.LastModifiedAt).Hours() / 24)
		if days < 0 {
			days = 0
		}
		out[u.Identifier] = days
	}
	return out
}

// FindConflicts checks every active unit against the legacy units it can
// reach within MaxHops. The age gap is the trigger; the active and legacy
// bands only prefilter. Results are ordered by source then target.
func (a *Analyzer) FindConflicts(g *graph.Graph, ages map[string]int) []Conflict {
	var sources []string
	for id, age := range ages {
		if age < a.cfg.ActiveDays {
			if _, ok := g.Nodes[id]; ok {
				sources = append(sources, id)
			}
		}
	}
	sort.Strings(sources)

	var out []Conflict
	for _, src := range sources {
		paths := g.BoundedPaths(src, a.cfg.MaxHops)
		targets := make([]string, 0, len(paths))
		for id := range paths {
			targets = append(targets, id)
		}
		sort.Strings(targets)

		for _, dst := range targets {
			dstAge, ok := ages[dst]
			if !ok || dstAge <= a.cfg.LegacyDays {
				continue
			}
			gap := dstAge - ages[src]
			if gap <= a.cfg.AgeGapDays {
				continue
			}
			severity := storage.SeverityMedium
			if gap > a.cfg.HighGapDays {
				severity = storage.SeverityHigh
			}
			out = append(out, Conflict{
				Source:    g.Nodes[src].Unit,
				Target:    g.Nodes[dst].Unit,
				SourceAge: ages[src],
				TargetAge: dstAge,
				Path:      paths[dst],
				Severity:  severity,

				TargetDependents: len(g.GetDependents(dst)),
			})
		}
	}
	return out
}

// explain asks the collaborator about every conflict, bounded by
// ExplainConcurrency workers and ExplainRPS requests per second. A failed or
// empty answer becomes FallbackExplanation.
func (a *Analyzer) explain(ctx context.Context, conflicts []Conflict) []string {
	out := make([]string, len(conflicts))
	for i := range out {
		out[i] = FallbackExplanation
	}
	if a.explainer == nil || len(conflicts) == 0 {
		return out
	}

	limiter := rate.NewLimiter(rate.Limit(a.cfg.ExplainRPS), 1)
	g := new(errgroup.Group)
	g.SetLimit(a.cfg.ExplainConcurrency)
	for i, c := range conflicts {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				telemetry.ExplanationFailures.Inc()
				return nil
			}
			callCtx, cancel := context.WithTimeout(ctx, explainTimeout)
			defer cancel()

			target := conflictInfo(c.Target, c.TargetAge)
			target.Dependents = c.TargetDependents
			prompt := knowledge.BuildConflictPrompt(conflictInfo(c.Source, c.SourceAge), target, c.Hops())
			text, err := a.explainer.Complete(callCtx, knowledge.ConflictSystemPrompt, prompt)
			text = strings.TrimSpace(text)
			if err != nil || text == "" {
				a.logger.Warn("conflict explanation unavailable", "source", c.Source.Identifier,
					"target", c.Target.Identifier, "error", err)
				telemetry.ExplanationFailures.Inc()
				return nil
			}
			out[i] = text
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func conflictInfo(u *extractor.CodeUnit, age int) knowledge.ConflictInfo {
	return knowledge.ConflictInfo{Identifier: u.Identifier, Kind: string(u.Kind), Summary: u.Summary, AgeDays: age}
}

func describe(c Conflict, explanation string) string {
	via := "directly"
	if c.Hops() > 1 {
		via = fmt.Sprintf("via %d hops", c.Hops())
	}
	return fmt.Sprintf("Active code '%s' (%d days) depends %s on legacy '%s' (%d days). AI: %s",
		c.Source.Name, c.SourceAge, via, c.Target.Name, c.TargetAge, explanation)
}

// Scores recomputes every unit's risk from scratch: each conflict adds
// SourceIncrement to its source and TargetIncrement to its target, and a
// unit older than StaleDays gets StaleIncrement once. Values are clamped to
// [0, 100]; zero scores are omitted.
func (a *Analyzer) Scores(units []*extractor.CodeUnit, ages map[string]int, conflicts []Conflict) map[string]float64 {
	raw := make(map[string]float64)
	for _, c := range conflicts {
		raw[c.Source.Identifier] += a.cfg.SourceIncrement
		raw[c.Target.Identifier] += a.cfg.TargetIncrement
	}
	for _, u := range units {
		if age, ok := ages[u.Identifier]; ok && age > a.cfg.StaleDays {
			raw[u.Identifier] += a.cfg.StaleIncrement
		}
	}

	out := make(map[string]float64, len(raw))
	for id, s := range raw {
		s = math.Max(0, math.Min(100, s))
		if s != 0 {
			out[id] = s
		}
	}
	return out
}
