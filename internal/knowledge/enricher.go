package knowledge

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"codetwin/internal/extractor"
	"codetwin/internal/logging"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSummaryConcurrency = 4
	footprintSize             = 12
	maxEmbedContent           = 8000
)

// Enricher attaches a summary, an embedding and a keyword footprint to units
// that are about to be written. Collaborator failures degrade to missing
// fields and never fail the call.
type Enricher struct {
	completer   Completer
	embedder    Embedder
	logger      hclog.Logger
	concurrency int
}

type EnricherOption func(*Enricher)

func WithSummaryConcurrency(n int) EnricherOption {
	return func(e *Enricher) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEnricher accepts nil collaborators; the matching field is then left
// empty.
func NewEnricher(completer Completer, embedder Embedder, logger hclog.Logger, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		completer:   completer,
		embedder:    embedder,
		logger:      logging.OrNull(logger).Named("enricher"),
		concurrency: defaultSummaryConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich mutates units in place. A unit whose summary comes back as SKIP is
// treated as boilerplate: it keeps its footprint but gets no embedding.
func (e *Enricher) Enrich(ctx context.Context, units []*extractor.CodeUnit) {
	if len(units) == 0 {
		return
	}
	for _, u := range units {
		u.Footprint = Footprint(u.Content)
	}

	skipped := make([]bool, len(units))
	if e.completer != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for i, u := range units {
			g.Go(func() error {
				summary, err := e.completer.Complete(gctx, summarySystemPrompt,
					buildSummaryPrompt(u.FilePath, u.Name, string(u.Kind), u.Content))
				if err != nil {
					e.logger.Warn("summary unavailable", "unit", u.Identifier, "error", err)
					u.Summary = ""
					return nil
				}
				if isSkip(summary) {
					skipped[i] = true
					u.Summary = ""
					return nil
				}
				u.Summary = summary
				return nil
			})
		}
		_ = g.Wait()
	}

	if e.embedder == nil {
		return
	}
	var targets []*extractor.CodeUnit
	var texts []string
	for i, u := range units {
		if skipped[i] || strings.TrimSpace(u.Content) == "" {
			continue
		}
		text := u.Content
		if len(text) > maxEmbedContent {
			text = text[:maxEmbedContent]
		}
		targets = append(targets, u)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return
	}
	vecs, err := e.embedder.Embed(ctx, texts)
	if err != nil || len(vecs) != len(targets) {
		e.logger.Warn("embeddings unavailable", "units", len(targets), "error", err)
		return
	}
	for i, u := range targets {
		u.Embedding = vecs[i]
	}
}

// EmbedQuery embeds a single search string; nil when no embedder is set or
// the call fails.
func (e *Enricher) EmbedQuery(ctx context.Context, query string) []float32 {
	if e == nil || e.embedder == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		e.logger.Warn("query embedding unavailable", "error", err)
		return nil
	}
	return vecs[0]
}

var footprintStopwords = map[string]bool{
	"def": true, "class": true, "return": true, "self": true, "this": true, "func": true, "function": true,
	"const": true, "let": true, "var": true, "import": true, "from": true, "for": true, "while": true,
	"if": true, "else": true, "elif": true, "true": true, "false": true, "none": true, "null": true,
	"nil": true, "new": true, "public": true, "private": true, "protected": true, "static": true,
	"void": true, "int": true, "string": true, "package": true, "struct": true, "type": true, "and": true,
	"not": true, "the": true, "pass": true, "end": true, "async": true, "await": true, "err": true,
}

// Footprint reduces content to its most frequent identifier-like tokens,
// lowercased and space separated. It is the keyword side of hybrid search.
func Footprint(content string) string {
	counts := make(map[string]int)
	tokens := strings.FieldsFunc(content, func(r rune) bool {
		return !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	for _, tok := range tokens {
		tok = strings.ToLower(tok)
		if len(tok) < 3 || footprintStopwords[tok] || unicode.IsDigit(rune(tok[0])) {
			continue
		}
		counts[tok]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > footprintSize {
		words = words[:footprintSize]
	}
	return strings.Join(words, " ")
}
