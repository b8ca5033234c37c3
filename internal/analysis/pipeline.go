// Package analysis runs one make/model analysis end to end: variant
// mapping, reference pricing collection, valuation matching, deal rating and
// report aggregation.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/filters"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/kbb"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/report"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/scoring"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/storage"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/trim"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/valuation"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/variant"
)

// ErrNoListings is returned when a run is started without listings.
var ErrNoListings = errors.New("no listings provided")

// Collector fills a pricing document with reference data. *kbb.Collector
// implements it.
type Collector interface {
	Collect(ctx context.Context, req kbb.Request, doc *pricing.Document) (*kbb.Result, error)
}

// RunRecorder persists run summaries. *storage.RunRepository implements it.
type RunRecorder interface {
	Create(ctx context.Context, run *storage.Run) error
}

// PipelineConfig tunes a Pipeline.
type PipelineConfig struct {
	// SkipFetch never calls the collector, even when the cache is stale.
	SkipFetch bool
	Now       func() time.Time
}

// Pipeline runs analyses. The collector and run recorder are optional.
type Pipeline struct {
	logger     *observability.Logger
	cfg        PipelineConfig
	store      pricing.Store
	catalog    variant.Catalog
	collector  Collector
	runs       RunRecorder
	normalizer *trim.Normalizer
	resolver   *valuation.Resolver
}

// NewPipeline creates a pipeline.
func NewPipeline(
	logger *observability.Logger,
	cfg PipelineConfig,
	store pricing.Store,
	catalog variant.Catalog,
	collector Collector,
	runs RunRecorder,
) *Pipeline {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if catalog == nil {
		catalog = variant.Catalog{}
	}
	n := trim.NewNormalizer(nil)
	return &Pipeline{
		logger:     logger,
		cfg:        cfg,
		store:      store,
		catalog:    catalog,
		collector:  collector,
		runs:       runs,
		normalizer: n,
		resolver:   valuation.NewResolver(n),
	}
}

// Request is one make/model run.
type Request struct {
	Make     string
	Model    string
	Search   filters.Search
	Listings []listing.Listing
}

// Result is everything a run produced. Report is nil when nothing could be
// rated; Rated and Skipped are still filled in that case.
type Result struct {
	RunID      uuid.UUID
	Report     *report.Report
	Rated      []scoring.Rated
	Skipped    []report.Skip
	Variants   *variant.Map
	Fetches    []*kbb.Result
	Duplicates int
	Duration   time.Duration
}

type matched struct {
	listing  listing.Listing
	cacheKey string
	entry    *pricing.Entry
}

// Run analyzes the listings of one make/model. It returns the partial result
// together with report.ErrNoRatedListings when no listing could be rated.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	now := p.cfg.Now()
	result := &Result{RunID: uuid.New()}

	ctx = observability.ContextWithRunID(ctx, result.RunID.String())
	log := p.logger.WithContext(ctx).WithVehicle(req.Make, req.Model).WithOperation("analyze")

	// Step 1: Drop duplicate listings
	listings, dupes := dedupe(req.Listings)
	result.Duplicates = dupes
	if len(listings) == 0 {
		return result, ErrNoListings
	}
	if dupes > 0 {
		log.Warn().Int("duplicates", dupes).Msg("Ignoring duplicate listings")
	}
	log.Info().Int("listings", len(listings)).Msg("Starting analysis run")

	// Step 2: Assign listings to reference model variants
	years := listingYears(listings)
	byYear, missing := p.catalog.VariantsByYear(req.Make, years)
	if len(missing) > 0 {
		log.Warn().Strs("years", missing).Msg("No reference variants for years")
	}
	vmap := variant.Build(req.Make, req.Model, listings, byYear)
	result.Variants = vmap
	if len(vmap.Inherited) > 0 {
		log.Debug().Int("inherited", len(vmap.Inherited)).Msg("Listings placed by majority variant")
	}

	// Step 3: Load the pricing cache and fetch what it lacks
	doc, err := p.store.Load(ctx)
	if err != nil {
		return result, fmt.Errorf("load pricing cache: %w", err)
	}
	if err := p.collect(ctx, log, req, listings, vmap, doc, now, result); err != nil {
		return result, err
	}

	// Step 4: Match listings to cache entries
	valid, skipped := p.match(req, listings, vmap, doc)
	result.Skipped = skipped
	log.Info().
		Int("matched", len(valid)).
		Int("skipped", len(skipped)).
		Msg("Matched listings to reference pricing")

	// Step 5: Rate
	result.Rated = make([]scoring.Rated, 0, len(valid))
	for _, m := range valid {
		v := valuation.FromEntry(m.cacheKey, m.entry)
		result.Rated = append(result.Rated, scoring.Classify(m.listing, m.cacheKey, &v, now))
	}

	// Step 6: Aggregate
	rep, err := report.Build(report.Input{
		RunID:       result.RunID.String(),
		Make:        req.Make,
		Model:       req.Model,
		Search:      req.Search,
		Rated:       result.Rated,
		Skipped:     skipped,
		GeneratedAt: now,
	})
	result.Duration = time.Since(start)
	if err != nil {
		log.Warn().Err(err).Msg("Nothing to report")
		return result, err
	}
	result.Report = rep

	p.record(ctx, log, req, result)

	log.Info().
		Int("rated", len(result.Rated)).
		Int("good_great", rep.GoodGreatCount).
		Int("poor_bad", rep.PoorBadCount).
		Float64("good_great_pct", rep.GoodGreatPct).
		Dur("duration", result.Duration).
		Msg("Analysis run complete")
	return result, nil
}

// collect asks the collector for every variant the cache does not cover yet
// and saves the document once when anything was collected.
func (p *Pipeline) collect(
	ctx context.Context,
	log *observability.Logger,
	req Request,
	listings []listing.Listing,
	vmap *variant.Map,
	doc *pricing.Document,
	now time.Time,
	result *Result,
) error {
	if p.collector == nil || p.cfg.SkipFetch {
		return nil
	}

	requests := p.collectRequests(req.Make, listings, vmap)
	collected := 0
	for _, cr := range requests {
		years := make([]string, 0, len(cr.Keys))
		for y := range cr.Keys {
			years = append(years, y)
		}
		sort.Strings(years)
		variants := make([]string, 0, len(years))
		for _, y := range years {
			variants = append(variants, y+" "+cr.Model)
		}
		if pricing.CoversAll(req.Make, variants, years, doc, now) && p.hasEntries(doc, cr) {
			log.Debug().Str("variant", cr.Model).Msg("Pricing cache covers variant")
			continue
		}

		res, err := p.collector.Collect(ctx, cr, doc)
		if err != nil {
			return fmt.Errorf("collect pricing for %s %s: %w", req.Make, cr.Model, err)
		}
		result.Fetches = append(result.Fetches, res)
		collected++
	}
	if collected == 0 {
		return nil
	}
	if err := p.store.Save(ctx, doc); err != nil {
		return fmt.Errorf("save pricing cache: %w", err)
	}
	return nil
}

// collectRequests groups listing trim keys and VINs per variant, in variant
// order.
func (p *Pipeline) collectRequests(vehicleMake string, listings []listing.Listing, vmap *variant.Map) []kbb.Request {
	byVariant := map[string]*kbb.Request{}
	for _, l := range listings {
		model, ok := vmap.VariantFor(l)
		if !ok {
			continue
		}
		cr, ok := byVariant[model]
		if !ok {
			cr = &kbb.Request{Make: vehicleMake, Model: model, Keys: map[string][]string{}}
			byVariant[model] = cr
		}
		year := strconv.Itoa(l.Year)
		cr.Keys[year] = append(cr.Keys[year], p.normalizer.KeyFor(l.Trim, model))
		if l.VIN != "" {
			cr.VINs = append(cr.VINs, l.VIN)
		}
	}

	models := make([]string, 0, len(byVariant))
	for m := range byVariant {
		models = append(models, m)
	}
	sort.Strings(models)
	out := make([]kbb.Request, 0, len(models))
	for _, m := range models {
		out = append(out, *byVariant[m])
	}
	return out
}

// match resolves each listing against the entries of its variant. The
// resolver's exact, normalized and case-insensitive rules come first; the
// trim profile match over the variant's entries is the fallback. Entries
// carrying a skip reason skip their listings.
func (p *Pipeline) match(req Request, listings []listing.Listing, vmap *variant.Map, doc *pricing.Document) ([]matched, []report.Skip) {
	var valid []matched
	var skipped []report.Skip
	for _, l := range listings {
		year := strconv.Itoa(l.Year)
		model, ok := vmap.VariantFor(l)
		if !ok {
			model = req.Model
		}
		entries := doc.RelevantEntries(year, req.Make, model)

		key := ""
		if res := p.resolver.ResolveKey(year, req.Make, model, l.Trim, entries); res.Resolved() {
			key = res.Key
		} else if best, ok := trim.BestTrimMatch(l.BaseTrim(), sortedKeys(entries)); ok {
			key = best
		}

		entry := entries[key]
		if key == "" || entry == nil || entry.SkipReason != "" {
			reason := report.DefaultSkipReason
			if entry != nil && entry.SkipReason != "" {
				reason = entry.SkipReason
			}
			skipped = append(skipped, report.Skip{ID: l.ID, Title: l.Title, Reason: reason})
			continue
		}
		valid = append(valid, matched{listing: l, cacheKey: key, entry: entry})
	}
	return valid, skipped
}

type runSummary struct {
	Summary   string               `json:"summary"`
	Deals     map[scoring.Deal]int `json:"deals"`
	NoPrice   int                  `json:"no_price"`
	GoodGreat float64              `json:"good_great_pct"`
	Fair      float64              `json:"fair_pct"`
	PoorBad   float64              `json:"poor_bad_pct"`
}

// record stores the run summary. A failure is logged, not returned: the
// report is already built.
func (p *Pipeline) record(ctx context.Context, log *observability.Logger, req Request, result *Result) {
	if p.runs == nil || result.Report == nil {
		return
	}
	rep := result.Report
	s := runSummary{
		Summary:   rep.Summary,
		Deals:     map[scoring.Deal]int{},
		NoPrice:   rep.NoPriceBin.Count,
		GoodGreat: rep.GoodGreatPct,
		Fair:      rep.FairPct,
		PoorBad:   rep.PoorBadPct,
	}
	for _, b := range rep.DealBins {
		s.Deals[b.Category] = b.Count
	}
	raw, err := json.Marshal(s)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode run summary")
		return
	}

	run := &storage.Run{
		ID:        result.RunID,
		Make:      req.Make,
		Model:     req.Model,
		Total:     len(result.Rated) + len(result.Skipped),
		Rated:     len(result.Rated),
		Skipped:   len(result.Skipped),
		Summary:   raw,
		CreatedAt: rep.GeneratedAt.UTC(),
	}
	if err := p.runs.Create(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Failed to record analysis run")
	}
}

// hasEntries reports whether every requested trim key already resolves to
// an entry, so a trim first seen in this run triggers a fetch.
func (p *Pipeline) hasEntries(doc *pricing.Document, cr kbb.Request) bool {
	for year, keys := range cr.Keys {
		entries := doc.RelevantEntries(year, cr.Make, cr.Model)
		for _, k := range keys {
			if !p.resolver.ResolveKey(year, cr.Make, cr.Model, k, entries).Resolved() {
				return false
			}
		}
	}
	return true
}

func dedupe(in []listing.Listing) ([]listing.Listing, int) {
	seen := make(map[string]struct{}, len(in))
	out := make([]listing.Listing, 0, len(in))
	for _, l := range in {
		if _, ok := seen[l.ID]; ok {
			continue
		}
		seen[l.ID] = struct{}{}
		out = append(out, l)
	}
	return out, len(in) - len(out)
}

func listingYears(listings []listing.Listing) []string {
	set := map[string]struct{}{}
	for _, l := range listings {
		set[strconv.Itoa(l.Year)] = struct{}{}
	}
	years := make([]string, 0, len(set))
	for y := range set {
		years = append(years, y)
	}
	sort.Strings(years)
	return years
}

func sortedKeys(entries map[string]*pricing.Entry) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
