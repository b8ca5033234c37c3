package kbb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/trim"
)

// Skip reasons recorded on entries the source cannot price.
const (
	ReasonNoStyles = "No reference styles for this model year."
	ReasonNoMatch  = "Could not map KBB trim to Visor trim."
)

// Fetcher is the page access a Collector needs. *Client implements it.
type Fetcher interface {
	ModelSlug(ctx context.Context, vins []string) (string, error)
	StylesPage(ctx context.Context, vehicleMake, slug, year string) (*StylesPayload, string, error)
	PricingTable(ctx context.Context, vehicleMake, slug, year string) ([]PricingRow, string, error)
	ResaleValue(ctx context.Context, vehicleMake, slug, year, style string) (int, string, error)
	LocalPricing(ctx context.Context, vehicleMake, slug, year, style string) (LocalPrices, string, error)
}

// Request names what to collect: a make and (variant) model, the listing
// trim keys seen per year, and VINs to resolve the model slug from.
type Request struct {
	Make  string
	Model string
	Keys  map[string][]string
	VINs  []string
}

// Result counts what a collection did.
type Result struct {
	Slug        string
	Years       int
	StylePages  int
	PriceTables int
	Fetched     int
	Fresh       int
	NoData      int
	Failed      int
	Unmatched   []string
	Collisions  map[string][]string
}

// CollectorConfig tunes a Collector.
type CollectorConfig struct {
	// Concurrency bounds parallel style fetches. Values below 1 mean 1.
	Concurrency int
	Now         func() time.Time
	OnProgress  func(done, total int)
}

// Collector fills a pricing document from a Fetcher, fetching only what is
// missing or stale.
type Collector struct {
	fetcher    Fetcher
	normalizer *trim.Normalizer
	logger     *observability.Logger
	cfg        CollectorConfig
}

// NewCollector creates a collector.
func NewCollector(f Fetcher, n *trim.Normalizer, logger *observability.Logger, cfg CollectorConfig) *Collector {
	if n == nil {
		n = trim.NewNormalizer(nil)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Collector{fetcher: f, normalizer: n, logger: logger, cfg: cfg}
}

type styleJob struct {
	year, key, style string
}

// Collect updates doc in place. Missing data is recorded permanently;
// transport failures are logged, counted and left for a later run. Only
// context cancellation aborts the collection.
func (c *Collector) Collect(ctx context.Context, req Request, doc *pricing.Document) (*Result, error) {
	if doc == nil {
		return nil, errors.New("collect: nil pricing document")
	}
	now := c.cfg.Now()
	log := c.logger.WithVehicle(req.Make, req.Model).WithOperation("collect")
	res := &Result{Collisions: map[string][]string{}}

	years := make([]string, 0, len(req.Keys))
	for y := range req.Keys {
		years = append(years, y)
	}
	sort.Strings(years)
	res.Years = len(years)

	slug, err := c.slug(ctx, req, years, doc)
	if err != nil {
		return nil, err
	}
	res.Slug = slug

	var jobs []styleJob
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys := uniqueSorted(req.Keys[year])
		styles, err := c.trimOptions(ctx, req, slug, year, keys, doc, now, res)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, errNoStylesCached) {
				res.Fresh += len(keys)
				continue
			}
			if errors.Is(err, ErrNoData) {
				res.NoData++
				doc.SetTrimOptions(pricing.MakeModelKey(req.Make, req.Model), year, nil)
				for _, k := range keys {
					doc.EntryFor(pricing.CacheKey(year, req.Make, req.Model, k)).Merge(skipped(ReasonNoStyles, now))
				}
				continue
			}
			res.Failed++
			log.Warn().Str("year", year).Err(err).Msg("Could not load reference styles")
			continue
		}

		mapped := c.mapStyles(req.Model, year, keys, styles)
		for k, raws := range c.normalizer.Collisions(styles.names, keys, req.Model) {
			res.Collisions[year+" "+k] = raws
			log.Warn().Str("year", year).Str("trim", k).Strs("styles", raws).Msg("Several reference styles map to one trim")
		}

		for _, k := range keys {
			cacheKey := pricing.CacheKey(year, req.Make, req.Model, k)
			matched, ok := mapped[k]
			if !ok {
				res.Unmatched = append(res.Unmatched, cacheKey)
				entry := doc.EntryFor(cacheKey)
				if entry.FMV == nil && entry.FPPLocal == nil && entry.FPPNatl == nil && entry.MSRP == nil {
					entry.Merge(skipped(ReasonNoMatch, now))
				}
				continue
			}
			reference := pricing.CacheKey(year, req.Make, req.Model, matched)
			model := req.Model
			entry := doc.EntryFor(cacheKey)
			if entry.SkipReason != "" {
				entry.ClearSkipReason()
			}
			entry.Merge(&pricing.Entry{KBBTrim: &reference, Model: &model})
		}

		if err := c.nationalPricing(ctx, req, slug, year, keys, mapped, doc, now, res); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			res.Failed++
			log.Warn().Str("year", year).Err(err).Msg("Could not load national pricing")
		}

		for _, k := range keys {
			style, ok := mapped[k]
			if !ok {
				continue
			}
			entry := doc.Entries[pricing.CacheKey(year, req.Make, req.Model, k)]
			if pricing.IsLocalFresh(entry, now) && (entry.FMV != nil || entry.NoFMV) {
				res.Fresh++
				continue
			}
			jobs = append(jobs, styleJob{year: year, key: k, style: style})
		}
	}

	if err := c.runStyleJobs(ctx, req, slug, jobs, doc, now, res); err != nil {
		return nil, err
	}
	sort.Strings(res.Unmatched)

	log.Info().
		Int("fetched", res.Fetched).
		Int("fresh", res.Fresh).
		Int("no_data", res.NoData).
		Int("failed", res.Failed).
		Bool("complete", res.Failed == 0).
		Msg("Reference pricing collected")
	return res, nil
}

func (c *Collector) slug(ctx context.Context, req Request, years []string, doc *pricing.Document) (string, error) {
	for _, y := range years {
		if s, ok := doc.ModelSlugs[pricing.VehicleKey(y, req.Make, req.Model)]; ok && s != "" {
			c.setSlug(req, years, doc, s)
			return s, nil
		}
	}

	slug, err := c.fetcher.ModelSlug(ctx, req.VINs)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slug = URLSafe(req.Model)
		c.logger.Warn().Err(err).Str("slug", slug).Msg("Model slug lookup failed, using model name")
	}
	c.setSlug(req, years, doc, slug)
	return slug, nil
}

func (c *Collector) setSlug(req Request, years []string, doc *pricing.Document, slug string) {
	for _, y := range years {
		doc.ModelSlugs[pricing.VehicleKey(y, req.Make, req.Model)] = slug
	}
}

type yearStyles struct {
	names  []string
	groups [][]string
}

// errNoStylesCached is a recorded no-styles answer that is still fresh.
var errNoStylesCached = fmt.Errorf("%w: cached", ErrNoData)

// trimOptions returns the reference styles of a year. An empty cached list
// is a recorded no-styles answer; it holds while every requested key carries
// a fresh no-styles skip entry.
func (c *Collector) trimOptions(ctx context.Context, req Request, slug, year string, keys []string, doc *pricing.Document, now time.Time, res *Result) (yearStyles, error) {
	mm := pricing.MakeModelKey(req.Make, req.Model)
	if cached, ok := doc.TrimOptions[mm][year]; ok {
		if len(cached) > 0 {
			return yearStyles{names: cached, groups: [][]string{cached}}, nil
		}
		if noStylesFresh(doc, req, year, keys, now) {
			return yearStyles{}, errNoStylesCached
		}
	}

	payload, _, err := c.fetcher.StylesPage(ctx, req.Make, slug, year)
	if err != nil {
		return yearStyles{}, err
	}
	res.StylePages++
	names := payload.TrimNames()
	doc.SetTrimOptions(mm, year, names)
	return yearStyles{names: names, groups: payload.Groups()}, nil
}

// mapStyles assigns each listing trim key the first reference style that
// maps onto it. An unclaimed Base key gets the picked base style.
func (c *Collector) mapStyles(model, year string, keys []string, styles yearStyles) map[string]string {
	out := map[string]string{}
	for _, s := range styles.names {
		k, ok := c.normalizer.FindVisorKey(c.normalizer.NormalizeFor(s, model), keys, model)
		if !ok {
			continue
		}
		if _, taken := out[k]; !taken {
			out[k] = s
		}
	}
	for _, k := range keys {
		if k != trim.Base {
			continue
		}
		if _, ok := out[k]; !ok {
			if picked, ok := trim.PickBaseTrim(styles.groups); ok {
				out[k] = picked
			}
		}
	}
	return out
}

func (c *Collector) nationalPricing(ctx context.Context, req Request, slug, year string, keys []string, mapped map[string]string, doc *pricing.Document, now time.Time, res *Result) error {
	stale := false
	for _, k := range keys {
		if _, ok := mapped[k]; !ok {
			continue
		}
		if !pricing.IsNationalFresh(doc.Entries[pricing.CacheKey(year, req.Make, req.Model, k)], now) {
			stale = true
			break
		}
	}
	if !stale {
		return nil
	}

	rows, url, err := c.fetcher.PricingTable(ctx, req.Make, slug, year)
	ts := pricing.NewTimestamp(now)
	if errors.Is(err, ErrNoData) {
		res.NoData++
		for k := range mapped {
			doc.EntryFor(pricing.CacheKey(year, req.Make, req.Model, k)).Merge(&pricing.Entry{NatlTimestamp: ts})
		}
		return nil
	}
	if err != nil {
		return err
	}
	res.PriceTables++

	for _, row := range rows {
		k, ok := c.normalizer.FindVisorKey(c.normalizer.NormalizeFor(row.Trim, req.Model), keys, req.Model)
		if !ok {
			continue
		}
		source := url
		doc.EntryFor(pricing.CacheKey(year, req.Make, req.Model, k)).Merge(&pricing.Entry{
			MSRP:          row.MSRP,
			FPPNatl:       row.FPP,
			NatlSource:    &source,
			NatlTimestamp: ts,
		})
	}
	for k := range mapped {
		entry := doc.EntryFor(pricing.CacheKey(year, req.Make, req.Model, k))
		if entry.NatlTimestamp == nil || entry.NatlTimestamp.Before(now) {
			entry.Merge(&pricing.Entry{NatlTimestamp: ts})
		}
	}
	return nil
}

func (c *Collector) runStyleJobs(ctx context.Context, req Request, slug string, jobs []styleJob, doc *pricing.Document, now time.Time, res *Result) error {
	if len(jobs) == 0 {
		return nil
	}
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			patch, noData, err := c.fetchStyle(gctx, req, slug, job, now)

			mu.Lock()
			defer mu.Unlock()
			done++
			if c.cfg.OnProgress != nil {
				c.cfg.OnProgress(done, len(jobs))
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				res.Failed++
				c.logger.Warn().
					Str("year", job.year).
					Str("trim", job.key).
					Str("style", job.style).
					Err(err).
					Msg("Could not load style pricing")
				return nil
			}
			if noData {
				res.NoData++
			}
			res.Fetched++
			doc.EntryFor(pricing.CacheKey(job.year, req.Make, req.Model, job.key)).Merge(patch)
			return nil
		})
	}
	return g.Wait()
}

// fetchStyle loads the resale value and local prices of one style. noData
// reports that the resale value is permanently missing.
func (c *Collector) fetchStyle(ctx context.Context, req Request, slug string, job styleJob, now time.Time) (*pricing.Entry, bool, error) {
	patch := &pricing.Entry{LocalTimestamp: pricing.NewTimestamp(now)}
	noData := false

	fmv, url, err := c.fetcher.ResaleValue(ctx, req.Make, slug, job.year, job.style)
	switch {
	case errors.Is(err, ErrNoData):
		patch.NoFMV = true
		noData = true
	case err != nil:
		return nil, false, err
	default:
		patch.FMV = &fmv
		source := url
		patch.LocalSource = &source
	}

	lp, url, err := c.fetcher.LocalPricing(ctx, req.Make, slug, job.year, job.style)
	switch {
	case errors.Is(err, ErrNoData):
	case err != nil:
		return nil, false, err
	default:
		patch.FPPLocal = lp.FPP
		if lp.RangeLow != nil && lp.RangeHigh != nil && *lp.RangeLow <= *lp.RangeHigh {
			patch.FMRLow, patch.FMRHigh = lp.RangeLow, lp.RangeHigh
		}
		source := url
		patch.LocalSource = &source
	}
	return patch, noData, nil
}

func noStylesFresh(doc *pricing.Document, req Request, year string, keys []string, now time.Time) bool {
	if len(keys) == 0 {
		return false
	}
	for _, k := range keys {
		e := doc.Entries[pricing.CacheKey(year, req.Make, req.Model, k)]
		if e == nil || e.SkipReason != ReasonNoStyles || !pricing.IsNationalFresh(e, now) {
			return false
		}
	}
	return true
}

// skipped marks an entry the source cannot price. The timestamps keep it
// from forcing a refetch until it goes stale like any other entry.
func skipped(reason string, now time.Time) *pricing.Entry {
	ts := pricing.NewTimestamp(now)
	return &pricing.Entry{SkipReason: reason, NatlTimestamp: ts, LocalTimestamp: ts}
}

func uniqueSorted(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
