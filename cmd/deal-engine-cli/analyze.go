package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/analysis"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/config"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/filters"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/kbb"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/listing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/outliers"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/report"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/variant"
)

type searchFlags struct {
	vehicleMake string
	model       string
	years       []string
	conditions  []string
	price       string
	miles       string
	sort        string
}

func (f *searchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.vehicleMake, "make", "", "vehicle make (default: from the listings metadata)")
	cmd.Flags().StringVar(&f.model, "model", "", "vehicle model (default: from the listings metadata)")
	cmd.Flags().StringSliceVar(&f.years, "years", nil, "model years, e.g. 2022-2024 or 21,23")
	cmd.Flags().StringSliceVar(&f.conditions, "condition", nil, "conditions to keep: New, Certified, Used")
	cmd.Flags().StringVar(&f.price, "price", "", "price range, e.g. 20000-40000 or -35000")
	cmd.Flags().StringVar(&f.miles, "miles", "", "mileage range, e.g. -60000")
	cmd.Flags().StringVar(&f.sort, "sort", "", "listing sort order within bins")
}

// search builds the run filters. Flags win over what the scraper recorded.
func (f *searchFlags) search(meta listing.Metadata) (filters.Search, error) {
	s := filters.Search{
		Sort:       meta.Filters.Sort,
		Conditions: meta.Filters.Condition,
		MinPrice:   meta.Filters.MinPrice,
		MaxPrice:   meta.Filters.MaxPrice,
		MinMiles:   meta.Filters.MinMiles,
		MaxMiles:   meta.Filters.MaxMiles,
	}
	if f.sort != "" {
		s.Sort = f.sort
	}
	if len(f.conditions) > 0 {
		s.Conditions = f.conditions
	}

	rawYears := meta.Filters.Years
	if len(f.years) > 0 {
		rawYears = f.years
	}
	years, err := filters.NormalizeYears(rawYears)
	if err != nil {
		return s, err
	}
	s.Years = years

	if f.price != "" {
		if s.MinPrice, s.MaxPrice, err = filters.ParseRange("price", f.price); err != nil {
			return s, err
		}
	}
	if f.miles != "" {
		if s.MinMiles, s.MaxMiles, err = filters.ParseRange("mileage", f.miles); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (f *searchFlags) vehicle(meta listing.Metadata) (string, string, error) {
	vehicleMake, model := f.vehicleMake, f.model
	if vehicleMake == "" {
		vehicleMake = meta.Vehicle.Make
	}
	if model == "" {
		model = meta.Vehicle.Model
	}
	vehicleMake, model = strings.TrimSpace(vehicleMake), strings.TrimSpace(model)
	if vehicleMake == "" || model == "" {
		return "", "", usageErrorf("make and model are required: pass --make and --model or use a listings file with vehicle metadata")
	}
	return vehicleMake, model, nil
}

func newAnalyzeCmd() *cobra.Command {
	var (
		sf      searchFlags
		noFetch bool
		output  string
		save    bool
		top     int
	)

	cmd := &cobra.Command{
		Use:   "analyze <listings.json>",
		Short: "Rate scraped listings and build a deal report",
		Long: `Analyze reads a scraper output file, assigns every listing to a reference
model variant and canonical trim, fetches reference pricing the cache lacks,
rates each listing and prints the deal report.

Exits with status 2 when no listing could be rated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			ui := NewUI(outputJSON, noColor)

			doc, err := readListings(args[0])
			if err != nil {
				return err
			}
			vehicleMake, model, err := sf.vehicle(doc.Metadata)
			if err != nil {
				return err
			}
			search, err := sf.search(doc.Metadata)
			if err != nil {
				return err
			}

			listings := make([]listing.Listing, 0, len(doc.Listings))
			for _, l := range doc.Listings {
				if search.Matches(l) {
					listings = append(listings, l)
				}
			}
			logger.Info().
				Str("file", args[0]).
				Int("listings", len(doc.Listings)).
				Int("selected", len(listings)).
				Msg("Loaded listings")
			if len(listings) == 0 {
				return usageErrorf("no listings in %s match the selected filters", args[0])
			}

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			catalog, err := loadCatalog(cfg, ui)
			if err != nil {
				return err
			}

			var collector analysis.Collector
			if cfg.Fetch.Enabled && !noFetch {
				collector = newCollector(cfg, ui)
			}
			var runs analysis.RunRecorder
			if b.runs != nil {
				runs = b.runs
			}

			pipeline := analysis.NewPipeline(logger, analysis.PipelineConfig{SkipFetch: noFetch}, b.store, catalog, collector, runs)

			ui.Step("Analyzing %d %s %s listings", len(listings), vehicleMake, model)
			res, runErr := pipeline.Run(ctx, analysis.Request{
				Make:     vehicleMake,
				Model:    model,
				Search:   search,
				Listings: listings,
			})
			if runErr != nil && !errors.Is(runErr, report.ErrNoRatedListings) {
				return fmt.Errorf("analyze: %w", runErr)
			}

			if res.Report != nil {
				path := output
				if path == "" && save {
					path = filepath.Join(cfg.Analysis.OutputDir, reportFileName(vehicleMake, model, res.Report.GeneratedAt))
				}
				if path != "" {
					if err := writeJSON(path, res.Report); err != nil {
						return err
					}
					ui.Success("Report written to %s", path)
				}
			}

			if outputJSON {
				if err := printJSON(analyzeOutput(res)); err != nil {
					return err
				}
			} else {
				renderAnalysis(ui, res, top)
			}

			return runErr
		},
	}

	sf.register(cmd)
	cmd.Flags().BoolVar(&noFetch, "no-fetch", false, "use the pricing cache only")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the report JSON to this path")
	cmd.Flags().BoolVar(&save, "save", false, "write the report JSON to the configured output directory")
	cmd.Flags().IntVar(&top, "top", 10, "number of listings to show")

	return cmd
}

func readListings(path string) (*listing.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open listings: %w", err)
	}
	defer f.Close()

	doc, err := listing.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

// loadCatalog reads the variant catalog. Without one every listing keeps its
// own model name.
func loadCatalog(cfg *config.Config, ui *UI) (variant.Catalog, error) {
	path := cfg.Analysis.VariantCatalog
	if path == "" {
		return variant.Catalog{}, nil
	}
	catalog, err := variant.LoadCatalog(path)
	if errors.Is(err, fs.ErrNotExist) {
		ui.Warning("Variant catalog %s not found; using listing models as variants", path)
		return variant.Catalog{}, nil
	}
	if err != nil {
		return nil, err
	}
	return catalog, nil
}

// newCollector wires the reference pricing client with a progress bar that
// restarts for every variant collected.
func newCollector(cfg *config.Config, ui *UI) *kbb.Collector {
	client := kbb.NewClient(kbb.Config{
		BaseURL:    cfg.Fetch.BaseURL,
		ZipCode:    cfg.Fetch.ZipCode,
		Timeout:    cfg.Fetch.Timeout,
		RetryDelay: cfg.Fetch.RetryDelay,
		UserAgent:  cfg.Fetch.UserAgent,
	}, logger)

	var bar *progressbar.ProgressBar
	return kbb.NewCollector(client, nil, logger, kbb.CollectorConfig{
		Concurrency: cfg.Fetch.Concurrency,
		OnProgress: func(done, total int) {
			if done == 1 || bar == nil {
				bar = ui.ProgressBar("Fetching reference pricing", total)
			}
			if bar != nil {
				_ = bar.Set(done)
				if done == total {
					_ = bar.Finish()
				}
			}
		},
	})
}

func reportFileName(vehicleMake, model string, at time.Time) string {
	slug := strings.ToLower(strings.Join(strings.Fields(vehicleMake+" "+model), "_"))
	return fmt.Sprintf("deal_report_%s_%s.json", slug, at.Format("20060102_150405"))
}

func writeJSON(path string, v interface{}) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type analyzeJSON struct {
	RunID        string         `json:"run_id"`
	Report       *report.Report `json:"report"`
	Skipped      []report.Skip  `json:"skipped"`
	SkipMessages []string       `json:"skip_messages"`
	Duplicates   int            `json:"duplicates"`
	Inherited    []string       `json:"inherited_variant_ids,omitempty"`
	Fetches      []*kbb.Result  `json:"fetches,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
}

func analyzeOutput(res *analysis.Result) analyzeJSON {
	return analyzeJSON{
		RunID:        res.RunID.String(),
		Report:       res.Report,
		Skipped:      res.Skipped,
		SkipMessages: report.SkipMessages(res.Skipped),
		Duplicates:   res.Duplicates,
		Inherited:    inheritedIDs(res),
		Fetches:      res.Fetches,
		DurationMS:   res.Duration.Milliseconds(),
	}
}

// inheritedIDs lists listings whose variant was guessed from the majority.
func inheritedIDs(res *analysis.Result) []string {
	if res.Variants == nil {
		return nil
	}
	ids := make([]string, 0, len(res.Variants.Inherited))
	for _, l := range res.Variants.Inherited {
		ids = append(ids, l.ID)
	}
	return ids
}

func renderAnalysis(ui *UI, res *analysis.Result, top int) {
	for _, f := range res.Fetches {
		ui.Info("Reference pricing %s: %d fetched, %d fresh, %d without data, %d failed",
			f.Slug, f.Fetched, f.Fresh, f.NoData, f.Failed)
	}

	if res.Report == nil {
		ui.Warning("No listings could be rated")
		for _, msg := range report.SkipMessages(res.Skipped) {
			ui.Warning("%s", msg)
		}
		return
	}
	rep := res.Report

	ui.Section("Summary")
	ui.KeyValue("Vehicle", rep.Make+" "+rep.Model)
	ui.KeyValue("Filters", rep.Summary)
	ui.KeyValue("Rated", len(res.Rated))
	ui.KeyValue("Skipped", rep.SkippedCount)
	if res.Duplicates > 0 {
		ui.KeyValue("Duplicates ignored", res.Duplicates)
	}
	ui.KeyValue("Good or great", fmt.Sprintf("%d (%.1f%%)", rep.GoodGreatCount, rep.GoodGreatPct))
	ui.KeyValue("Fair", fmt.Sprintf("%d (%.1f%%)", rep.FairCount, rep.FairPct))
	ui.KeyValue("Poor or bad", fmt.Sprintf("%d (%.1f%%)", rep.PoorBadCount, rep.PoorBadPct))
	ui.KeyValue("Run", rep.RunID)
	ui.KeyValue("Duration", FormatDuration(res.Duration))

	ui.Section("Deal Bins")
	bins := make([]report.DealBin, 0, len(rep.DealBins)+1)
	bins = append(bins, rep.DealBins...)
	bins = append(bins, rep.NoPriceBin)
	rows := make([][]string, 0, len(bins))
	for _, bin := range bins {
		rows = append(rows, []string{
			ui.DealLabel(bin.Category),
			fmt.Sprint(bin.Count),
			Percent(bin.AvgDeviationPct),
			fmt.Sprintf("%.1f%%", bin.PercentOfTotal),
			fmt.Sprint(bin.ConditionCounts[listing.ConditionNew]),
			fmt.Sprint(bin.ConditionCounts[listing.ConditionCertified]),
			fmt.Sprint(bin.ConditionCounts[listing.ConditionUsed]),
		})
	}
	ui.Table([]string{"Deal", "Count", "Avg Dev", "Share", "New", "Certified", "Used"}, rows)

	ui.Section("Listings")
	rows = rows[:0]
	for _, bin := range rep.DealBins {
		for _, r := range bin.Listings {
			if len(rows) >= top {
				break
			}
			compare := r.ComparePrice
			rows = append(rows, []string{
				ui.DealLabel(r.Deal),
				r.Title,
				Dollars(r.Price),
				Dollars(&compare),
				Percent(r.Deviation),
				Miles(r.Mileage),
				string(r.Risk),
				string(r.Uncertainty),
				r.LastVIN5(),
			})
		}
	}
	ui.Table([]string{"Deal", "Listing", "Price", "Compare", "Dev", "Miles", "Risk", "Uncertainty", "VIN"}, rows)

	ui.Section("Outliers")
	rows = rows[:0]
	for _, rule := range outliers.Rules {
		g, ok := rep.Outliers.Group(rule)
		if !ok || g.Count == 0 {
			continue
		}
		rows = append(rows, []string{rule, fmt.Sprint(g.Count), strings.Join(g.Examples, "; ")})
	}
	if len(rows) == 0 {
		ui.Info("No outliers")
	} else {
		ui.Table([]string{"Rule", "Count", "Examples"}, rows)
	}

	for _, msg := range rep.SkipMessages {
		ui.Warning("%s", msg)
	}
	if n := len(inheritedIDs(res)); n > 0 {
		ui.Warning("%d listings were assigned the majority variant; their trims are approximate", n)
	}
}
