package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/filters"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/kbb"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/trim"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and refresh the reference pricing cache",
	}
	cmd.AddCommand(newCacheStatusCmd(), newCacheFetchCmd())
	return cmd
}

// vehicleStatus counts the entries of one "{year} {make} {model}" prefix.
type vehicleStatus struct {
	Vehicle    string     `json:"vehicle"`
	Slug       string     `json:"slug,omitempty"`
	Entries    int        `json:"entries"`
	NatlFresh  int        `json:"national_fresh"`
	LocalFresh int        `json:"local_fresh"`
	Skipped    int        `json:"skipped"`
	NoFMV      int        `json:"no_fmv"`
	LastFetch  *time.Time `json:"last_fetch,omitempty"`
}

type cacheStatus struct {
	Store    string          `json:"store"`
	Entries  int             `json:"entries"`
	Vehicles []vehicleStatus `json:"vehicles"`
}

func newCacheStatusCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pricing cache coverage and freshness",
		Long: `Status lists every cached year/make/model with its entry count and how
many entries are fresh: national values within seven days, local values
within the current calendar month.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ui := NewUI(outputJSON, noColor)

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			doc, err := b.store.Load(ctx)
			if err != nil {
				return fmt.Errorf("load pricing cache: %w", err)
			}

			status := summarizeCache(doc, prefix, time.Now())
			status.Store = describeStore(cfg)

			if outputJSON {
				return printJSON(status)
			}

			ui.Section("Pricing Cache")
			ui.KeyValue("Store", status.Store)
			ui.KeyValue("Entries", status.Entries)
			if len(status.Vehicles) == 0 {
				ui.Info("No cached vehicles")
				return nil
			}

			rows := make([][]string, 0, len(status.Vehicles))
			for _, v := range status.Vehicles {
				last := "never"
				if v.LastFetch != nil {
					last = humanize.Time(*v.LastFetch)
				}
				rows = append(rows, []string{
					v.Vehicle,
					v.Slug,
					strconv.Itoa(v.Entries),
					fmt.Sprintf("%d/%d", v.NatlFresh, v.Entries),
					fmt.Sprintf("%d/%d", v.LocalFresh, v.Entries),
					strconv.Itoa(v.NoFMV),
					strconv.Itoa(v.Skipped),
					last,
				})
			}
			ui.Table([]string{"Vehicle", "Slug", "Entries", "National", "Local", "No FMV", "Skipped", "Last Fetch"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "vehicle", "", `only show vehicles starting with this text, e.g. "2024 RAM"`)
	return cmd
}

// summarizeCache groups entries by vehicle key. An entry key is the vehicle
// key plus one trim, so the vehicle is the longest slug key that prefixes it,
// or the first three words when no slug is recorded.
func summarizeCache(doc *pricing.Document, prefix string, now time.Time) cacheStatus {
	byVehicle := map[string]*vehicleStatus{}
	for key, e := range doc.Entries {
		vk := vehicleOf(key, doc.ModelSlugs)
		if prefix != "" && !strings.HasPrefix(strings.ToLower(vk), strings.ToLower(prefix)) {
			continue
		}
		vs, ok := byVehicle[vk]
		if !ok {
			vs = &vehicleStatus{Vehicle: vk, Slug: doc.ModelSlugs[vk]}
			byVehicle[vk] = vs
		}
		vs.Entries++
		if pricing.IsNationalFresh(e, now) {
			vs.NatlFresh++
		}
		if pricing.IsLocalFresh(e, now) {
			vs.LocalFresh++
		}
		if e.SkipReason != "" {
			vs.Skipped++
		}
		if e.NoFMV {
			vs.NoFMV++
		}
		for _, ts := range []*pricing.Timestamp{e.NatlTimestamp, e.LocalTimestamp, e.PricingTimestamp} {
			if ts != nil && (vs.LastFetch == nil || ts.Time.After(*vs.LastFetch)) {
				t := ts.Time
				vs.LastFetch = &t
			}
		}
	}

	status := cacheStatus{Vehicles: make([]vehicleStatus, 0, len(byVehicle))}
	for _, vs := range byVehicle {
		status.Entries += vs.Entries
		status.Vehicles = append(status.Vehicles, *vs)
	}
	sort.Slice(status.Vehicles, func(i, j int) bool {
		return status.Vehicles[i].Vehicle < status.Vehicles[j].Vehicle
	})
	return status
}

func vehicleOf(entryKey string, slugs map[string]string) string {
	best := ""
	for vk := range slugs {
		if strings.HasPrefix(entryKey, vk+" ") && len(vk) > len(best) {
			best = vk
		}
	}
	if best != "" {
		return best
	}
	fields := strings.Fields(entryKey)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, " ")
}

func newCacheFetchCmd() *cobra.Command {
	var (
		vehicleMake string
		model       string
		years       []string
		trims       []string
		vins        []string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch reference pricing for a model into the cache",
		Long: `Fetch collects reference pricing for the given trims of a model and merges
it into the cache. Fresh entries are kept; only missing or stale values are
requested. Without --trim only the base trim is collected.`,
		Example: `  deal-engine-cli cache fetch --make RAM --model 1500 --years 2023-2024 --trim Laramie --trim "Big Horn"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			ui := NewUI(outputJSON, noColor)

			if vehicleMake == "" || model == "" {
				return usageErrorf("--make and --model are required")
			}
			yearList, err := filters.NormalizeYears(years)
			if err != nil {
				return err
			}
			if len(yearList) == 0 {
				return usageErrorf("--years is required")
			}
			if !cfg.Fetch.Enabled {
				return usageErrorf("fetching is disabled in the configuration")
			}

			normalizer := trim.NewNormalizer(nil)
			keys := []string{trim.Base}
			if len(trims) > 0 {
				keys = keys[:0]
				for _, t := range trims {
					keys = append(keys, normalizer.KeyFor(t, model))
				}
			}
			req := kbb.Request{Make: vehicleMake, Model: model, Keys: map[string][]string{}, VINs: vins}
			for _, y := range yearList {
				req.Keys[strconv.Itoa(y)] = keys
			}

			b, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			doc, err := b.store.Load(ctx)
			if err != nil {
				return fmt.Errorf("load pricing cache: %w", err)
			}

			ui.Step("Fetching %s %s for %s", vehicleMake, model, filters.FormatYears(yearList))
			res, err := newCollector(cfg, ui).Collect(ctx, req, doc)
			if err != nil {
				return fmt.Errorf("collect pricing: %w", err)
			}
			if err := b.store.Save(ctx, doc); err != nil {
				return fmt.Errorf("save pricing cache: %w", err)
			}
			logger.Info().
				Str("make", vehicleMake).
				Str("model", model).
				Int("fetched", res.Fetched).
				Int("failed", res.Failed).
				Msg("Pricing cache updated")

			if outputJSON {
				return printJSON(res)
			}

			ui.Success("Pricing cache updated (%s)", describeStore(cfg))
			ui.KeyValue("Slug", res.Slug)
			ui.KeyValue("Fetched", res.Fetched)
			ui.KeyValue("Already fresh", res.Fresh)
			ui.KeyValue("No data", res.NoData)
			ui.KeyValue("Failed", res.Failed)
			for _, key := range res.Unmatched {
				ui.Warning("%s: %s", key, kbb.ReasonNoMatch)
			}
			collided := make([]string, 0, len(res.Collisions))
			for key := range res.Collisions {
				collided = append(collided, key)
			}
			sort.Strings(collided)
			for _, key := range collided {
				ui.Warning("%s: several reference trims normalize to it: %s", key, strings.Join(res.Collisions[key], ", "))
			}
			if res.Failed > 0 {
				ui.Warning("%d trims failed and will be retried on the next run", res.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vehicleMake, "make", "", "vehicle make")
	cmd.Flags().StringVar(&model, "model", "", "vehicle model or variant")
	cmd.Flags().StringSliceVar(&years, "years", nil, "model years, e.g. 2022-2024")
	cmd.Flags().StringArrayVar(&trims, "trim", nil, "listing trim to collect (repeatable)")
	cmd.Flags().StringSliceVar(&vins, "vin", nil, "VINs used to resolve the model slug")
	return cmd
}
