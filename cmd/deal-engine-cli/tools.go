package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/pricing"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/scoring"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/trim"
	"github.com/spherical-ai/spherical/libs/deal-engine/internal/valuation"
)

type normalizedTrim struct {
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
	Key        string `json:"key"`
	Engine     string `json:"engine,omitempty"`
	Drivetrain string `json:"drivetrain,omitempty"`
	Body       string `json:"body,omitempty"`
	Bed        string `json:"bed,omitempty"`
}

func normalizeTrims(raws []string, model string) []normalizedTrim {
	n := trim.NewNormalizer(nil)
	out := make([]normalizedTrim, 0, len(raws))
	for _, raw := range raws {
		p := trim.NewProfile(raw)
		out = append(out, normalizedTrim{
			Raw:        raw,
			Normalized: n.NormalizeFor(raw, model),
			Key:        n.KeyFor(raw, model),
			Engine:     p.Engine,
			Drivetrain: p.Drivetrain,
			Body:       p.BodyStyle,
			Bed:        p.BedLength,
		})
	}
	return out
}

func newNormalizeCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:     "normalize <trim>...",
		Short:   "Show how trim strings normalize into cache keys",
		Example: `  deal-engine-cli normalize "Laramie Crew Cab 4D 5.7L V8 4WD" "Big Horn" --model 1500`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ui := NewUI(outputJSON, noColor)
			results := normalizeTrims(args, model)
			if outputJSON {
				return printJSON(results)
			}

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{r.Raw, r.Normalized, r.Key, r.Engine, r.Drivetrain, r.Body, r.Bed})
			}
			ui.Table([]string{"Raw", "Normalized", "Key", "Engine", "Drive", "Body", "Bed"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "model name; a trim equal to it is Base")
	return cmd
}

type rateFlags struct {
	price    int
	msrp     int
	fppNatl  int
	fppLocal int
	fmrLow   int
	fmrHigh  int
	fmv      int
}

type rateResult struct {
	Price        int                   `json:"price"`
	ComparePrice int                   `json:"compare_price"`
	PriceSource  valuation.PriceSource `json:"price_source"`
	Deal         scoring.Deal          `json:"deal_rating"`
	Mode         scoring.Mode          `json:"mode"`
	Deviation    *float64              `json:"deviation_pct"`
}

// rate classifies one price. Zero flags are unknown values.
func rate(f rateFlags) (rateResult, error) {
	if f.price <= 0 {
		return rateResult{}, usageErrorf("--price must be a positive whole-dollar amount")
	}

	v := valuation.FromEntry("", &pricing.Entry{
		MSRP:     optional(f.msrp),
		FPPNatl:  optional(f.fppNatl),
		FPPLocal: optional(f.fppLocal),
		FMRLow:   optional(f.fmrLow),
		FMRHigh:  optional(f.fmrHigh),
		FMV:      optional(f.fmv),
	})
	compare, source, err := v.ComparePrice()
	if errors.Is(err, valuation.ErrNoComparePrice) {
		return rateResult{}, usageErrorf("pass at least one of --fpp-local, --fpp-natl, --fmv or --msrp")
	}
	if err != nil {
		return rateResult{}, err
	}

	res := rateResult{Price: f.price, ComparePrice: compare, PriceSource: source}
	res.Deal, res.Mode = scoring.RateDeal(f.price, compare, v.FPPLocal, v.FMRLow, v.FMRHigh)
	if pct, ok := scoring.DeviationPct(f.price, compare); ok {
		res.Deviation = &pct
	}
	return res, nil
}

func optional(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func newRateCmd() *cobra.Command {
	var f rateFlags

	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Rate a single asking price against reference values",
		Long: `Rate picks the comparison price (local FPP, national FPP, FMV, then MSRP)
and buckets the asking price. With --fpp-local and a fair-market range the
range rule applies; otherwise dollar and ratio thresholds do.`,
		Example: `  deal-engine-cli rate --price 32500 --fpp-local 35000 --fmr-low 33000 --fmr-high 37000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ui := NewUI(outputJSON, noColor)
			res, err := rate(f)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(res)
			}

			price, compare := res.Price, res.ComparePrice
			ui.KeyValue("Deal", ui.DealLabel(res.Deal))
			ui.KeyValue("Price", Dollars(&price))
			ui.KeyValue("Compared to", fmt.Sprintf("%s (%s)", Dollars(&compare), strings.ReplaceAll(string(res.PriceSource), "_", " ")))
			ui.KeyValue("Deviation", Percent(res.Deviation))
			ui.KeyValue("Mode", res.Mode)
			return nil
		},
	}

	cmd.Flags().IntVar(&f.price, "price", 0, "asking price")
	cmd.Flags().IntVar(&f.msrp, "msrp", 0, "MSRP")
	cmd.Flags().IntVar(&f.fppNatl, "fpp-natl", 0, "national fair purchase price")
	cmd.Flags().IntVar(&f.fppLocal, "fpp-local", 0, "local fair purchase price")
	cmd.Flags().IntVar(&f.fmrLow, "fmr-low", 0, "fair market range low")
	cmd.Flags().IntVar(&f.fmrHigh, "fmr-high", 0, "fair market range high")
	cmd.Flags().IntVar(&f.fmv, "fmv", 0, "fair market (resale) value")
	return cmd
}
