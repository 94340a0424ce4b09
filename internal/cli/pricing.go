package cli

import (
	"github.com/spf13/cobra"

	"spot-hedger/internal/errors"
	"spot-hedger/internal/models"
	"spot-hedger/internal/pricing"
	"spot-hedger/pkg/utils"
)

func addPricingCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPriceCmd(app))
	rootCmd.AddCommand(newIVCmd(app))
}

// optionFlags are the contract terms shared by the pricing commands.
type optionFlags struct {
	spot       float64
	strike     float64
	days       float64
	rate       float64
	optionType string
}

func (f *optionFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.spot, "spot", 0, "underlying price")
	cmd.Flags().Float64Var(&f.strike, "strike", 0, "strike price")
	cmd.Flags().Float64Var(&f.days, "days", 30, "calendar days to expiry")
	cmd.Flags().Float64Var(&f.rate, "rate", 0, "annual risk-free rate (default: risk.risk_free_rate)")
	cmd.Flags().StringVar(&f.optionType, "type", "call", "call or put")
	cmd.MarkFlagRequired("spot")
	cmd.MarkFlagRequired("strike")
}

// resolve returns the option type, years to expiry and rate.
func (f *optionFlags) resolve(cmd *cobra.Command, app *App) (models.OptionType, float64, float64, error) {
	optionType, err := models.ParseOptionType(f.optionType)
	if err != nil {
		return "", 0, 0, err
	}
	if f.days < 0 {
		return "", 0, 0, errors.NewValidationError("days", f.days, "cannot be negative")
	}
	rate := f.rate
	if !cmd.Flags().Changed("rate") {
		rate = app.Config.Risk.RiskFreeRate
	}
	return optionType, f.days / pricing.DaysPerYear, rate, nil
}

func newPriceCmd(app *App) *cobra.Command {
	var opts optionFlags
	var vol float64

	cmd := &cobra.Command{
		Use:   "price",
		Short: "Black-Scholes price and Greeks of a European option",
		Example: `  hedger price --spot 62900 --strike 60000 --days 30 --vol 0.6 --type put
  hedger price --spot 100 --strike 100 --days 365 --vol 0.2 --rate 0.05`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			optionType, t, rate, err := opts.resolve(cmd, app)
			if err != nil {
				return err
			}

			res, err := pricing.PriceAndGreeks(opts.spot, opts.strike, t, rate, vol, optionType)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"type":   optionType,
					"spot":   opts.spot,
					"strike": opts.strike,
					"years":  t,
					"rate":   rate,
					"vol":    vol,
					"price":  res.Price,
					"delta":  res.Delta,
					"gamma":  res.Gamma,
					"theta":  res.Theta,
					"vega":   res.Vega,
					"rho":    res.Rho,
				})
			}

			output.Bold("%s %s strike, %.0f days, vol %.2f%%, rate %.2f%%",
				optionType, utils.FormatCurrency(opts.strike), opts.days, vol*100, rate*100)
			output.Printf("  Price:     %s\n", utils.FormatCurrency(res.Price))
			output.Printf("  Intrinsic: %s\n", utils.FormatCurrency(pricing.Intrinsic(opts.spot, opts.strike, optionType)))
			output.Printf("  Delta:     %s\n", utils.FormatGreek(res.Delta))
			output.Printf("  Gamma:     %s\n", utils.FormatGreek(res.Gamma))
			output.Printf("  Theta:     %s per day\n", utils.FormatGreek(res.Theta))
			output.Printf("  Vega:      %s per 1%% vol\n", utils.FormatGreek(res.Vega))
			output.Printf("  Rho:       %s per 1%% rate\n", utils.FormatGreek(res.Rho))
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().Float64Var(&vol, "vol", 0, "annual volatility, e.g. 0.6")
	cmd.MarkFlagRequired("vol")
	return cmd
}

func newIVCmd(app *App) *cobra.Command {
	var opts optionFlags
	var premium float64

	cmd := &cobra.Command{
		Use:     "iv",
		Short:   "Implied volatility of an option premium",
		Example: `  hedger iv --spot 62900 --strike 60000 --days 30 --premium 2800 --type put`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			optionType, t, rate, err := opts.resolve(cmd, app)
			if err != nil {
				return err
			}

			iv, err := pricing.ImpliedVolatility(premium, opts.spot, opts.strike, t, rate, optionType)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"type":    optionType,
					"premium": premium,
					"iv":      iv,
				})
			}
			output.Printf("Implied volatility: %.2f%%\n", iv*100)
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().Float64Var(&premium, "premium", 0, "observed option premium")
	cmd.MarkFlagRequired("premium")
	return cmd
}
