// Command estimate runs the nutrition and pricing estimator offline against
// the embedded reference tables or a YAML override.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xenking/homechef/internal/estimate"
)

func main() {
	if err := rootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd(out io.Writer) *cobra.Command {
	var refData string

	cmd := &cobra.Command{
		Use:           "estimate",
		Short:         "Estimate dish nutrition and price",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&refData, "ref-data", "", "Reference tables YAML override")
	cmd.SetOut(out)

	newEstimator := func() (*estimate.Estimator, error) {
		tables := estimate.DefaultTables()
		if refData != "" {
			t, err := estimate.LoadTables(refData)
			if err != nil {
				return nil, err
			}
			tables = t
		}
		return estimate.New(estimate.NewTableStore(tables))
	}

	cmd.AddCommand(
		nutritionCmd(newEstimator),
		priceCmd(newEstimator),
		suggestCmd(newEstimator),
		optionsCmd(newEstimator),
	)
	return cmd
}

type estimatorFunc func() (*estimate.Estimator, error)

func nutritionCmd(newEstimator estimatorFunc) *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "nutrition <ingredients>",
		Short: "Estimate calories and macros of an ingredient list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEstimator()
			if err != nil {
				return err
			}
			res := e.Nutrition(cmd.Context(), strings.Join(args, " "), method)
			return printYAML(cmd.OutOrStdout(), nutritionView(res))
		},
	}
	cmd.Flags().StringVar(&method, "method", "", "Default cooking method")
	return cmd
}

func priceCmd(newEstimator estimatorFunc) *cobra.Command {
	var (
		cfg         estimate.DishConfig
		customPrice string
	)
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Compute a full price breakdown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if customPrice != "" {
				p, err := decimal.NewFromString(customPrice)
				if err != nil {
					return fmt.Errorf("parse custom price: %w", err)
				}
				cfg.CustomPrice = p
			}
			e, err := newEstimator()
			if err != nil {
				return err
			}
			b, err := e.Price(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), breakdownView(b))
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Ingredients, "ingredients", "", "Ingredient list, one entry per comma or line")
	f.StringVar(&cfg.CookingMethod, "method", "", "Cooking method")
	f.IntVar(&cfg.PrepTimeMinutes, "prep-time", 0, "Preparation time in minutes")
	f.IntVar(&cfg.Servings, "servings", 0, "Number of servings")
	f.StringVar(&cfg.SkillLevel, "skill", "", "Chef skill level")
	f.StringVar(&cfg.EnergySource, "energy", "", "Energy source")
	f.StringVar(&cfg.Packaging, "packaging", "", "Packaging type")
	f.StringVar(&cfg.Delivery, "delivery", "", "Delivery option")
	f.StringVar(&cfg.MarketTier, "market", "", "Market tier")
	f.StringVar(&customPrice, "custom-price", "", "Price to compute the margin against")
	_ = cmd.MarkFlagRequired("ingredients")
	return cmd
}

func suggestCmd(newEstimator estimatorFunc) *cobra.Command {
	var req estimate.SuggestRequest
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest a price range from ingredient cost",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEstimator()
			if err != nil {
				return err
			}
			s, err := e.Suggest(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), suggestionView(s))
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Ingredients, "ingredients", "", "Ingredient list")
	f.StringVar(&req.CookingMethod, "method", "", "Cooking method")
	f.StringVar(&req.Category, "category", "", "Dish category")
	f.StringVar(&req.MarketTier, "market", "", "Market tier")
	_ = cmd.MarkFlagRequired("ingredients")
	return cmd
}

func optionsCmd(newEstimator estimatorFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List accepted pricing option values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := newEstimator()
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), e.Options())
		},
	}
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
