package main

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/homechef/internal/estimate"
)

type ingredientView struct {
	Name       string             `yaml:"name"`
	Grams      float64            `yaml:"grams"`
	Method     string             `yaml:"method,omitempty"`
	Key        string             `yaml:"key,omitempty"`
	Source     string             `yaml:"source,omitempty"`
	Nutrients  estimate.Nutrients `yaml:"nutrients"`
	Confidence float64            `yaml:"confidence"`
}

type nutritionOut struct {
	Ingredients  []ingredientView   `yaml:"ingredients"`
	Totals       estimate.Nutrients `yaml:"totals"`
	Confidence   float64            `yaml:"confidence"`
	Unrecognized []string           `yaml:"unrecognized,omitempty"`
	Warnings     []string           `yaml:"warnings,omitempty"`
}

func nutritionView(n estimate.NutritionEstimate) nutritionOut {
	out := nutritionOut{
		Ingredients:  make([]ingredientView, 0, len(n.Ingredients)),
		Totals:       n.Totals,
		Confidence:   n.Confidence,
		Unrecognized: n.Unrecognized,
		Warnings:     n.Warnings,
	}
	for _, in := range n.Ingredients {
		out.Ingredients = append(out.Ingredients, ingredientView{
			Name:       in.Name,
			Grams:      in.Grams,
			Method:     in.Method,
			Key:        in.Key,
			Source:     string(in.Source),
			Nutrients:  in.Nutrients,
			Confidence: in.Confidence,
		})
	}
	return out
}

type componentView struct {
	Total  string `yaml:"total"`
	Detail string `yaml:"detail,omitempty"`
}

type costLineView struct {
	Name  string  `yaml:"name"`
	Key   string  `yaml:"key,omitempty"`
	Grams float64 `yaml:"grams"`
	Cost  string  `yaml:"cost"`
}

type breakdownOut struct {
	Ingredients      componentView  `yaml:"ingredients"`
	Lines            []costLineView `yaml:"lines"`
	Packaging        componentView  `yaml:"packaging"`
	Energy           componentView  `yaml:"energy"`
	Labor            componentView  `yaml:"labor"`
	Delivery         componentView  `yaml:"delivery"`
	Subtotal         string         `yaml:"subtotal"`
	CommissionRate   string         `yaml:"commissionRate"`
	Commission       string         `yaml:"commission"`
	TotalCost        string         `yaml:"totalCost"`
	RecommendedPrice string         `yaml:"recommendedPrice"`
	FinalPrice       string         `yaml:"finalPrice"`
	ProfitMargin     string         `yaml:"profitMargin"`
	Recommendations  []string       `yaml:"recommendations,omitempty"`
	Unrecognized     []string       `yaml:"unrecognized,omitempty"`
}

func breakdownView(b *estimate.PriceBreakdown) breakdownOut {
	out := breakdownOut{
		Ingredients:      component(b.Ingredients),
		Lines:            make([]costLineView, 0, len(b.IngredientLines)),
		Packaging:        component(b.Packaging),
		Energy:           component(b.Energy),
		Labor:            component(b.Labor),
		Delivery:         component(b.Delivery),
		Subtotal:         money(b.Subtotal),
		CommissionRate:   b.CommissionRate.String(),
		Commission:       money(b.Commission),
		TotalCost:        money(b.TotalCost),
		RecommendedPrice: money(b.RecommendedPrice),
		FinalPrice:       money(b.FinalPrice),
		ProfitMargin:     b.ProfitMargin.String(),
		Recommendations:  b.Recommendations,
		Unrecognized:     b.Unrecognized,
	}
	for _, l := range b.IngredientLines {
		out.Lines = append(out.Lines, costLineView{
			Name:  l.Name,
			Key:   l.Key,
			Grams: l.Grams,
			Cost:  money(l.Cost),
		})
	}
	return out
}

type suggestionOut struct {
	IngredientCost string   `yaml:"ingredientCost"`
	Complexity     float64  `yaml:"complexity"`
	Seasonal       float64  `yaml:"seasonal"`
	Market         float64  `yaml:"market"`
	Minimum        string   `yaml:"minimum"`
	Recommended    string   `yaml:"recommended"`
	Premium        string   `yaml:"premium"`
	Maximum        string   `yaml:"maximum"`
	Unrecognized   []string `yaml:"unrecognized,omitempty"`
}

func suggestionView(s *estimate.PriceSuggestion) suggestionOut {
	return suggestionOut{
		IngredientCost: money(s.IngredientCost),
		Complexity:     s.Complexity,
		Seasonal:       s.Seasonal,
		Market:         s.Market,
		Minimum:        money(s.Minimum),
		Recommended:    money(s.Recommended),
		Premium:        money(s.Premium),
		Maximum:        money(s.Maximum),
		Unrecognized:   s.Unrecognized,
	}
}

func component(c estimate.CostComponent) componentView {
	return componentView{Total: money(c.Total), Detail: c.Detail}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
