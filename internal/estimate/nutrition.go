package estimate

import (
	"context"
	"fmt"
	"math"
)

const (
	minPlausibleGrams = 5
	maxPlausibleGrams = 1000
)

// IngredientNutrition is the estimate for a single ingredient.
type IngredientNutrition struct {
	Name       string
	Grams      float64
	Method     string
	Key        string
	Source     MatchSource
	Nutrients  Nutrients
	Confidence float64
	Recognized bool
}

// NutritionEstimate is the estimate for a whole ingredient list.
type NutritionEstimate struct {
	Ingredients  []IngredientNutrition
	Totals       Nutrients
	Confidence   float64
	Unrecognized []string
	Warnings     []string
}

// Totals computes nutrition for parsed ingredients. Ingredients without a
// cooking method of their own use defaultMethod, or the table default when
// defaultMethod is empty or unknown.
func (e *Estimator) Totals(ctx context.Context, ingredients []ParsedIngredient, defaultMethod string) NutritionEstimate {
	t := e.tables.Load()

	var est NutritionEstimate
	if _, ok := t.cookingMethod(defaultMethod); !ok {
		if defaultMethod != "" {
			est.Warnings = append(est.Warnings, fmt.Sprintf("unknown cooking method %q, using %q", defaultMethod, t.Defaults.CookingMethod))
		}
		defaultMethod = t.Defaults.CookingMethod
	}
	if len(ingredients) == 0 {
		est.Warnings = append(est.Warnings, "no ingredients found")
		return est
	}

	confidence := math.Inf(1)
	for _, p := range ingredients {
		method := p.Method
		if method == "" {
			method = defaultMethod
		}
		in := IngredientNutrition{
			Name:   p.Name,
			Grams:  t.grams(p.Quantity, p.Unit),
			Method: method,
		}
		if p.Source == QuantityInvalid {
			est.Warnings = append(est.Warnings, fmt.Sprintf("%s: unreadable quantity, assuming %d g", p.Name, defaultQuantityGrams))
		}

		m, ok := e.resolver.Resolve(ctx, p.Name)
		if !ok {
			est.Unrecognized = append(est.Unrecognized, p.Name)
			est.Warnings = append(est.Warnings, "unrecognized ingredient: "+p.Name)
			est.Ingredients = append(est.Ingredients, in)
			e.unrecognized.Add(ctx, 1)
			continue
		}

		cm, _ := t.cookingMethod(method)
		n := m.Nutrients.scale(in.Grams / 100)
		n.Calories *= cm.Calories

		in.Key = m.Key
		in.Source = m.Source
		in.Nutrients = roundNutrients(n)
		in.Confidence = math.Min(p.Confidence, m.Confidence)
		in.Recognized = true
		est.Ingredients = append(est.Ingredients, in)

		est.Totals = est.Totals.add(n)
		confidence = math.Min(confidence, in.Confidence)

		if in.Grams < minPlausibleGrams || in.Grams > maxPlausibleGrams {
			est.Warnings = append(est.Warnings, fmt.Sprintf("%s: implausible quantity %.0f g", p.Name, in.Grams))
		}
	}

	switch {
	case math.IsInf(confidence, 1):
		confidence = 0
	case len(est.Unrecognized) > 0:
		confidence = math.Min(confidence, confidenceUnrecognized)
	}
	est.Confidence = math.Round(confidence)
	est.Totals = roundNutrients(est.Totals)
	return est
}

// Nutrition parses text and computes its nutrition estimate.
func (e *Estimator) Nutrition(ctx context.Context, text, defaultMethod string) NutritionEstimate {
	return e.Totals(ctx, ParseIngredientList(e.tables.Load(), text), defaultMethod)
}

func roundNutrients(n Nutrients) Nutrients {
	return Nutrients{
		Calories: math.Round(n.Calories),
		Protein:  round1(n.Protein),
		Fat:      round1(n.Fat),
		Carbs:    round1(n.Carbs),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
