package estimate

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// TargetMargin is the profit margin the recommended price aims for.
	TargetMargin = decimal.RequireFromString("0.25")

	minHealthyMargin = decimal.NewFromInt(25)
	maxHealthyMargin = decimal.NewFromInt(60)
	dominantShare    = decimal.RequireFromString("0.5")

	hundred   = decimal.NewFromInt(100)
	sixty     = decimal.NewFromInt(60)
	suggestLo = decimal.RequireFromString("0.8")
	suggestHi = decimal.RequireFromString("1.3")
	suggestX  = decimal.RequireFromString("1.5")
)

// UnknownOptionError indicates a configuration value missing from the
// reference tables.
type UnknownOptionError struct {
	Option string
	Value  string
}

func (e *UnknownOptionError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Option, e.Value)
}

// DishConfig is the input of a full price calculation.
type DishConfig struct {
	Ingredients     string
	CookingMethod   string
	PrepTimeMinutes int
	Servings        int
	SkillLevel      string
	EnergySource    string
	Packaging       string
	Delivery        string
	MarketTier      string
	// CustomPrice, when positive, replaces the recommended price for the
	// margin calculation.
	CustomPrice decimal.Decimal
}

// IngredientCost is the cost of one ingredient line.
type IngredientCost struct {
	Name       string
	Key        string
	Grams      float64
	Cost       decimal.Decimal
	Recognized bool
	// Assumed is set when the quantity could not be read and the default
	// was used.
	Assumed bool
}

// CostComponent is one component of a price breakdown.
type CostComponent struct {
	Total  decimal.Decimal
	Detail string
}

// PriceBreakdown is the full cost structure of a dish.
type PriceBreakdown struct {
	Ingredients      CostComponent
	IngredientLines  []IngredientCost
	Packaging        CostComponent
	Energy           CostComponent
	Labor            CostComponent
	Delivery         CostComponent
	Subtotal         decimal.Decimal
	CommissionRate   decimal.Decimal
	Commission       decimal.Decimal
	TotalCost        decimal.Decimal
	RecommendedPrice decimal.Decimal
	FinalPrice       decimal.Decimal
	// ProfitMargin is a whole percentage of FinalPrice.
	ProfitMargin    decimal.Decimal
	Recommendations []string
	Unrecognized    []string
}

// ComputeFullPrice prices a dish from its ingredients and production
// options. It fails only on unknown option values.
func ComputeFullPrice(t *Tables, cfg DishConfig) (*PriceBreakdown, error) {
	applyDefaults(t, &cfg)

	tier, ok := t.MarketTiers[cfg.MarketTier]
	if !ok {
		return nil, &UnknownOptionError{Option: "market tier", Value: cfg.MarketTier}
	}
	skill, ok := t.SkillLevels[cfg.SkillLevel]
	if !ok {
		return nil, &UnknownOptionError{Option: "skill level", Value: cfg.SkillLevel}
	}
	source, ok := t.EnergySources[cfg.EnergySource]
	if !ok {
		return nil, &UnknownOptionError{Option: "energy source", Value: cfg.EnergySource}
	}
	pack, ok := t.Packaging[cfg.Packaging]
	if !ok {
		return nil, &UnknownOptionError{Option: "packaging", Value: cfg.Packaging}
	}
	delivery, ok := t.Delivery[cfg.Delivery]
	if !ok {
		return nil, &UnknownOptionError{Option: "delivery", Value: cfg.Delivery}
	}

	b := &PriceBreakdown{}
	var recs []string

	method, ok := t.cookingMethod(cfg.CookingMethod)
	if !ok {
		recs = append(recs, fmt.Sprintf("unknown cooking method %q, complexity 1.0 assumed", cfg.CookingMethod))
		method = CookingMethod{Complexity: 1}
	}

	lines, unrecognized := ingredientCosts(t, cfg.Ingredients)
	ingredients := decimal.Zero
	for _, l := range lines {
		ingredients = ingredients.Add(l.Cost)
		if l.Assumed {
			recs = append(recs, fmt.Sprintf("%s: unreadable quantity, %d g assumed", l.Name, defaultQuantityGrams))
		}
	}
	b.IngredientLines = lines
	b.Unrecognized = unrecognized
	b.Ingredients = CostComponent{
		Total:  ingredients.Round(2),
		Detail: fmt.Sprintf("%d ingredients", len(lines)),
	}

	hours := decimal.NewFromInt(int64(cfg.PrepTimeMinutes)).Div(sixty)
	energy := hours.
		Mul(decimal.NewFromFloat(source.CostPerHour)).
		Mul(decimal.NewFromFloat(method.Complexity)).
		Mul(decimal.NewFromFloat(source.Efficiency))
	b.Energy = CostComponent{
		Total:  energy.Round(2),
		Detail: fmt.Sprintf("%s, %d min", cfg.EnergySource, cfg.PrepTimeMinutes),
	}

	labor := hours.
		Mul(decimal.NewFromFloat(skill.HourlyRate)).
		Mul(decimal.NewFromFloat(skill.Complexity))
	b.Labor = CostComponent{
		Total:  labor.Round(2),
		Detail: fmt.Sprintf("%s, %d min", cfg.SkillLevel, cfg.PrepTimeMinutes),
	}

	b.Packaging = CostComponent{
		Total:  decimal.NewFromFloat(pack).Mul(decimal.NewFromInt(int64(cfg.Servings))).Round(2),
		Detail: fmt.Sprintf("%s x %d", cfg.Packaging, cfg.Servings),
	}
	b.Delivery = CostComponent{
		Total:  decimal.NewFromFloat(delivery).Round(2),
		Detail: cfg.Delivery,
	}

	b.Subtotal = decimal.Sum(b.Ingredients.Total, b.Packaging.Total, b.Energy.Total, b.Labor.Total, b.Delivery.Total)
	b.CommissionRate = decimal.NewFromFloat(tier.Commission)
	b.Commission = b.Subtotal.Mul(b.CommissionRate).Round(2)
	b.TotalCost = b.Subtotal.Add(b.Commission)

	if b.TotalCost.IsPositive() {
		b.RecommendedPrice = b.TotalCost.Div(decimal.NewFromInt(1).Sub(TargetMargin)).Round(0)
	}
	b.FinalPrice = b.RecommendedPrice
	if cfg.CustomPrice.IsPositive() {
		b.FinalPrice = cfg.CustomPrice
	}
	if b.FinalPrice.IsPositive() {
		b.ProfitMargin = b.FinalPrice.Sub(b.TotalCost).Div(b.FinalPrice).Mul(hundred).Round(0)
	}

	b.Recommendations = append(recs, recommendations(b)...)
	return b, nil
}

func applyDefaults(t *Tables, cfg *DishConfig) {
	def := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	def(&cfg.CookingMethod, t.Defaults.CookingMethod)
	def(&cfg.SkillLevel, t.Defaults.SkillLevel)
	def(&cfg.EnergySource, t.Defaults.EnergySource)
	def(&cfg.Packaging, t.Defaults.Packaging)
	def(&cfg.Delivery, t.Defaults.Delivery)
	def(&cfg.MarketTier, t.Defaults.MarketTier)
	if cfg.Servings < 1 {
		cfg.Servings = 1
	}
	if cfg.PrepTimeMinutes < 0 {
		cfg.PrepTimeMinutes = 0
	}
}

func recommendations(b *PriceBreakdown) []string {
	var out []string
	if b.FinalPrice.IsPositive() {
		switch {
		case b.ProfitMargin.LessThan(minHealthyMargin):
			out = append(out, fmt.Sprintf("profit margin %s%% is below %s%%, consider raising the price", b.ProfitMargin, minHealthyMargin))
		case b.ProfitMargin.GreaterThan(maxHealthyMargin):
			out = append(out, fmt.Sprintf("profit margin %s%% is above %s%%, the price may deter clients", b.ProfitMargin, maxHealthyMargin))
		}
	}
	if !b.Subtotal.IsPositive() {
		return out
	}

	components := []struct {
		name string
		c    CostComponent
	}{
		{"ingredients", b.Ingredients},
		{"packaging", b.Packaging},
		{"energy", b.Energy},
		{"labor", b.Labor},
		{"delivery", b.Delivery},
	}
	for _, c := range components {
		share := c.c.Total.Div(b.Subtotal)
		if share.GreaterThan(dominantShare) {
			out = append(out, fmt.Sprintf("%s make up %s%% of costs", c.name, share.Mul(hundred).Round(0)))
		}
	}
	if len(b.Unrecognized) > 0 {
		out = append(out, fmt.Sprintf("no cost data for %d ingredients, the estimate is low", len(b.Unrecognized)))
	}
	return out
}

// ingredientCosts prices each parsed ingredient from the cost table using
// substring matching only.
func ingredientCosts(t *Tables, text string) ([]IngredientCost, []string) {
	parsed := ParseIngredientList(t, text)
	lines := make([]IngredientCost, 0, len(parsed))
	var unrecognized []string
	for _, p := range parsed {
		l := IngredientCost{
			Name:    p.Name,
			Grams:   t.grams(p.Quantity, p.Unit),
			Assumed: p.Source == QuantityInvalid,
		}
		key, ok := costKey(t, p.Name)
		if ok {
			l.Key = key
			l.Recognized = true
			l.Cost = decimal.NewFromFloat(t.Costs[key]).
				Mul(decimal.NewFromFloat(l.Grams)).
				Div(hundred)
		} else {
			unrecognized = append(unrecognized, p.Name)
		}
		lines = append(lines, l)
	}
	return lines, unrecognized
}

func costKey(t *Tables, name string) (string, bool) {
	if _, ok := t.Costs[name]; ok {
		return name, true
	}
	for _, k := range t.costKeys {
		if containsPhrase(name, k) {
			return k, true
		}
	}
	// Shortest key first so "рис" beats longer keys containing the word.
	for i := len(t.costKeys) - 1; i >= 0; i-- {
		if containsPhrase(t.costKeys[i], name) {
			return t.costKeys[i], true
		}
	}
	return "", false
}

// SuggestRequest is the input of a quick price suggestion.
type SuggestRequest struct {
	Ingredients   string
	CookingMethod string
	Category      string
	MarketTier    string
}

// PriceSuggestion is a quick price range derived from ingredient cost.
type PriceSuggestion struct {
	IngredientCost decimal.Decimal
	Complexity     float64
	Seasonal       float64
	Market         float64
	Base           decimal.Decimal
	Minimum        decimal.Decimal
	Recommended    decimal.Decimal
	Premium        decimal.Decimal
	Maximum        decimal.Decimal
	Unrecognized   []string
}

// SuggestPrice derives a price range as ingredient cost times cooking
// complexity, category seasonality and market multiplier. Unknown cooking
// methods and categories count as 1.0.
func SuggestPrice(t *Tables, req SuggestRequest) (*PriceSuggestion, error) {
	if req.MarketTier == "" {
		req.MarketTier = t.Defaults.MarketTier
	}
	tier, ok := t.MarketTiers[req.MarketTier]
	if !ok {
		return nil, &UnknownOptionError{Option: "market tier", Value: req.MarketTier}
	}

	s := &PriceSuggestion{Complexity: 1, Seasonal: 1, Market: tier.Multiplier}
	if m, ok := t.cookingMethod(req.CookingMethod); ok {
		s.Complexity = m.Complexity
	}
	if k, ok := t.DishCategories[normalizeText(req.Category)]; ok {
		s.Seasonal = k
	}

	lines, unrecognized := ingredientCosts(t, req.Ingredients)
	cost := decimal.Zero
	for _, l := range lines {
		cost = cost.Add(l.Cost)
	}
	s.IngredientCost = cost.Round(2)
	s.Unrecognized = unrecognized

	base := cost.
		Mul(decimal.NewFromFloat(s.Complexity)).
		Mul(decimal.NewFromFloat(s.Seasonal)).
		Mul(decimal.NewFromFloat(s.Market))
	s.Base = base.Round(0)
	s.Recommended = s.Base
	s.Minimum = base.Mul(suggestLo).Round(0)
	s.Premium = base.Mul(suggestHi).Round(0)
	s.Maximum = base.Mul(suggestX).Round(0)
	return s, nil
}

// Price computes a full price breakdown with the current tables.
func (e *Estimator) Price(_ context.Context, cfg DishConfig) (*PriceBreakdown, error) {
	return ComputeFullPrice(e.tables.Load(), cfg)
}

// Suggest computes a price suggestion with the current tables.
func (e *Estimator) Suggest(_ context.Context, req SuggestRequest) (*PriceSuggestion, error) {
	return SuggestPrice(e.tables.Load(), req)
}

// Options lists the accepted values of each pricing option.
func (e *Estimator) Options() map[string][]string {
	t := e.tables.Load()
	return map[string][]string{
		"cookingMethod": sortedKeys(t.CookingMethods),
		"skillLevel":    sortedKeys(t.SkillLevels),
		"energySource":  sortedKeys(t.EnergySources),
		"packaging":     sortedKeys(t.Packaging),
		"delivery":      sortedKeys(t.Delivery),
		"marketTier":    sortedKeys(t.MarketTiers),
		"category":      sortedKeys(t.DishCategories),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
