// Package estimate implements the ingredient based nutrition and price
// estimator. All computations are deterministic arithmetic over reference
// tables; unrecognized input lowers confidence and adds warnings instead of
// failing.
package estimate

import (
	_ "embed"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

//go:embed refdata.yaml
var defaultRefData []byte

// Nutrients holds macro values, per 100 g in reference tables and absolute
// in estimates.
type Nutrients struct {
	Calories float64 `yaml:"kcal"`
	Protein  float64 `yaml:"protein"`
	Fat      float64 `yaml:"fat"`
	Carbs    float64 `yaml:"carbs"`
}

func (n Nutrients) scale(k float64) Nutrients {
	return Nutrients{
		Calories: n.Calories * k,
		Protein:  n.Protein * k,
		Fat:      n.Fat * k,
		Carbs:    n.Carbs * k,
	}
}

func (n Nutrients) add(o Nutrients) Nutrients {
	return Nutrients{
		Calories: n.Calories + o.Calories,
		Protein:  n.Protein + o.Protein,
		Fat:      n.Fat + o.Fat,
		Carbs:    n.Carbs + o.Carbs,
	}
}

// CookingMethod describes how a cooking technique affects calories and cost.
type CookingMethod struct {
	Calories   float64  `yaml:"calories"`
	Complexity float64  `yaml:"complexity"`
	Keywords   []string `yaml:"keywords"`
}

// Category drives the keyword pattern matcher.
type Category struct {
	Weight    float64           `yaml:"weight"`
	Keywords  []string          `yaml:"keywords"`
	Pattern   string            `yaml:"pattern"`
	Canonical map[string]string `yaml:"canonical"`

	re *regexp.Regexp
}

// MarketTier is a market segment with its price multiplier and platform
// commission rate.
type MarketTier struct {
	Multiplier float64 `yaml:"multiplier"`
	Commission float64 `yaml:"commission"`
}

// SkillLevel is a chef qualification level.
type SkillLevel struct {
	HourlyRate float64 `yaml:"hourly_rate"`
	Complexity float64 `yaml:"complexity"`
}

// EnergySource is a kitchen energy source.
type EnergySource struct {
	CostPerHour float64 `yaml:"cost_per_hour"`
	Efficiency  float64 `yaml:"efficiency"`
}

// Defaults are the option values used when a request leaves one empty.
type Defaults struct {
	CookingMethod string `yaml:"cooking_method"`
	SkillLevel    string `yaml:"skill_level"`
	EnergySource  string `yaml:"energy_source"`
	Packaging     string `yaml:"packaging"`
	Delivery      string `yaml:"delivery"`
	MarketTier    string `yaml:"market_tier"`
}

// Tables is an immutable snapshot of the estimator reference data.
type Tables struct {
	Nutrition       map[string]Nutrients     `yaml:"nutrition"`
	Extended        map[string]Nutrients     `yaml:"extended"`
	Costs           map[string]float64       `yaml:"costs"`
	Units           map[string]float64       `yaml:"units"`
	QuantityPhrases map[string]float64       `yaml:"quantity_phrases"`
	Fillers         []string                 `yaml:"fillers"`
	CookingMethods  map[string]CookingMethod `yaml:"cooking_methods"`
	Categories      map[string]*Category     `yaml:"categories"`
	DishCategories  map[string]float64       `yaml:"dish_categories"`
	MarketTiers     map[string]MarketTier    `yaml:"market_tiers"`
	SkillLevels     map[string]SkillLevel    `yaml:"skill_levels"`
	EnergySources   map[string]EnergySource  `yaml:"energy_sources"`
	Packaging       map[string]float64       `yaml:"packaging"`
	Delivery        map[string]float64       `yaml:"delivery"`
	Defaults        Defaults                 `yaml:"defaults"`

	fillers         map[string]struct{}
	phraseKeys      []string
	categoryNames   []string
	methodNames     []string
	nutritionKeys   []string
	extendedKeys    []string
	costKeys        []string
	methodByKeyword map[string]string
}

// ParseTables decodes and indexes reference tables from YAML.
func ParseTables(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "decode tables")
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	return &t, nil
}

// DefaultTables returns the embedded reference tables.
func DefaultTables() *Tables {
	t, err := ParseTables(defaultRefData)
	if err != nil {
		panic(errors.Wrap(err, "embedded refdata"))
	}
	return t
}

// LoadTables reads reference tables from a YAML file.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read tables")
	}
	return ParseTables(data)
}

func (t *Tables) index() error {
	if len(t.Nutrition) == 0 {
		return errors.New("nutrition table is empty")
	}
	if _, ok := t.CookingMethods[t.Defaults.CookingMethod]; !ok {
		return errors.Errorf("default cooking method %q is not defined", t.Defaults.CookingMethod)
	}

	t.fillers = make(map[string]struct{}, len(t.Fillers))
	for _, f := range t.Fillers {
		t.fillers[f] = struct{}{}
	}

	t.methodByKeyword = make(map[string]string)
	for name, m := range t.CookingMethods {
		t.methodNames = append(t.methodNames, name)
		for _, kw := range m.Keywords {
			t.methodByKeyword[kw] = name
		}
	}
	sort.Strings(t.methodNames)

	for name, c := range t.Categories {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return errors.Wrapf(err, "category %s pattern", name)
		}
		c.re = re
		t.categoryNames = append(t.categoryNames, name)
	}
	sort.Strings(t.categoryNames)

	t.phraseKeys = longestFirst(t.QuantityPhrases)
	t.nutritionKeys = longestFirst(t.Nutrition)
	t.extendedKeys = longestFirst(t.Extended)
	t.costKeys = longestFirst(t.Costs)
	return nil
}

// Lookup returns the nutrition record stored under key in the extended or
// base table.
func (t *Tables) Lookup(key string) (Nutrients, bool) {
	if n, ok := t.Extended[key]; ok {
		return n, true
	}
	n, ok := t.Nutrition[key]
	return n, ok
}

// grams converts qty of unit to grams. Unknown units are taken as grams.
func (t *Tables) grams(qty float64, unit string) float64 {
	if k, ok := t.Units[unit]; ok {
		return qty * k
	}
	return qty
}

func (t *Tables) cookingMethod(name string) (CookingMethod, bool) {
	m, ok := t.CookingMethods[strings.TrimSpace(name)]
	return m, ok
}

// longestFirst returns the map keys ordered by descending rune length, then
// alphabetically.
func longestFirst[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := len([]rune(keys[i])), len([]rune(keys[j]))
		if li != lj {
			return li > lj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// TableStore holds the current reference tables and allows swapping them at
// runtime.
type TableStore struct {
	cur atomic.Pointer[Tables]
}

// NewTableStore returns a store serving t.
func NewTableStore(t *Tables) *TableStore {
	s := &TableStore{}
	s.cur.Store(t)
	return s
}

// Load returns the current tables.
func (s *TableStore) Load() *Tables {
	return s.cur.Load()
}

// Swap replaces the current tables.
func (s *TableStore) Swap(t *Tables) {
	s.cur.Store(t)
}
