package handler

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/homechef/internal/estimate"
)

// EstimateNutrition parses a free-text ingredient list and returns its
// nutrition totals.
func (h *Handler) EstimateNutrition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var text, method string
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "ingredients":
			text, err = d.Str()
		case "cookingMethod":
			method, err = optString(d)
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		writeError(ctx, w, errBadBody)
		return
	}

	est := h.estimates.Nutrition(ctx, text, method)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("ingredients")
		e.ArrStart()
		for _, in := range est.Ingredients {
			e.ObjStart()
			e.FieldStart("name")
			e.Str(in.Name)
			e.FieldStart("grams")
			e.Float64(in.Grams)
			e.FieldStart("method")
			e.Str(in.Method)
			e.FieldStart("key")
			e.Str(in.Key)
			e.FieldStart("source")
			e.Str(string(in.Source))
			e.FieldStart("nutrients")
			encodeNutrients(e, in.Nutrients)
			e.FieldStart("confidence")
			e.Float64(in.Confidence)
			e.FieldStart("recognized")
			e.Bool(in.Recognized)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.FieldStart("totals")
		encodeNutrients(e, est.Totals)
		e.FieldStart("confidence")
		e.Float64(est.Confidence)
		e.FieldStart("unrecognized")
		encodeStrings(e, est.Unrecognized)
		e.FieldStart("warnings")
		encodeStrings(e, est.Warnings)
		e.ObjEnd()
	})
}

// EstimatePrice computes the full cost breakdown of a dish.
func (h *Handler) EstimatePrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	cfg, err := decodeDishConfig(d)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	b, err := h.estimates.Price(ctx, cfg)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("ingredients")
		encodeComponent(e, b.Ingredients)
		e.FieldStart("ingredientLines")
		e.ArrStart()
		for _, l := range b.IngredientLines {
			e.ObjStart()
			e.FieldStart("name")
			e.Str(l.Name)
			e.FieldStart("key")
			e.Str(l.Key)
			e.FieldStart("grams")
			e.Float64(l.Grams)
			e.FieldStart("cost")
			encodeMoney(e, l.Cost)
			e.FieldStart("recognized")
			e.Bool(l.Recognized)
			e.ObjEnd()
		}
		e.ArrEnd()
		e.FieldStart("packaging")
		encodeComponent(e, b.Packaging)
		e.FieldStart("energy")
		encodeComponent(e, b.Energy)
		e.FieldStart("labor")
		encodeComponent(e, b.Labor)
		e.FieldStart("delivery")
		encodeComponent(e, b.Delivery)
		e.FieldStart("subtotal")
		encodeMoney(e, b.Subtotal)
		e.FieldStart("commissionRate")
		e.Raw([]byte(b.CommissionRate.String()))
		e.FieldStart("commission")
		encodeMoney(e, b.Commission)
		e.FieldStart("totalCost")
		encodeMoney(e, b.TotalCost)
		e.FieldStart("recommendedPrice")
		encodeMoney(e, b.RecommendedPrice)
		e.FieldStart("finalPrice")
		encodeMoney(e, b.FinalPrice)
		e.FieldStart("profitMargin")
		e.Raw([]byte(b.ProfitMargin.String()))
		e.FieldStart("recommendations")
		encodeStrings(e, b.Recommendations)
		e.FieldStart("unrecognized")
		encodeStrings(e, b.Unrecognized)
		e.ObjEnd()
	})
}

// SuggestPrice returns a price range for a dish from its ingredient cost.
func (h *Handler) SuggestPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var req estimate.SuggestRequest
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "ingredients":
			req.Ingredients, err = d.Str()
		case "cookingMethod":
			req.CookingMethod, err = optString(d)
		case "category":
			req.Category, err = optString(d)
		case "marketTier":
			req.MarketTier, err = optString(d)
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		writeError(ctx, w, errBadBody)
		return
	}

	s, err := h.estimates.Suggest(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("ingredientCost")
		encodeMoney(e, s.IngredientCost)
		e.FieldStart("complexity")
		e.Float64(s.Complexity)
		e.FieldStart("seasonal")
		e.Float64(s.Seasonal)
		e.FieldStart("market")
		e.Float64(s.Market)
		e.FieldStart("base")
		encodeMoney(e, s.Base)
		e.FieldStart("minimum")
		encodeMoney(e, s.Minimum)
		e.FieldStart("recommended")
		encodeMoney(e, s.Recommended)
		e.FieldStart("premium")
		encodeMoney(e, s.Premium)
		e.FieldStart("maximum")
		encodeMoney(e, s.Maximum)
		e.FieldStart("unrecognized")
		encodeStrings(e, s.Unrecognized)
		e.ObjEnd()
	})
}

// EstimateOptions lists the accepted pricing option values.
func (h *Handler) EstimateOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeStringMap(e, h.estimates.Options()) })
}

// EstimateDiagnostics lists unrecognized ingredient names with the closest
// reference keys.
func (h *Handler) EstimateDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeStringMap(e, h.estimates.Diagnostics()) })
}

// TeachCorrection stores a user mapping from an ingredient name to a
// reference key.
func (h *Handler) TeachCorrection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var (
		raw, key string
		version  int64
	)
	if err := d.ObjBytes(func(d *jx.Decoder, k []byte) error {
		var err error
		switch string(k) {
		case "raw":
			raw, err = d.Str()
		case "key":
			key, err = d.Str()
		case "version":
			if d.Next() == jx.Null {
				return d.Null()
			}
			version, err = d.Int64()
		default:
			return d.Skip()
		}
		return err
	}); err != nil {
		writeError(ctx, w, errBadBody)
		return
	}

	c, err := h.estimates.Teach(ctx, raw, key, version)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("raw")
		e.Str(c.Raw)
		e.FieldStart("key")
		e.Str(c.Key)
		e.FieldStart("version")
		e.Int64(c.Version)
		e.FieldStart("updatedAt")
		e.Str(c.UpdatedAt.UTC().Format(time.RFC3339))
		e.ObjEnd()
	})
}

func decodeDishConfig(d *jx.Decoder) (estimate.DishConfig, error) {
	var cfg estimate.DishConfig
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "ingredients":
			cfg.Ingredients, err = d.Str()
		case "cookingMethod":
			cfg.CookingMethod, err = optString(d)
		case "prepTimeMinutes":
			cfg.PrepTimeMinutes, err = d.Int()
		case "servings":
			cfg.Servings, err = d.Int()
		case "skillLevel":
			cfg.SkillLevel, err = optString(d)
		case "energySource":
			cfg.EnergySource, err = optString(d)
		case "packaging":
			cfg.Packaging, err = optString(d)
		case "delivery":
			cfg.Delivery, err = optString(d)
		case "marketTier":
			cfg.MarketTier, err = optString(d)
		case "customPrice":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var n jx.Num
			if n, err = d.Num(); err != nil {
				return err
			}
			cfg.CustomPrice, err = decimal.NewFromString(n.String())
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return cfg, errors.Wrap(errBadBody, err.Error())
	}
	return cfg, nil
}

func encodeNutrients(e *jx.Encoder, n estimate.Nutrients) {
	e.ObjStart()
	e.FieldStart("kcal")
	e.Float64(n.Calories)
	e.FieldStart("protein")
	e.Float64(n.Protein)
	e.FieldStart("fat")
	e.Float64(n.Fat)
	e.FieldStart("carbs")
	e.Float64(n.Carbs)
	e.ObjEnd()
}

func encodeComponent(e *jx.Encoder, c estimate.CostComponent) {
	e.ObjStart()
	e.FieldStart("total")
	encodeMoney(e, c.Total)
	e.FieldStart("detail")
	e.Str(c.Detail)
	e.ObjEnd()
}

// encodeStrings writes ss as an array, never null.
func encodeStrings(e *jx.Encoder, ss []string) {
	e.ArrStart()
	for _, s := range ss {
		e.Str(s)
	}
	e.ArrEnd()
}

func encodeStringMap(e *jx.Encoder, m map[string][]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.ObjStart()
	for _, k := range keys {
		e.FieldStart(k)
		encodeStrings(e, m[k])
	}
	e.ObjEnd()
}
