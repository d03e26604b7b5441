package estimate

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Resolution confidences.
const (
	confidenceLearned      = 95
	confidenceExtended     = 95
	confidenceExact        = 90
	confidencePartial      = 70
	patternPartialFactor   = 0.8
	confidenceUnrecognized = 60

	stemLen = 5
)

// MatchSource tells which resolution step produced a match.
type MatchSource string

const (
	SourceLearned    MatchSource = "learned"
	SourceExtended   MatchSource = "extended"
	SourcePattern    MatchSource = "pattern"
	SourceDictionary MatchSource = "dictionary"
)

// Match is a resolved reference record for an ingredient name.
type Match struct {
	Key        string
	Nutrients  Nutrients
	Source     MatchSource
	Confidence float64
}

// Resolver maps ingredient names to nutrition records. Successful lookups
// are remembered in the learning store; misses are kept for diagnostics.
type Resolver struct {
	tables *TableStore
	learn  LearningStore

	mu     sync.Mutex
	gen    *Tables
	cache  map[string]Match
	misses map[string][]string
}

// NewResolver returns a Resolver over the given tables and learning store.
func NewResolver(tables *TableStore, learn LearningStore) *Resolver {
	return &Resolver{
		tables: tables,
		learn:  learn,
		cache:  make(map[string]Match),
		misses: make(map[string][]string),
	}
}

// Resolve returns the reference record for name. The first step that
// matches wins: learned corrections, extended database, category patterns,
// base dictionary.
func (r *Resolver) Resolve(ctx context.Context, name string) (Match, bool) {
	t := r.tables.Load()
	lg := zctx.From(ctx)

	if c, ok, err := r.learn.Get(ctx, name); err != nil {
		lg.Warn("Learning store lookup failed", zap.String("ingredient", name), zap.Error(err))
	} else if ok {
		if n, found := t.Lookup(c.Key); found {
			return Match{Key: c.Key, Nutrients: n, Source: SourceLearned, Confidence: confidenceLearned}, true
		}
	}

	if m, ok := r.cached(t, name); ok {
		return m, true
	}

	m, ok := matchExtended(t, name)
	if !ok {
		m, ok = matchPattern(t, name)
	}
	if !ok {
		m, ok = matchDictionary(t, name)
	}
	if !ok {
		r.recordMiss(name, candidates(t, name))
		return Match{}, false
	}

	r.store(t, name, m)
	if _, err := r.learn.Put(ctx, Correction{Raw: name, Key: m.Key}); err != nil {
		lg.Warn("Learning store update failed", zap.String("ingredient", name), zap.Error(err))
	}
	return m, true
}

// Forget drops the cached resolution of name.
func (r *Resolver) Forget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, name)
}

// Misses returns the unrecognized names seen so far with the table keys
// closest to each.
func (r *Resolver) Misses() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.misses))
	for k, v := range r.misses {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func (r *Resolver) cached(t *Tables, name string) (Match, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != t {
		r.gen = t
		clear(r.cache)
		return Match{}, false
	}
	m, ok := r.cache[name]
	return m, ok
}

func (r *Resolver) store(t *Tables, name string, m Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen == t {
		r.cache[name] = m
	}
}

func (r *Resolver) recordMiss(name string, tried []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses[name] = tried
}

func matchExtended(t *Tables, name string) (Match, bool) {
	if n, ok := t.Extended[name]; ok {
		return Match{Key: name, Nutrients: n, Source: SourceExtended, Confidence: confidenceExtended}, true
	}
	for _, key := range t.extendedKeys {
		if containsPhrase(name, key) {
			return Match{Key: key, Nutrients: t.Extended[key], Source: SourceExtended, Confidence: confidenceExtended}, true
		}
	}
	return Match{}, false
}

func matchPattern(t *Tables, name string) (Match, bool) {
	for _, cname := range t.categoryNames {
		c := t.Categories[cname]
		if !containsAny(name, c.Keywords) {
			continue
		}
		loc := c.re.FindStringSubmatchIndex(name)
		if loc == nil || len(loc) < 4 || loc[2] < 0 {
			continue
		}
		key, ok := c.Canonical[name[loc[2]:loc[3]]]
		if !ok {
			continue
		}
		n, ok := t.Nutrition[key]
		if !ok {
			continue
		}
		conf := c.Weight * 100
		if name[loc[0]:loc[1]] != key {
			conf *= patternPartialFactor
		}
		return Match{Key: key, Nutrients: n, Source: SourcePattern, Confidence: conf}, true
	}
	return Match{}, false
}

func matchDictionary(t *Tables, name string) (Match, bool) {
	if n, ok := t.Nutrition[name]; ok {
		return Match{Key: name, Nutrients: n, Source: SourceDictionary, Confidence: confidenceExact}, true
	}
	for _, key := range t.nutritionKeys {
		if containsPhrase(name, key) || sameStem(name, key) {
			return Match{Key: key, Nutrients: t.Nutrition[key], Source: SourceDictionary, Confidence: confidencePartial}, true
		}
	}
	return Match{}, false
}

// containsPhrase reports whether the words of key appear consecutively in
// name.
func containsPhrase(name, key string) bool {
	return strings.Contains(" "+name+" ", " "+key+" ")
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// sameStem reports whether any word of name shares a stem with any word of
// key. Words shorter than four letters never match by stem.
func sameStem(name, key string) bool {
	for _, nw := range strings.Fields(name) {
		for _, kw := range strings.Fields(key) {
			if stemOf(nw) != "" && stemOf(nw) == stemOf(kw) {
				return true
			}
		}
	}
	return false
}

func stemOf(w string) string {
	rs := []rune(w)
	if len(rs) < 4 {
		return ""
	}
	if len(rs) > stemLen {
		return string(rs[:stemLen])
	}
	// Short words compare on all but the last letter to ignore endings.
	return string(rs[:len(rs)-1])
}

// candidates lists table keys sharing the first two letters with a word of
// name, for miss diagnostics.
func candidates(t *Tables, name string) []string {
	prefixes := make(map[string]struct{})
	for _, w := range strings.Fields(name) {
		if rs := []rune(w); len(rs) >= 2 {
			prefixes[string(rs[:2])] = struct{}{}
		}
	}
	var out []string
	for _, keys := range [][]string{t.extendedKeys, t.nutritionKeys} {
		for _, k := range keys {
			rs := []rune(k)
			if len(rs) < 2 {
				continue
			}
			if _, ok := prefixes[string(rs[:2])]; ok {
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}
