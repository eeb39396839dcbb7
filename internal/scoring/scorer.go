// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package scoring combines a match's confidence with its source's trust
// score into a single rank value and orders results by it.
package scoring

import (
	"cmp"
	"math"
	"slices"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// Method selects how the two signals are combined.
type Method string

const (
	// MethodProduct ranks by confidence^wc * trust^wt.
	MethodProduct Method = "product"
	// MethodSum ranks by (wc*confidence + wt*trust) / (wc + wt).
	MethodSum Method = "sum"
)

// Weights configure a Scorer. Both weights must be non-negative and at
// least one must be positive.
type Weights struct {
	Method     Method
	Confidence float64
	Trust      float64
}

// DefaultWeights weighs both signals equally in a product.
var DefaultWeights = Weights{Method: MethodProduct, Confidence: 1, Trust: 1}

// Scorer is a pure function of (confidence, trust). It is safe for
// concurrent use.
type Scorer struct {
	w Weights
}

// New validates w and returns a Scorer.
func New(w Weights) (*Scorer, error) {
	if w.Method == "" {
		w.Method = MethodProduct
	}
	if w.Method != MethodProduct && w.Method != MethodSum {
		return nil, sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "scoring method must be product or sum, got %q", w.Method)
	}
	if w.Confidence < 0 || w.Trust < 0 || math.IsNaN(w.Confidence) || math.IsNaN(w.Trust) {
		return nil, sorcerr.Errorf(sorcerr.CodeConfigValidateInvalidValue, "scoring weights must be non-negative, got confidence=%g trust=%g", w.Confidence, w.Trust)
	}
	if w.Confidence == 0 && w.Trust == 0 {
		return nil, sorcerr.New(sorcerr.CodeConfigValidateInvalidValue, "scoring weights must not both be zero")
	}
	return &Scorer{w: w}, nil
}

// Default returns a Scorer using DefaultWeights.
func Default() *Scorer {
	return &Scorer{w: DefaultWeights}
}

// Weights returns the scorer's configuration.
func (s *Scorer) Weights() Weights { return s.w }

// Rank combines confidence and trust. Inputs are clamped to [0, 1]; NaN is
// treated as 0. Rank never decreases when either input increases.
func (s *Scorer) Rank(confidence, trust float32) float32 {
	c := Clamp(float64(confidence))
	t := Clamp(float64(trust))

	switch s.w.Method {
	case MethodSum:
		return float32((s.w.Confidence*c + s.w.Trust*t) / (s.w.Confidence + s.w.Trust))
	default:
		return float32(math.Pow(c, s.w.Confidence) * math.Pow(t, s.w.Trust))
	}
}

// Clamp bounds v to [0, 1], mapping NaN to 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Compare orders two ranked items: higher rank first, ties broken by id in
// ascending lexical order.
func Compare(rankA float32, idA string, rankB float32, idB string) int {
	if c := cmp.Compare(rankB, rankA); c != 0 {
		return c
	}
	return cmp.Compare(idA, idB)
}

// Sort orders items in place by the scorer's rank of key(item), using
// Compare for a total, deterministic order.
func Sort[T any](s *Scorer, items []T, key func(T) (id string, confidence, trust float32)) {
	type ranked struct {
		item T
		id   string
		rank float32
	}
	tmp := make([]ranked, len(items))
	for i, it := range items {
		id, c, t := key(it)
		tmp[i] = ranked{item: it, id: id, rank: s.Rank(c, t)}
	}
	slices.SortStableFunc(tmp, func(a, b ranked) int {
		return Compare(a.rank, a.id, b.rank, b.id)
	})
	for i := range tmp {
		items[i] = tmp[i].item
	}
}
