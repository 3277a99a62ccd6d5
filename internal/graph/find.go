package graph

import (
	"slices"

	"github.com/starford/assetgraph/internal/query"
)

// FindAssets returns the assets matching q in discovery order. A nil or
// empty query matches every asset.
func (g *Graph) FindAssets(q query.Query) ([]*Asset, error) {
	if err := query.Validate(q); err != nil {
		return nil, err
	}
	candidates := g.assets
	if m, ok := q["url"]; ok {
		if urls, ok := query.Literals(m); ok {
			candidates = nil
			for _, u := range urls {
				if a, ok := g.assetsByURL[u]; ok {
					candidates = append(candidates, a)
				}
			}
			sortAssets(candidates)
		}
	} else if m, ok := q["type"]; ok {
		if types, ok := query.Literals(m); ok {
			candidates = mergeBuckets(g.assetsByType, types, func(a *Asset) uint64 { return a.seq })
		}
	}
	var out []*Asset
	for _, a := range candidates {
		if query.Match(q, a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// FindRelations returns the relations matching q. Results are in
// discovery order, except that a query on a single "from" asset returns
// that asset's relations in attachment order.
func (g *Graph) FindRelations(q query.Query) ([]*Relation, error) {
	if err := query.Validate(q); err != nil {
		return nil, err
	}
	candidates := g.relations
	if m, ok := q["type"]; ok {
		if types, ok := query.Literals(m); ok {
			candidates = mergeBuckets(g.relationsByType, types, func(r *Relation) uint64 { return r.seq })
		}
	}
	if a, ok := q["from"].(*Asset); ok {
		if out := g.outgoing[a]; len(out) <= len(candidates) {
			candidates = out
		}
	} else if a, ok := q["to"].(*Asset); ok {
		if in := g.incoming[a]; len(in) <= len(candidates) {
			candidates = append([]*Relation(nil), in...)
			sortRelations(candidates)
		}
	}
	var out []*Relation
	for _, r := range candidates {
		if query.Match(q, r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// mergeBuckets collects the entities of the named buckets in sequence order.
func mergeBuckets[T any](buckets map[string][]T, names []string, seq func(T) uint64) []T {
	if len(names) == 1 {
		return buckets[names[0]]
	}
	var out []T
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, buckets[n]...)
	}
	slices.SortFunc(out, func(a, b T) int {
		return cmpSeq(seq(a), seq(b))
	})
	return out
}

func sortAssets(s []*Asset) {
	slices.SortFunc(s, func(a, b *Asset) int { return cmpSeq(a.seq, b.seq) })
}

func sortRelations(s []*Relation) {
	slices.SortFunc(s, func(a, b *Relation) int { return cmpSeq(a.seq, b.seq) })
}

func cmpSeq(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
