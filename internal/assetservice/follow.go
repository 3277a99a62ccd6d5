package assetservice

import (
	"slices"

	"github.com/starford/assetgraph/internal/graph"
	"github.com/starford/assetgraph/internal/urlutil"
)

// FollowPolicy returns a follow predicate for Populate that loads targets
// whose scheme is listed. Cross-origin targets are followed only when
// crossorigin is set.
func FollowPolicy(schemes []string, crossorigin bool) func(*graph.Relation) bool {
	return func(r *graph.Relation) bool {
		to := r.To()
		if to == nil || !slices.Contains(schemes, urlutil.Scheme(to.URL())) {
			return false
		}
		return crossorigin || !r.Crossorigin()
	}
}
