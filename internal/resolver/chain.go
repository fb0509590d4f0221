package resolver

import (
	"testmend/internal/graph"
	"testmend/internal/index"
)

type ResolveStats struct {
	Attempted int
	Resolved  int
	Skipped   int
}

type GraphResolver interface {
	Name() string
	Resolve(g *graph.Graph) (ResolveStats, error)
}

type StageResult struct {
	Resolver         string
	Stats            ResolveStats
	UnresolvedBefore int
	UnresolvedAfter  int
	EdgeCount        int
	Err              error
}

type Chain struct {
	resolvers []GraphResolver
}

func NewChain(resolvers ...GraphResolver) *Chain {
	return &Chain{resolvers: resolvers}
}

// NewDefaultChain resolves name references to symbol edges, then maps
// import statements to file-level edges.
func NewDefaultChain(idx *index.SymbolIndex, root string) *Chain {
	return NewChain(NewNameResolver(), NewImportResolver(idx, root))
}

func (c *Chain) Run(g *graph.Graph) []StageResult {
	if g == nil {
		return nil
	}

	var out []StageResult
	for _, r := range c.resolvers {
		before := len(g.Unresolved)
		stats, err := r.Resolve(g)
		after := len(g.Unresolved)
		out = append(out, StageResult{
			Resolver:         r.Name(),
			Stats:            stats,
			UnresolvedBefore: before,
			UnresolvedAfter:  after,
			EdgeCount:        len(g.Edges),
			Err:              err,
		})
		if err != nil {
			break
		}
	}
	return out
}

// NameResolver turns identifier references into symbol edges via the
// graph's name index.
type NameResolver struct{}

func NewNameResolver() *NameResolver {
	return &NameResolver{}
}

func (r *NameResolver) Name() string {
	return "name"
}

func (r *NameResolver) Resolve(g *graph.Graph) (ResolveStats, error) {
	if g == nil {
		return ResolveStats{}, nil
	}

	var stats ResolveStats
	var remaining []graph.Reference

	for _, ref := range g.Unresolved {
		stats.Attempted++

		ids := g.NodesNamed(ref.Target)
		if len(ids) == 0 {
			ref.Reason = graph.ReasonNoCandidate
			remaining = append(remaining, ref)
			stats.Skipped++
			continue
		}

		resolved := false
		for _, id := range ids {
			if id == ref.FromID {
				continue
			}
			g.AddEdge(ref.FromID, id, graph.KindReferences)
			resolved = true
		}
		if resolved {
			stats.Resolved++
		} else {
			ref.Reason = graph.ReasonSelf
			remaining = append(remaining, ref)
			stats.Skipped++
		}
	}

	g.Unresolved = remaining
	return stats, nil
}
