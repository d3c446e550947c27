// Package depgraph derives effective statuses by walking depends_on edges.
//
// An entity's effective status is its own status capped by the worst
// effective status among its parents, computed transitively. Missing
// parents are ignored. Edges that lead back into the path being resolved
// are skipped and reported as a cycle instead of recursing forever, and
// every node on a cycle keeps its own status uncapped.
package depgraph

import "starbridge/internal/status"

// Node is the slice of an entity the resolver needs.
type Node struct {
	ID        string
	Name      string
	Status    status.Status
	DependsOn []string
}

// Lookup fetches a node. ok is false when the id does not exist.
type Lookup func(id string) (n Node, ok bool, err error)

// Children lists the ids that directly depend on id.
type Children func(id string) ([]string, error)

// Parent identifies the direct parent capping an entity.
type Parent struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Status status.Status `json:"status"`
}

// Resolution is the derived state of one node.
type Resolution struct {
	Status         status.Status
	LimitingParent *Parent
	// Cycle is the first dependency cycle met while resolving, as a path
	// of ids ending where it started. Nil when the walk was acyclic.
	Cycle []string
}

// Resolver resolves nodes against a fixed snapshot. Results for acyclic
// subgraphs are memoized, so a Resolver must not outlive the data it reads.
type Resolver struct {
	lookup Lookup
	memo   map[string]Resolution
	stack  []string
	cyclic map[string]bool
}

// New returns a resolver reading through lookup.
func New(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup, memo: map[string]Resolution{}, cyclic: map[string]bool{}}
}

// Resolve returns the effective status and limiting parent of n.
func (r *Resolver) Resolve(n Node) (Resolution, error) {
	r.stack = r.stack[:0]
	res, _, err := r.resolve(n)
	return res, err
}

func (r *Resolver) onStack(id string) int {
	for i, v := range r.stack {
		if v == id {
			return i
		}
	}
	return -1
}

// resolve reports clean=false when a cycle was cut somewhere below n, in
// which case the result depends on the entry point and is not memoized.
func (r *Resolver) resolve(n Node) (Resolution, bool, error) {
	if res, ok := r.memo[n.ID]; ok {
		return res, true, nil
	}
	r.stack = append(r.stack, n.ID)
	defer func() { r.stack = r.stack[:len(r.stack)-1] }()

	res := Resolution{Status: n.Status}
	clean := true
	for _, pid := range n.DependsOn {
		if i := r.onStack(pid); i >= 0 {
			clean = false
			for _, id := range r.stack[i:] {
				r.cyclic[id] = true
			}
			if res.Cycle == nil {
				res.Cycle = append(append([]string{}, r.stack[i:]...), pid)
			}
			continue
		}
		p, ok, err := r.lookup(pid)
		if err != nil {
			return Resolution{}, false, err
		}
		if !ok {
			continue
		}
		pres, pclean, err := r.resolve(p)
		if err != nil {
			return Resolution{}, false, err
		}
		if !pclean {
			clean = false
			if res.Cycle == nil {
				res.Cycle = pres.Cycle
			}
		}
		if status.Worse(pres.Status, res.Status) {
			res.Status = pres.Status
			res.LimitingParent = &Parent{ID: p.ID, Name: p.Name, Status: pres.Status}
		}
	}
	if r.cyclic[n.ID] {
		res.Status, res.LimitingParent = n.Status, nil
	}
	if clean {
		r.memo[n.ID] = res
	}
	return res, clean, nil
}

// Dependents returns every transitive dependent of id in breadth-first
// order, each once, excluding id itself.
func Dependents(id string, children Children) ([]string, error) {
	seen := map[string]bool{id: true}
	queue := []string{id}
	var out []string
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		kids, err := children(cur)
		if err != nil {
			return nil, err
		}
		for _, k := range kids {
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
			queue = append(queue, k)
		}
	}
	return out, nil
}

// WouldCycle reports whether giving id the parents in dependsOn closes a
// cycle, i.e. whether id is reachable upward from any of those parents.
func WouldCycle(id string, dependsOn []string, lookup Lookup) (bool, error) {
	seen := map[string]bool{}
	queue := append([]string{}, dependsOn...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == id {
			return true, nil
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		n, ok, err := lookup(cur)
		if err != nil {
			return false, err
		}
		if ok {
			queue = append(queue, n.DependsOn...)
		}
	}
	return false, nil
}
