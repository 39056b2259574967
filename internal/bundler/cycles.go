package bundler

import (
	"sort"

	"github.com/esmerge/esmerge/internal/graph"
)

// Finds the strongly connected components of the static import graph with
// Tarjan's algorithm. Dynamic imports don't form cycles because they are
// evaluated later. Only components with more than one module are returned
// since self-imports aren't edges.
func findCycleGroups(input graph.Input) [][]uint32 {
	stableIndex := make(map[uint32]int, len(input.ReachableFiles))
	for i, sourceIndex := range input.ReachableFiles {
		stableIndex[sourceIndex] = i
	}

	// Successors in the order the edges were discovered, which is stable
	successors := make(map[uint32][]uint32)
	for _, edge := range input.Edges {
		if edge.Kind.IsStatic() {
			successors[edge.From] = append(successors[edge.From], edge.To)
		}
	}

	type nodeState struct {
		index   int
		lowLink int
		onStack bool
	}
	states := make(map[uint32]*nodeState, len(input.ReachableFiles))
	var stack []uint32
	var groups [][]uint32
	next := 0

	var visit func(sourceIndex uint32)
	visit = func(sourceIndex uint32) {
		state := &nodeState{index: next, lowLink: next, onStack: true}
		states[sourceIndex] = state
		next++
		stack = append(stack, sourceIndex)

		for _, other := range successors[sourceIndex] {
			if otherState, ok := states[other]; !ok {
				visit(other)
				if lowLink := states[other].lowLink; lowLink < state.lowLink {
					state.lowLink = lowLink
				}
			} else if otherState.onStack && otherState.index < state.lowLink {
				state.lowLink = otherState.index
			}
		}

		if state.lowLink != state.index {
			return
		}
		var group []uint32
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			states[top].onStack = false
			group = append(group, top)
			if top == sourceIndex {
				break
			}
		}
		if len(group) > 1 {
			sort.Slice(group, func(i, j int) bool {
				return stableIndex[group[i]] < stableIndex[group[j]]
			})
			groups = append(groups, group)
		}
	}

	for _, sourceIndex := range input.ReachableFiles {
		if _, ok := states[sourceIndex]; !ok {
			visit(sourceIndex)
		}
	}

	sort.Slice(groups, func(i, j int) bool {
		return stableIndex[groups[i][0]] < stableIndex[groups[j][0]]
	})
	return groups
}
