package engine

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/skillflow/skillflow/internal/skill"
)

// childNodeIDs collects every node id referenced from a conditional branch
// or loop body anywhere in the graph. Those nodes execute only when their
// parent conditional/loop dispatches them ("as if they were child nodes of
// this engine context", per spec.md §4.H) — the top-level scheduler must
// not also launch them independently.
func childNodeIDs(g skill.Graph) map[string]bool {
	children := map[string]bool{}
	for _, n := range g.Nodes {
		if n.Conditional != nil {
			for _, b := range n.Conditional.Branches {
				for _, id := range b.NodeIDs {
					children[id] = true
				}
			}
			for _, id := range n.Conditional.DefaultBranch {
				children[id] = true
			}
		}
		if n.Loop != nil {
			for _, id := range n.Loop.BodyNodeIDs {
				children[id] = true
			}
		}
	}
	return children
}

// prerequisitesOf combines explicit depends_on with incoming-edge sources
// for a node.
func prerequisitesOf(g skill.Graph, nodeID string) []string {
	var prereqs []string
	for _, n := range g.Nodes {
		if n.ID == nodeID {
			prereqs = append(prereqs, n.DependsOn...)
			break
		}
	}
	for _, e := range g.Edges {
		if e.To == nodeID {
			prereqs = append(prereqs, e.From)
		}
	}
	return prereqs
}

func topLevelNodes(sk skill.Skill) []skill.SkillNode {
	children := childNodeIDs(sk.Graph)
	out := make([]skill.SkillNode, 0, len(sk.Graph.Nodes))
	for _, n := range sk.Graph.Nodes {
		if !children[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// runSequential implements spec.md §4.H's "sequential" mode: Kahn's
// algorithm over the top-level nodes, visiting in topological order and
// immediately marking a node "skipped" if its prerequisites are not met.
func (e *Engine) runSequential(ctx context.Context, sk skill.Skill, rs *runState) {
	nodes := topLevelNodes(sk)
	byID := make(map[string]skill.SkillNode, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	prereqs := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		p := prerequisitesOf(sk.Graph, n.ID)
		prereqs[n.ID] = p
		inDegree[n.ID] = len(p)
	}

	var queue []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	sort.Strings(queue)

	visited := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		node := byID[id]

		if rs.isStopped() {
			rs.setStatus(id, skill.StatusSkipped)
		} else if ready, _ := rs.dependentsReady(id, prereqs[id]); !ready {
			rs.setStatus(id, skill.StatusSkipped)
		} else {
			ne := e.executeNode(ctx, sk, node, rs)
			rs.recordExecution(ne)
		}

		for _, n := range nodes {
			for _, dep := range prereqs[n.ID] {
				if dep == id {
					inDegree[n.ID]--
				}
			}
		}
		for _, n := range nodes {
			if !visited[n.ID] && inDegree[n.ID] == 0 && !contains(queue, n.ID) {
				queue = append(queue, n.ID)
			}
		}
		sort.Strings(queue)
	}

	// Any node never reached — either a top-level node the cycle guard
	// should have caught, or a conditional/loop child whose branch was
	// never taken.
	for _, n := range sk.Graph.Nodes {
		if rs.getStatus(n.ID) == skill.StatusPending {
			rs.setStatus(n.ID, skill.StatusSkipped)
		}
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// runPhased implements spec.md §4.H's "phased" mode: iterate phase ids in
// sorted order, launching every runnable node in a phase concurrently and
// waiting for the phase to settle before advancing.
func (e *Engine) runPhased(ctx context.Context, sk skill.Skill, rs *runState) {
	byID := nodeIndex(sk)
	phaseIDs := make([]string, 0, len(sk.Graph.Concurrency.Phases))
	for id := range sk.Graph.Concurrency.Phases {
		phaseIDs = append(phaseIDs, id)
	}
	sort.Strings(phaseIDs)

	for _, phaseID := range phaseIDs {
		if rs.isStopped() {
			break
		}
		nodeIDs := sk.Graph.Concurrency.Phases[phaseID]
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxParallel)

		for _, id := range nodeIDs {
			id := id
			node, ok := byID[id]
			if !ok {
				continue
			}
			prereqs := prerequisitesOf(sk.Graph, id)
			g.Go(func() error {
				if rs.isStopped() {
					rs.setStatus(id, skill.StatusSkipped)
					return nil
				}
				if ready, _ := rs.dependentsReady(id, prereqs); !ready {
					rs.setStatus(id, skill.StatusSkipped)
					return nil
				}
				ne := e.executeNode(gCtx, sk, node, rs)
				rs.recordExecution(ne)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, n := range sk.Graph.Nodes {
		if rs.getStatus(n.ID) == skill.StatusPending {
			rs.setStatus(n.ID, skill.StatusSkipped)
		}
	}
}

// runFullParallel implements spec.md §4.H's "full_parallel" mode: each
// round, launch every node whose prerequisites are satisfied, at most
// e.maxParallel at once; recompute readiness once the round settles.
// Deadlock (nothing runnable, nothing newly finished) skips every
// remaining pending node and terminates.
func (e *Engine) runFullParallel(ctx context.Context, sk skill.Skill, rs *runState) {
	nodes := topLevelNodes(sk)
	byID := make(map[string]skill.SkillNode, len(nodes))
	prereqs := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		prereqs[n.ID] = prerequisitesOf(sk.Graph, n.ID)
	}

	for {
		if rs.isStopped() {
			break
		}
		var runnable []string
		pendingRemains := false
		for _, n := range nodes {
			if rs.getStatus(n.ID) != skill.StatusPending {
				continue
			}
			pendingRemains = true
			ready, blocked := rs.dependentsReady(n.ID, prereqs[n.ID])
			if blocked {
				rs.setStatus(n.ID, skill.StatusSkipped)
				continue
			}
			if ready {
				runnable = append(runnable, n.ID)
			}
		}
		if !pendingRemains {
			break
		}
		if len(runnable) == 0 {
			// Deadlock: nothing runnable, nothing left to unblock it.
			break
		}

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxParallel)
		for _, id := range runnable {
			id := id
			node := byID[id]
			g.Go(func() error {
				ne := e.executeNode(gCtx, sk, node, rs)
				rs.recordExecution(ne)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, n := range nodes {
		if rs.getStatus(n.ID) == skill.StatusPending {
			rs.setStatus(n.ID, skill.StatusSkipped)
		}
	}
}
