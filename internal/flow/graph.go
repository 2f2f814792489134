// Package flow implements the conversation orchestration engine for the
// embeddable chat widget.
//
// This file implements the in-memory directed graph of question-flow nodes.
package flow

import (
	"fmt"
	"log/slog"

	"github.com/embedbot/widgetcore/internal/models"
)

// StartNodeID is the reserved id of the flow entry node.
const StartNodeID = "start"

// GraphOption configures FlowGraph loading behavior.
type GraphOption func(*FlowGraph)

// WithStrictNodeIDs makes LoadGraph fail on duplicate node ids instead of
// letting the last definition win.
func WithStrictNodeIDs() GraphOption {
	return func(g *FlowGraph) {
		g.strict = true
	}
}

// FlowGraph is an id-indexed directed graph of question nodes.
type FlowGraph struct {
	nodes  map[string]models.FlowNode
	order  []string // first-appearance definition order, for Start fallback
	strict bool
}

// AdvanceResult is the outcome of advancing the graph by one step.
type AdvanceResult struct {
	// Node is the resolved next node; nil means the flow ended (missing
	// NextID targets are intentional terminations, not errors).
	Node     *models.FlowNode
	Terminal models.Terminal
}

// LoadGraph builds an id->node index from the node list. Duplicate ids are
// resolved last-wins with a warning unless WithStrictNodeIDs is set.
func LoadGraph(nodes []models.FlowNode, opts ...GraphOption) (*FlowGraph, error) {
	g := &FlowGraph{nodes: make(map[string]models.FlowNode, len(nodes))}
	for _, opt := range opts {
		opt(g)
	}

	for _, n := range nodes {
		if !models.IsValidNodeType(n.Type) {
			return nil, fmt.Errorf("flow node %q: %w", n.ID, models.ErrInvalidNodeType)
		}
		if _, exists := g.nodes[n.ID]; exists {
			if g.strict {
				return nil, fmt.Errorf("flow node %q: %w", n.ID, models.ErrDuplicateNodeID)
			}
			slog.Warn("FlowGraph LoadGraph: duplicate node id, last definition wins", "id", n.ID)
		} else {
			g.order = append(g.order, n.ID)
		}
		g.nodes[n.ID] = n
	}

	slog.Debug("FlowGraph loaded", "nodes", len(g.nodes), "strict", g.strict)
	return g, nil
}

// Len returns the number of distinct nodes in the graph.
func (g *FlowGraph) Len() int {
	return len(g.nodes)
}

// Start returns the entry node: the node with id "start", else the first
// node in definition order, else nil for an empty graph.
func (g *FlowGraph) Start() *models.FlowNode {
	if n, ok := g.nodes[StartNodeID]; ok {
		return &n
	}
	if len(g.order) == 0 {
		return nil
	}
	n := g.nodes[g.order[0]]
	return &n
}

// Next looks up a node by id in O(1). A nil result means the flow ended.
func (g *FlowGraph) Next(id string) *models.FlowNode {
	if id == "" {
		return nil
	}
	n, ok := g.nodes[id]
	if !ok {
		slog.Debug("FlowGraph Next: id not found, treating as end of flow", "id", id)
		return nil
	}
	return &n
}

// Advance resolves one traversal step from current. For multiple-choice
// nodes, selection indexes the chosen option and its action is resolved;
// collect-lead and end-chat are terminal signals that do not advance the
// cursor. All other node types follow the node's own NextID.
func (g *FlowGraph) Advance(current *models.FlowNode, selection int) AdvanceResult {
	if current == nil {
		return AdvanceResult{Terminal: models.TerminalContinue}
	}

	if current.Type == models.NodeTypeMultipleChoice {
		if selection < 0 || selection >= len(current.Options) {
			slog.Warn("FlowGraph Advance: selection out of range", "node", current.ID, "selection", selection, "options", len(current.Options))
			return AdvanceResult{Terminal: models.TerminalContinue}
		}
		opt := current.Options[selection]
		switch opt.Action {
		case models.OptionActionCollectLead:
			return AdvanceResult{Terminal: models.TerminalCollectLead}
		case models.OptionActionEndChat:
			return AdvanceResult{Terminal: models.TerminalEndChat}
		}
		return AdvanceResult{Node: g.Next(opt.NextID), Terminal: models.TerminalContinue}
	}

	return AdvanceResult{Node: g.Next(current.NextID), Terminal: models.TerminalContinue}
}
