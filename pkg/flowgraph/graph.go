// Package flowgraph compiles flows into immutable, validated graphs.
package flowgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/convoflow/pkg/models"
	"github.com/dukex/convoflow/pkg/scope"
	"github.com/go-playground/validator/v10"
)

// GraphIntegrityError lists every problem that blocks a flow from activating.
type GraphIntegrityError struct {
	FlowID   string
	Version  int
	Problems []string
}

func (e *GraphIntegrityError) Error() string {
	return fmt.Sprintf("flow %s v%d failed integrity check: %s", e.FlowID, e.Version, strings.Join(e.Problems, "; "))
}

// IsGraphIntegrityError reports whether err carries a *GraphIntegrityError.
func IsGraphIntegrityError(err error) bool {
	var target *GraphIntegrityError

	return errors.As(err, &target)
}

// NodeValidator checks the kind-specific data of a node.
type NodeValidator interface {
	ValidateNode(node *models.Node) error
}

// Option configures graph compilation.
type Option func(*options)

// ConditionChecker reports malformed edge conditions.
type ConditionChecker interface {
	Check(expression string) error
}

type options struct {
	nodeValidator    NodeValidator
	conditionChecker ConditionChecker
}

// WithConditionChecker rejects flows whose conditions do not compile.
func WithConditionChecker(c ConditionChecker) Option {
	return func(o *options) {
		o.conditionChecker = c
	}
}

// WithNodeValidator enables per-kind data validation.
func WithNodeValidator(v NodeValidator) Option {
	return func(o *options) {
		o.nodeValidator = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Graph is the compiled, read-only form of one flow version. Nodes are kept
// in an arena indexed by position; edges are adjacency lists of edge indices
// in definition order. A Graph is safe to share between goroutines.
type Graph struct {
	flow     *models.Flow
	nodes    []*models.Node
	byID     map[string]int
	edges    []*models.Edge
	outgoing [][]int
	incoming []int
	defaults scope.Defaults
	entry    int
}

// New validates flow and builds its graph. The flow must not be mutated afterwards.
func New(flow *models.Flow, opts ...Option) (*Graph, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	problems := make([]string, 0)

	if err := validate.Struct(flow); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("field %s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	g := &Graph{
		flow:     flow,
		nodes:    make([]*models.Node, 0, len(flow.Nodes)),
		byID:     make(map[string]int, len(flow.Nodes)),
		outgoing: make([][]int, 0, len(flow.Nodes)),
		incoming: make([]int, 0, len(flow.Nodes)),
		defaults: make(scope.Defaults, len(flow.Variables)),
		entry:    -1,
	}

	for _, node := range flow.Nodes {
		if node == nil {
			continue
		}

		if _, dup := g.byID[node.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", node.ID))

			continue
		}

		g.byID[node.ID] = len(g.nodes)
		g.nodes = append(g.nodes, node)
		g.outgoing = append(g.outgoing, nil)
		g.incoming = append(g.incoming, 0)
	}

	for _, edge := range flow.Edges {
		if edge == nil {
			continue
		}

		src, okSrc := g.byID[edge.Source]
		dst, okDst := g.byID[edge.Target]

		if !okSrc {
			problems = append(problems, fmt.Sprintf("edge %s: source node %q does not exist", edgeName(edge), edge.Source))
		}

		if !okDst {
			problems = append(problems, fmt.Sprintf("edge %s: target node %q does not exist", edgeName(edge), edge.Target))
		}

		if !okSrc || !okDst {
			continue
		}

		g.outgoing[src] = append(g.outgoing[src], len(g.edges))
		g.incoming[dst]++
		g.edges = append(g.edges, edge)
	}

	for _, v := range flow.Variables {
		if v != nil && v.Scope != models.VariableScopeSession {
			g.defaults[v.Name] = v.Default
		}
	}

	problems = append(problems, g.checkEntries()...)
	problems = append(problems, g.checkNodes(o)...)

	if len(problems) > 0 {
		return nil, &GraphIntegrityError{FlowID: flow.ID, Version: flow.Version, Problems: problems}
	}

	return g, nil
}

func edgeName(e *models.Edge) string {
	if e.ID != "" {
		return e.ID
	}

	return e.Source + "->" + e.Target
}

func (g *Graph) checkEntries() []string {
	problems := make([]string, 0)

	if len(g.nodes) == 0 {
		return append(problems, "flow has no nodes")
	}

	g.entry = g.defaultEntry()
	if g.flow.EntryNodeID != "" {
		idx, ok := g.byID[g.flow.EntryNodeID]
		if !ok {
			problems = append(problems, fmt.Sprintf("entry node %q does not exist", g.flow.EntryNodeID))
		} else {
			g.entry = idx
		}
	}

	for _, t := range g.flow.Triggers {
		if t == nil {
			continue
		}

		if id := t.ConfigString("entry_node_id"); id != "" {
			if _, ok := g.byID[id]; !ok {
				problems = append(problems, fmt.Sprintf("trigger %s: entry node %q does not exist", t.ID, id))
			}
		}
	}

	return problems
}

// defaultEntry is the first node without incoming edges, else the first node.
func (g *Graph) defaultEntry() int {
	for i := range g.nodes {
		if g.incoming[i] == 0 {
			return i
		}
	}

	return 0
}

func (g *Graph) nonVoiceTriggers() []models.ChannelType {
	out := make([]models.ChannelType, 0)

	for _, t := range g.flow.Triggers {
		if t != nil && !t.ChannelType.IsVoice() {
			out = append(out, t.ChannelType)
		}
	}

	return out
}

func (g *Graph) checkNodes(o *options) []string {
	problems := make([]string, 0)
	nonVoice := g.nonVoiceTriggers()

	for i, node := range g.nodes {
		if o.nodeValidator != nil {
			if err := o.nodeValidator.ValidateNode(node); err != nil {
				problems = append(problems, fmt.Sprintf("node %s: %v", node.ID, err))
			}
		}

		if node.Type.IsVoiceOnly() {
			switch {
			case len(node.Channels) > 0 && !node.SupportsChannel(models.ChannelVoice):
				problems = append(problems, fmt.Sprintf("node %s: %s requires a voice channel", node.ID, node.Type))
			case len(node.Channels) == 0 && g.flow.Type == models.FlowTypeChatbot:
				problems = append(problems, fmt.Sprintf("node %s: %s cannot be used in a chatbot flow", node.ID, node.Type))
			case len(node.Channels) == 0 && len(nonVoice) > 0:
				problems = append(problems, fmt.Sprintf("node %s: %s requires a voice channel but the flow is triggered on %s", node.ID, node.Type, nonVoice[0]))
			}
		}

		// A gotoif with its own condition uses edge order as true/false branches.
		ownCondition, _ := node.Data["condition"].(string)

		if ownCondition != "" && o.conditionChecker != nil {
			if err := o.conditionChecker.Check(ownCondition); err != nil {
				problems = append(problems, fmt.Sprintf("node %s: %v", node.ID, err))
			}
		}
		if node.Type == models.NodeTypeCondition || (node.Type == models.NodeTypeGotoIf && ownCondition == "") {
			out := g.outgoing[i]
			for pos, idx := range out {
				e := g.edges[idx]
				if e.IsUnconditional() && e.SourceHandle == "" && pos != len(out)-1 {
					problems = append(problems, fmt.Sprintf("node %s: default edge %s must be the last outgoing edge", node.ID, edgeName(e)))
				}
			}
		}

		if node.Type == models.NodeTypeGoto {
			target, _ := node.Data["target"].(string)
			flowID, _ := node.Data["flow_id"].(string)

			if target != "" && (flowID == "" || flowID == g.flow.ID) {
				if _, ok := g.byID[target]; !ok {
					problems = append(problems, fmt.Sprintf("node %s: goto target %q does not exist", node.ID, target))
				}
			}
		}
	}

	if o.conditionChecker != nil {
		for _, e := range g.edges {
			if e.Condition == "" {
				continue
			}

			if err := o.conditionChecker.Check(e.Condition); err != nil {
				problems = append(problems, fmt.Sprintf("edge %s: %v", edgeName(e), err))
			}
		}
	}

	return problems
}

// Flow returns the underlying definition. Callers must not mutate it.
func (g *Graph) Flow() *models.Flow { return g.flow }

func (g *Graph) ID() string { return g.flow.ID }

func (g *Graph) Version() int { return g.flow.Version }

// Defaults returns the shared flow-tier variable defaults.
func (g *Graph) Defaults() scope.Defaults { return g.defaults }

// MaxHops returns the flow's hop limit override, 0 when unset.
func (g *Graph) MaxHops() int { return g.flow.Settings.MaxHops }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*models.Node, bool) {
	idx, ok := g.byID[id]
	if !ok {
		return nil, false
	}

	return g.nodes[idx], true
}

// OutgoingEdges returns the edges leaving id in definition order.
func (g *Graph) OutgoingEdges(id string) []*models.Edge {
	idx, ok := g.byID[id]
	if !ok {
		return nil
	}

	out := make([]*models.Edge, 0, len(g.outgoing[idx]))
	for _, e := range g.outgoing[idx] {
		out = append(out, g.edges[e])
	}

	return out
}

// EntryNode returns the flow's default entry node.
func (g *Graph) EntryNode() *models.Node {
	return g.nodes[g.entry]
}

// EntryNodeForTrigger resolves where a conversation started by trigger begins:
// the trigger's entry_node_id, else the flow's entry node.
func (g *Graph) EntryNodeForTrigger(trigger *models.Trigger) *models.Node {
	if trigger != nil {
		if node, ok := g.Node(trigger.ConfigString("entry_node_id")); ok {
			return node
		}
	}

	return g.EntryNode()
}
