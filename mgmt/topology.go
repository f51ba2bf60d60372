// Package mgmt implements the management portal (C6): source-routed
// discovery of the device's transport adapters, crossbars, and stream
// endpoints, EPID assignment, and crossbar route programming.
package mgmt

import (
	"github.com/ettus-go/rfnoc-chdr/chdrerr"
)

// NodeType tags a topology node's role, mirroring the variant carried on
// the wire by an INFO_RESP.
type NodeType int

const (
	NodeUnknown NodeType = iota
	NodeHost
	NodeTransportAdapter
	NodeCrossbar
	NodeStreamEndpoint
	NodeRFNoCBlock
)

func (t NodeType) String() string {
	switch t {
	case NodeHost:
		return "host"
	case NodeTransportAdapter:
		return "transport_adapter"
	case NodeCrossbar:
		return "crossbar"
	case NodeStreamEndpoint:
		return "stream_endpoint"
	case NodeRFNoCBlock:
		return "rfnoc_block"
	default:
		return "unknown"
	}
}

// PhysAddr is a (device_id, instance) pair identifying a node statically,
// independent of any EPID assigned to it later.
type PhysAddr struct {
	DeviceID uint32
	Instance uint32
}

// Node is one topology arena entry. Nodes are referenced by index from
// Edge, never by pointer, so the arena can be copied or serialized freely
// and route-finding never entangles with node lifetime. Parent/ParentPort
// record the single discovery-time edge each non-host node was reached
// through, turning the graph into a tree rooted at the host for routing
// purposes (crossbars may have richer physical interconnect, but every
// node is reached by exactly one source-routed path from the host).
type Node struct {
	Addr       PhysAddr
	Type       NodeType
	NumPorts   int // only meaningful for crossbars
	Parent     int // -1 for the host root
	ParentPort int // output port on Parent that leads to this node
}

// Edge connects two node indices through a crossbar output port. Weight is
// uniform (1) unless a link-specific cost model is introduced later.
type Edge struct {
	From, To int
	Port     int
	Weight   int
}

// Graph is the indexed arena of discovered nodes and the edges between
// them, built up during discovery and consulted during route programming.
type Graph struct {
	Nodes []Node
	Edges []Edge

	byAddr map[PhysAddr]int
}

// NewGraph returns an empty topology graph seeded with the host node at
// index 0.
func NewGraph(hostAddr PhysAddr) *Graph {
	g := &Graph{byAddr: make(map[PhysAddr]int)}
	g.addNode(Node{Addr: hostAddr, Type: NodeHost, Parent: -1, ParentPort: -1})
	return g
}

func (g *Graph) addNode(n Node) int {
	if idx, ok := g.byAddr[n.Addr]; ok {
		return idx
	}
	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	g.byAddr[n.Addr] = idx
	return idx
}

// addEdge records a discovered hop and the child's parent pointer. A
// source-routed path to any node is always reachable starting from the
// host, so the graph is a tree rooted at index 0 for path-finding
// purposes, even though Edges also keeps the flat list for inspection.
func (g *Graph) addEdge(from, to, port int) {
	for _, e := range g.Edges {
		if e.From == from && e.To == to && e.Port == port {
			return
		}
	}
	g.Edges = append(g.Edges, Edge{From: from, To: to, Port: port, Weight: 1})
	g.Nodes[to].Parent = from
	g.Nodes[to].ParentPort = port
}

// NodeIndex returns the arena index for addr, if known.
func (g *Graph) NodeIndex(addr PhysAddr) (int, bool) {
	idx, ok := g.byAddr[addr]
	return idx, ok
}

// Neighbors returns the edges leading out of node index idx.
func (g *Graph) Neighbors(idx int) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == idx {
			out = append(out, e)
		}
	}
	return out
}

// PathFromRoot returns the sequence of output ports selected at each
// crossbar from the host down to node idx — the source-routed path a
// management transaction addresses that node with. The host's own
// immediate neighbor is reached over a direct physical link (no SEL_DEST
// needed), recorded internally with the -1 sentinel port; PathFromRoot
// omits it so the returned path matches exactly the port selections a
// transaction must encode.
func (g *Graph) PathFromRoot(idx int) []int {
	var rev []int
	for idx != 0 {
		n := g.Nodes[idx]
		if n.ParentPort != -1 {
			rev = append(rev, n.ParentPort)
		}
		idx = n.Parent
	}
	path := make([]int, len(rev))
	for i, p := range rev {
		path[len(rev)-1-i] = p
	}
	return path
}

func (g *Graph) ancestorChain(idx int) []int {
	var rev []int
	for {
		rev = append(rev, idx)
		if idx == 0 {
			break
		}
		idx = g.Nodes[idx].Parent
	}
	chain := make([]int, len(rev))
	for i, v := range rev {
		chain[len(rev)-1-i] = v
	}
	return chain
}

// CrossbarWrite is one dst_epid -> output_port routing-table entry that
// must be programmed at CrossbarIdx for a route to take effect.
type CrossbarWrite struct {
	CrossbarIdx int
	OutputPort  int
}

// RoutePlan finds the lowest common ancestor of src and dst in the
// host-rooted discovery tree and returns the set of crossbar route-table
// writes needed to connect them: ascending writes steer traffic from src
// up toward the common ancestor, and descending writes steer it back down
// toward dst. Nodes on the path that are not crossbars (stream endpoints,
// transport adapters) need no route-table entry.
func (g *Graph) RoutePlan(src, dst int) ([]CrossbarWrite, error) {
	if src == dst {
		return nil, nil
	}
	srcChain := g.ancestorChain(src)
	dstChain := g.ancestorChain(dst)

	i := 0
	for i < len(srcChain) && i < len(dstChain) && srcChain[i] == dstChain[i] {
		i++
	}
	if i == 0 {
		return nil, chdrerr.New(chdrerr.Topology, chdrerr.CodeMgmtRouteUnavail, "source and destination share no common ancestor")
	}
	lcaPos := i - 1
	lcaIdx := srcChain[lcaPos]

	var writes []CrossbarWrite
	for j := len(srcChain) - 1; j > lcaPos; j-- {
		nodeIdx := srcChain[j]
		if g.Nodes[nodeIdx].Type == NodeCrossbar {
			writes = append(writes, CrossbarWrite{CrossbarIdx: nodeIdx, OutputPort: g.Nodes[nodeIdx].ParentPort})
		}
	}
	if g.Nodes[lcaIdx].Type == NodeCrossbar && lcaPos+1 < len(dstChain) {
		nextOnDstSide := dstChain[lcaPos+1]
		writes = append(writes, CrossbarWrite{CrossbarIdx: lcaIdx, OutputPort: g.Nodes[nextOnDstSide].ParentPort})
	}
	for j := lcaPos + 1; j < len(dstChain)-1; j++ {
		nodeIdx := dstChain[j]
		if g.Nodes[nodeIdx].Type == NodeCrossbar {
			nextIdx := dstChain[j+1]
			writes = append(writes, CrossbarWrite{CrossbarIdx: nodeIdx, OutputPort: g.Nodes[nextIdx].ParentPort})
		}
	}
	return writes, nil
}
