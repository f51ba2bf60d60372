package mgmt

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ettus-go/rfnoc-chdr/chdrerr"
)

// ProbeResult is what a management transaction learns about the node it
// reached: the physical address self-reported by an INFO_RESP, the node's
// type, and (for a crossbar) its port count.
type ProbeResult struct {
	Addr     PhysAddr
	Type     NodeType
	NumPorts int
	ProtoVer uint16
}

// Sender abstracts the source-routed wire transaction itself: select
// output port at each hop in path (empty path addresses the immediately
// adjacent node), then run an INFO_REQ at the terminal hop and parse its
// INFO_RESP. The underlying CHDR Management packet framing lives below
// this interface (in the graph composition layer); the portal only ever
// deals in paths and probe results, and retries failed probes itself
// (probeWithRetry).
type Sender interface {
	Probe(path []int) (ProbeResult, error)
	// WriteConfig performs a source-routed CFG_WR_REQ of value to register
	// at the node reached by path.
	WriteConfig(path []int, register, value uint32) error
}

const (
	// RegEPIDSelf is the well-known config register a node's EPID is
	// assigned through, per the CFG_WR_REQ(register=EPID_SELF) transaction
	// in the discovery algorithm.
	RegEPIDSelf uint32 = 0x00
	// RegRouteTable is the base register a crossbar's dst_epid -> port
	// routing table entries are written through; the actual address is
	// RegRouteTable + dst_epid.
	RegRouteTable uint32 = 0x1000

	// maxDiscoveryHops bounds the breadth-first search per section 4.6
	// step 5 ("bound iteration by a maximum hop count, implementation
	// choice >= 16"): the path length (source-route depth) to a candidate
	// node, not the total number of probes issued.
	maxDiscoveryHops = 16
	// maxUnreachableRetries is N in "no response after N retries".
	maxUnreachableRetries = 2
)

type sepEntry struct {
	Addr         PhysAddr
	EPID         uint16
	Path         []int
	Capabilities ProbeResult
}

// Portal is the management portal: it owns the discovered topology graph,
// the EPID allocator, and the catalog of stream endpoints and programmed
// crossbar routes for one session.
type Portal struct {
	log *zap.Logger

	sender Sender
	alloc  *EPIDAllocator

	mu         sync.Mutex
	graph      *Graph
	seps       map[PhysAddr]*sepEntry
	epidToAddr map[uint16]PhysAddr
	programmed map[[2]uint16]bool // (crossbar node index encoded, dst_epid) -> written

	sessionID uuid.UUID
}

// NewPortal constructs a portal for one session, tagging log output with a
// fresh session identifier so multi-session log correlation doesn't rely
// on timestamps alone.
func NewPortal(sender Sender, hostAddr PhysAddr, epidBase uint16, log *zap.Logger) (*Portal, error) {
	if log == nil {
		log = zap.NewNop()
	}
	alloc, err := NewEPIDAllocator(epidBase)
	if err != nil {
		return nil, err
	}
	sessionID := uuid.New()
	return &Portal{
		log:        log.With(zap.String("component", "mgmt_portal"), zap.String("session", sessionID.String())),
		sender:     sender,
		alloc:      alloc,
		graph:      NewGraph(hostAddr),
		seps:       make(map[PhysAddr]*sepEntry),
		epidToAddr: make(map[uint16]PhysAddr),
		programmed: make(map[[2]uint16]bool),
		sessionID:  sessionID,
	}, nil
}

// DiscoverTopology performs the breadth-first probe described in section
// 4.6: starting from the host, it walks every crossbar port and records
// every stream endpoint it finds, assigning each a fresh EPID.
func (p *Portal) DiscoverTopology() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	type frontierEntry struct {
		nodeIdx int
		path    []int
	}
	frontier := []frontierEntry{{nodeIdx: 0, path: nil}}
	visited := map[int]bool{0: true}

	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		if len(next.path) >= maxDiscoveryHops {
			p.log.Debug("discovery path hit the hop-depth bound", zap.Ints("path", next.path))
			continue
		}

		result, err := p.probeWithRetry(next.path)
		if err != nil {
			p.log.Debug("probe did not reach a node", zap.Ints("path", next.path), zap.Error(err))
			continue
		}

		childIdx := p.graph.addNode(Node{Addr: result.Addr, Type: result.Type, NumPorts: result.NumPorts})
		p.graph.addEdge(next.nodeIdx, childIdx, lastPort(next.path))
		if visited[childIdx] {
			continue
		}
		visited[childIdx] = true

		switch result.Type {
		case NodeCrossbar:
			for port := 0; port < result.NumPorts; port++ {
				childPath := append(append([]int(nil), next.path...), port)
				frontier = append(frontier, frontierEntry{nodeIdx: childIdx, path: childPath})
			}
		case NodeStreamEndpoint:
			if err := p.enrollSEPLocked(result, next.path); err != nil {
				return err
			}
		}
	}
	return nil
}

func lastPort(path []int) int {
	if len(path) == 0 {
		return -1
	}
	return path[len(path)-1]
}

func (p *Portal) probeWithRetry(path []int) (ProbeResult, error) {
	var lastErr error
	for attempt := 0; attempt <= maxUnreachableRetries; attempt++ {
		result, err := p.sender.Probe(path)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return ProbeResult{}, chdrerr.Wrap(chdrerr.Topology, chdrerr.CodeMgmtUnreachable, lastErr)
}

// enrollSEPLocked assigns a fresh EPID to a newly discovered stream
// endpoint and records it in the catalog. Callers hold p.mu.
func (p *Portal) enrollSEPLocked(result ProbeResult, path []int) error {
	if _, ok := p.seps[result.Addr]; ok {
		return nil
	}
	epid, err := p.alloc.Allocate()
	if err != nil {
		return err
	}
	if err := p.sender.WriteConfig(path, RegEPIDSelf, uint32(epid)); err != nil {
		return chdrerr.Wrap(chdrerr.Topology, chdrerr.CodeMgmtUnreachable, err)
	}
	entry := &sepEntry{Addr: result.Addr, EPID: epid, Path: append([]int(nil), path...), Capabilities: result}
	p.seps[result.Addr] = entry
	p.epidToAddr[epid] = result.Addr
	p.log.Info("enrolled stream endpoint", zap.Uint32("device_id", result.Addr.DeviceID),
		zap.Uint32("instance", result.Addr.Instance), zap.Uint16("epid", epid))
	return nil
}

// SEPCount returns the number of stream endpoints discovered so far.
func (p *Portal) SEPCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seps)
}

// EPIDFor returns the EPID assigned to the stream endpoint at addr, if
// discovered.
func (p *Portal) EPIDFor(addr PhysAddr) (uint16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.seps[addr]
	if !ok {
		return 0, false
	}
	return e.EPID, true
}

// ProgramRoute computes the shortest path between two discovered SEPs'
// EPIDs and writes the dst_epid -> output_port routing-table entry at
// every intermediate crossbar. Already-programmed entries (by crossbar,
// dst_epid) are skipped, per the idempotent-write caching rule.
func (p *Portal) ProgramRoute(srcEPID, dstEPID uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	srcAddr, ok := p.epidToAddr[srcEPID]
	if !ok {
		return chdrerr.New(chdrerr.Config, "MGMT_UNKNOWN_EPID", "source EPID not found in catalog")
	}
	dstAddr, ok := p.epidToAddr[dstEPID]
	if !ok {
		return chdrerr.New(chdrerr.Config, "MGMT_UNKNOWN_EPID", "destination EPID not found in catalog")
	}

	srcIdx, ok := p.graph.NodeIndex(srcAddr)
	if !ok {
		return chdrerr.New(chdrerr.Topology, chdrerr.CodeMgmtRouteUnavail, "source node missing from topology graph")
	}
	dstIdx, ok := p.graph.NodeIndex(dstAddr)
	if !ok {
		return chdrerr.New(chdrerr.Topology, chdrerr.CodeMgmtRouteUnavail, "destination node missing from topology graph")
	}

	writes, err := p.graph.RoutePlan(srcIdx, dstIdx)
	if err != nil {
		return err
	}

	for _, w := range writes {
		key := [2]uint16{uint16(w.CrossbarIdx), dstEPID}
		if p.programmed[key] {
			continue
		}
		path := p.graph.PathFromRoot(w.CrossbarIdx)
		if err := p.sender.WriteConfig(path, RegRouteTable+uint32(dstEPID), uint32(w.OutputPort)); err != nil {
			return chdrerr.Wrap(chdrerr.Topology, chdrerr.CodeMgmtUnreachable, err)
		}
		p.programmed[key] = true
	}
	return nil
}
