// Package topology builds the per-process view of a job's physical layout
// (spec.md §4.1, component 1): the node list, each node's body of
// application ranks, the optional per-node head rank, and the
// failure-domain-aware group ring L2/L3 depend on. It also persists the
// node name list so ranks can be remapped to the same logical slots across
// a restart even if physical nodes changed.
package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/strata/pkg/comm"
	"github.com/cuemby/strata/pkg/types"
)

const topologyTag = 1000 // reserved comm tag for the node-id all-gather

// Options configures Build.
type Options struct {
	// HeadEnabled makes the lowest-ranked process on each node the head
	// for that node. See SPEC_FULL.md / DESIGN.md Open Question 2: heads
	// are optional, and when disabled post-processing always runs inline.
	HeadEnabled bool
}

// Build derives a GroupTopology for the calling rank from the ranked
// Communicator c and this process's node identifier. All ranks must call
// Build; it performs one AllGather.
//
// The group ring is formed by taking, from each node, the rank occupying
// the same position within its node's body (the "nodeRank"); those ranks
// live on distinct nodes by construction, which is exactly the
// failure-domain guarantee spec.md §3 requires. This mirrors FTI's
// topology constraint that every node carries the same number of
// application processes.
func Build(ctx context.Context, c comm.Communicator, nodeID string, opts Options) (types.GroupTopology, error) {
	gathered, err := c.AllGather(ctx, topologyTag, []byte(nodeID))
	if err != nil {
		return types.GroupTopology{}, fmt.Errorf("topology: gathering node ids: %w", err)
	}
	nodeList := make([]string, len(gathered))
	for i, b := range gathered {
		nodeList[i] = string(b)
	}

	// First-appearance order determines both the canonical node index
	// (GroupRank within the ring) and each node's body (ranks sharing a
	// node id, in rank order).
	nodeOrder := make([]string, 0)
	nodeIndex := make(map[string]int)
	bodies := make(map[string][]int)
	for rank, nid := range nodeList {
		if _, ok := nodeIndex[nid]; !ok {
			nodeIndex[nid] = len(nodeOrder)
			nodeOrder = append(nodeOrder, nid)
		}
		bodies[nid] = append(bodies[nid], rank)
	}

	myRank := c.Rank()
	myNodeID := nodeList[myRank]
	body := bodies[myNodeID]

	myNodeRank := -1
	for i, r := range body {
		if r == myRank {
			myNodeRank = i
			break
		}
	}
	if myNodeRank < 0 {
		return types.GroupTopology{}, fmt.Errorf("topology: rank %d missing from its own node body", myRank)
	}

	headRank := -1
	if opts.HeadEnabled && len(body) > 0 {
		headRank = body[0]
	}

	// RingRanks[r] is the global rank occupying this process's body
	// position (myNodeRank) on the r-th node, forming the group ring this
	// rank belongs to. Every node is assumed to carry the same number of
	// application processes, per FTI's topology constraint; a node
	// whose body is too short to have a myNodeRank-th
	// member would break ring symmetry and is rejected.
	ringRanks := make([]int, len(nodeOrder))
	for i, nid := range nodeOrder {
		nodeBody := bodies[nid]
		if myNodeRank >= len(nodeBody) {
			return types.GroupTopology{}, fmt.Errorf("topology: node %q has only %d ranks, need position %d", nid, len(nodeBody), myNodeRank)
		}
		ringRanks[i] = nodeBody[myNodeRank]
	}

	return types.GroupTopology{
		NodeList:   nodeList,
		MyNodeID:   myNodeID,
		MyRank:     myRank,
		MyNodeRank: myNodeRank,
		GroupID:    myNodeRank,
		GroupSize:  len(nodeOrder),
		GroupRank:  nodeIndex[myNodeID],
		HeadRank:   headRank,
		IsHead:     headRank == myRank,
		RingRanks:  ringRanks,
	}, nil
}

// nodeListFile is the name topology persists under meta/<execution-id>/.
const nodeListFile = "topology"

// Persist writes the node name list so a later restart can remap ranks to
// the same logical slots even if the physical nodes changed, per spec.md
// component 1.
func Persist(metaDir, executionID string, nodeList []string) error {
	dir := filepath.Join(metaDir, executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("topology: creating meta dir: %w", err)
	}
	b, err := json.Marshal(nodeList)
	if err != nil {
		return fmt.Errorf("topology: encoding node list: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, nodeListFile), b, 0o644)
}

// Load reads back a previously persisted node list.
func Load(metaDir, executionID string) ([]string, error) {
	path := filepath.Join(metaDir, executionID, nodeListFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: reading node list: %w", err)
	}
	var nodeList []string
	if err := json.Unmarshal(b, &nodeList); err != nil {
		return nil, fmt.Errorf("topology: decoding node list: %w", err)
	}
	return nodeList, nil
}
