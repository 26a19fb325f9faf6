package ate

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// GraphNode is one revision in a container's version graph. Parent is set
// exactly once, at link time, under the container's write lock; Children is
// append-only under the same lock.
type GraphNode struct {
	Msg             *DataMeta
	Version         uuid.UUID
	PreviousVersion uuid.UUID
	Merges          mapset.Set[uuid.UUID]
	Parent          *GraphNode
	Children        []*GraphNode
}

func newGraphNode(msg *DataMeta) *GraphNode {
	header := msg.Data.Header
	merges := header.Merges
	if merges == nil {
		merges = mapset.NewSet[uuid.UUID]()
	}
	return &GraphNode{
		Msg:             msg,
		Version:         header.Version,
		PreviousVersion: header.PreviousVersion,
		Merges:          merges,
	}
}

func (n *GraphNode) attach(child *GraphNode) {
	for _, c := range n.Children {
		if c == child {
			return
		}
	}
	n.Children = append(n.Children, child)
	child.Parent = n
}
