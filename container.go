package ate

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tokera-com/ate/utils"
)

var ErrEmptyGraph = errors.New("version graph has no leaves")

const recordCacheSize = 128

// NoClass is reported by PayloadClass when the container is still empty.
const NoClass = "[null]"

// Container is the per-object version graph. It ingests data messages in
// whatever order the log delivers them, keeps the chronological timeline and
// the current frontier (leaves), and merges the frontier on demand.
//
// Nodes are never removed; replaying the partition rebuilds the same state.
type Container struct {
	Key PartitionKey

	env  *Env
	lock sync.RWMutex

	lookup   map[uuid.UUID]*GraphNode
	timeline []*GraphNode
	leaves   []*GraphNode

	// every version some ingested node declared as prior or merge parent;
	// keeps the frontier exact when parents arrive after their children
	referenced map[uuid.UUID]struct{}

	records *lru.Cache[uuid.UUID, Record]
}

func NewContainer(key PartitionKey, env *Env) *Container {
	if env.Log == nil {
		env.Log = utils.NewDefaultLogger(slog.LevelInfo)
	}
	cache, _ := lru.New[uuid.UUID, Record](recordCacheSize)
	return &Container{
		Key:        key,
		env:        env,
		lookup:     make(map[uuid.UUID]*GraphNode),
		referenced: make(map[uuid.UUID]struct{}),
		records:    cache,
	}
}

// Add ingests one message. Idempotent on version: a message already in the
// lookup leaves lookup, timeline and leaves untouched. The meta is frozen
// once the container owns it. Add never fails.
func (c *Container) Add(data *Data, meta *Meta) *Container {
	node := newGraphNode(&DataMeta{Data: data, Meta: meta})
	kind := "new"

	c.lock.Lock()
	if _, ok := c.lookup[node.Version]; ok {
		c.lock.Unlock()
		IngestCount.WithLabelValues("duplicate").Inc()
		return c
	}
	if node.PreviousVersion != uuid.Nil {
		if prev, ok := c.lookup[node.PreviousVersion]; ok {
			prev.attach(node)
			c.removeLeaf(prev)
		} else {
			// the parent may still arrive, but it will not re-attach us
			kind = "orphan"
		}
		c.referenced[node.PreviousVersion] = struct{}{}
	}
	node.Merges.Each(func(m uuid.UUID) bool {
		if merged, ok := c.lookup[m]; ok {
			c.removeLeaf(merged)
		}
		c.referenced[m] = struct{}{}
		return false
	})
	c.lookup[node.Version] = node
	// a node some earlier arrival already declared as parent is born demoted
	if _, ok := c.referenced[node.Version]; !ok {
		c.leaves = append(c.leaves, node)
	}
	c.timeline = append(c.timeline, node)
	meta.Freeze()
	c.lock.Unlock()

	IngestCount.WithLabelValues(kind).Inc()
	return c
}

func (c *Container) removeLeaf(node *GraphNode) {
	for i, leaf := range c.leaves {
		if leaf == node {
			c.leaves = append(c.leaves[:i], c.leaves[i+1:]...)
			return
		}
	}
}

// Last returns the most recently inserted message, nil on empty.
func (c *Container) Last() *DataMeta {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if len(c.timeline) == 0 {
		return nil
	}
	return c.timeline[len(c.timeline)-1].Msg
}

func (c *Container) LastHeader() *DataHeader {
	last := c.Last()
	if last == nil {
		return nil
	}
	return last.Data.Header
}

func (c *Container) LastOffset() (offset int64, ok bool) {
	last := c.Last()
	if last == nil {
		return 0, false
	}
	return last.Meta.Offset(), true
}

func (c *Container) LastData() *Data {
	last := c.Last()
	if last == nil {
		return nil
	}
	return last.Data
}

func (c *Container) HasPayload() bool {
	last := c.Last()
	if last == nil {
		return false
	}
	return last.Data.HasPayload()
}

// Immutable reports whether the object can no longer be written: write
// inheritance is off and the allow-write list is empty.
func (c *Container) Immutable() bool {
	header := c.LastHeader()
	if header == nil {
		return false
	}
	return !header.InheritWrite && len(header.AllowWrite) == 0
}

func (c *Container) PayloadClass() string {
	header := c.LastHeader()
	if header == nil {
		return NoClass
	}
	return header.PayloadClass
}

// History returns the metas in insertion order. The slice holds copies, so
// the caller iterates without the lock.
func (c *Container) History() []Meta {
	c.lock.RLock()
	defer c.lock.RUnlock()
	history := make([]Meta, 0, len(c.timeline))
	for _, node := range c.timeline {
		history = append(history, *node.Msg.Meta)
	}
	return history
}

// Size is the number of distinct versions ingested so far.
func (c *Container) Size() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.lookup)
}

// Leaves snapshots the current frontier in insertion order.
func (c *Container) Leaves() []*GraphNode {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if len(c.leaves) == 0 {
		return nil
	}
	leaves := make([]*GraphNode, len(c.leaves))
	copy(leaves, c.leaves)
	return leaves
}
