package ate

import (
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

var ErrMergeFailed = errors.New("merger returned no result")

// MergedHeader reduces the frontier to a single header. One leaf is returned
// as-is; divergent tips go through the merger as (ancestor, tip) pairs in
// leaves order.
func (c *Container) MergedHeader() (*DataHeader, error) {
	leaves := c.Leaves()
	if len(leaves) == 0 {
		return nil, ErrEmptyGraph
	}
	if len(leaves) == 1 {
		return leaves[0].Msg.Data.Header, nil
	}

	pairs := make([]MergePair[*DataHeader], 0, len(leaves))
	for _, leaf := range leaves {
		var base *DataHeader
		if leaf.Parent != nil {
			base = leaf.Parent.Msg.Data.Header
		}
		pairs = append(pairs, MergePair[*DataHeader]{Base: base, Tip: leaf.Msg.Data.Header})
	}

	merged := c.env.Merger.MergeHeaders(pairs)
	if merged == nil {
		MergeCount.WithLabelValues("header", "failed").Inc()
		return nil, ErrMergeFailed
	}
	MergeCount.WithLabelValues("header", "merged").Inc()
	return merged, nil
}

// MergedData reduces the frontier to a single record. With divergent tips the
// result is reconciled: it gets a fresh version that declares every tip as a
// merge parent, and, if the principal may write the object, it is queued for
// write-back so replay and log compaction converge.
//
// The snapshot is taken under the read lock; every collaborator runs outside it.
func (c *Container) MergedData() (Record, error) {
	leaves := c.Leaves()
	if len(leaves) == 0 {
		return nil, ErrEmptyGraph
	}
	if len(leaves) == 1 {
		return c.env.Serializer.FromDataMessage(c.Key, leaves[0].Msg, true)
	}

	pairs := make([]MergePair[Record], 0, len(leaves))
	for _, leaf := range leaves {
		var base Record
		if leaf.Parent != nil {
			rec, err := c.record(leaf.Parent)
			if err != nil {
				return nil, err
			}
			base = rec
		}
		tip, err := c.record(leaf)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, MergePair[Record]{Base: base, Tip: tip})
	}

	merged := c.env.Merger.MergeRecords(pairs)
	if merged == nil {
		MergeCount.WithLabelValues("data", "failed").Inc()
		return nil, ErrMergeFailed
	}
	MergeCount.WithLabelValues("data", "merged").Inc()
	return c.reconcile(merged, leaves), nil
}

// record deserializes a node, memoizing per version. Messages are frozen on
// insertion, so a deserialized record can be reused across merge calls; the
// records entering a merge must be treated as read-only.
func (c *Container) record(node *GraphNode) (Record, error) {
	if rec, ok := c.records.Get(node.Version); ok {
		return rec, nil
	}
	rec, err := c.env.Serializer.FromDataMessage(c.Key, node.Msg, true)
	if err != nil {
		return nil, err
	}
	c.records.Add(node.Version, rec)
	return rec, nil
}

// reconcile re-points the merge result at the frontier it collapses. A true
// multi-parent merge gets a fresh identity and, when writable, a
// fire-and-forget write-back; its failure never fails the read path.
func (c *Container) reconcile(merged Record, leaves []*GraphNode) Record {
	if merged == nil {
		return nil
	}
	if len(leaves) == 1 {
		merged.SetPreviousVersion(leaves[len(leaves)-1].Version)
		return merged
	}

	merged.SetPreviousVersion(uuid.Nil)
	merged.SetVersion(uuid.New())
	versions := mapset.NewSet[uuid.UUID]()
	for _, leaf := range leaves {
		versions.Add(leaf.Version)
	}
	merged.SetMerges(versions)

	key := c.env.Resolver.Resolve(merged)
	perms, err := c.env.Auth.Perms(key, merged.Id(), merged.ParentId(), false)
	if err != nil {
		c.env.Log.Warn("merge write-back skipped: permission lookup failed",
			"object", merged.Id().String(), "err", err)
		WriteBackCount.WithLabelValues("error").Inc()
		return merged
	}
	if !perms.CanWrite(c.env.Rights) {
		WriteBackCount.WithLabelValues("denied").Inc()
		return merged
	}
	c.env.Bridge.MergeAsyncWithoutValidation(merged)
	WriteBackCount.WithLabelValues("queued").Inc()
	return merged
}
