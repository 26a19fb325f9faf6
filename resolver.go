package ate

import "github.com/cespare/xxhash"

// HashResolver spreads objects over a fixed number of partitions by hashing
// the object id. Pure and total: the same record always lands on the same
// partition.
type HashResolver struct {
	Topic      string
	Partitions int64
}

func (h HashResolver) Resolve(rec Record) PartitionKey {
	partitions := h.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	oid := rec.Id()
	sum := xxhash.Sum64(oid[:])
	return PartitionKey{Topic: h.Topic, Index: int64(sum % uint64(partitions))}
}
