package ate

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/tokera-com/ate/utils"
)

// Record is a deserialized data object. The setters exist so a merge result
// can be re-pointed at the frontier it collapses before it is written back.
type Record interface {
	Id() uuid.UUID
	ParentId() uuid.UUID
	Version() uuid.UUID
	PreviousVersion() uuid.UUID
	Merges() mapset.Set[uuid.UUID]
	SetVersion(v uuid.UUID)
	SetPreviousVersion(v uuid.UUID)
	SetMerges(merges mapset.Set[uuid.UUID])
}

// DataSerializer converts between log messages and typed records.
// Failures are exceptional and propagate unchanged.
type DataSerializer interface {
	FromDataMessage(key PartitionKey, msg *DataMeta, deep bool) (Record, error)
	ToDataMessage(rec Record) (*Data, error)
}

// MergePair feeds one frontier tip and its most recent known ancestor to the
// merger. Base is the zero value when the ancestor never arrived.
type MergePair[T any] struct {
	Base T
	Tip  T
}

// Merger reduces divergent tips to a single value. A nil return means
// "unmergeable" and surfaces as ErrMergeFailed.
type Merger interface {
	MergeHeaders(pairs []MergePair[*DataHeader]) *DataHeader
	MergeRecords(pairs []MergePair[Record]) Record
}

// Rights is what the current principal holds; write keys are opaque
// fingerprints matched against a header's allow-write list.
type Rights struct {
	WriteKeys []string
}

type Permissions struct {
	InheritWrite bool
	AllowWrite   []string
}

func (p Permissions) CanWrite(rights Rights) bool {
	for _, key := range rights.WriteKeys {
		for _, allowed := range p.AllowWrite {
			if key == allowed {
				return true
			}
		}
	}
	return false
}

type Authorization interface {
	Perms(key PartitionKey, id, parentId uuid.UUID, computeChildren bool) (Permissions, error)
}

// LogBridge is the write path back into the commit log.
// MergeAsyncWithoutValidation must not block the caller on I/O.
type LogBridge interface {
	MergeAsyncWithoutValidation(rec Record)
	Sync(key PartitionKey, token SyncToken) error
}

type PartitionResolver interface {
	Resolve(rec Record) PartitionKey
}

// SyncToken is an opaque barrier marker queued by the transaction coordinator.
type SyncToken struct {
	Ticks int64
}

// Env carries the collaborators a container needs; no ambient singletons.
type Env struct {
	Serializer DataSerializer
	Merger     Merger
	Auth       Authorization
	Bridge     LogBridge
	Resolver   PartitionResolver
	Rights     Rights
	Log        utils.Logger
}
