package ate

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// PartitionKey selects one shard of the underlying commit log.
type PartitionKey struct {
	Topic string
	Index int64
}

// DataHeader describes one revision of a logical object. PreviousVersion is
// uuid.Nil when the revision has no declared parent; Merges carries the extra
// parents when the revision was itself produced by merging divergent tips.
type DataHeader struct {
	ObjectId        uuid.UUID
	Version         uuid.UUID
	PreviousVersion uuid.UUID
	Merges          mapset.Set[uuid.UUID]
	PayloadClass    string
	InheritWrite    bool
	AllowWrite      []string
}

func NewDataHeader(oid, version, prev uuid.UUID, payloadClass string) *DataHeader {
	return &DataHeader{
		ObjectId:        oid,
		Version:         version,
		PreviousVersion: prev,
		Merges:          mapset.NewSet[uuid.UUID](),
		PayloadClass:    payloadClass,
	}
}

// Data is a single message body on the log. A nil payload is a
// tombstone-like message: no content, still part of the version graph.
type Data struct {
	Header  *DataHeader
	Payload []byte
}

func (d *Data) HasPayload() bool {
	return d.Payload != nil
}

// Meta is the log coordinate of a message. It is mutable while the message
// travels through the delivery path and frozen once a container owns it.
type Meta struct {
	partition int64
	offset    int64
	timestamp int64
	frozen    bool
}

func NewMeta(partition, offset, timestamp int64) *Meta {
	return &Meta{partition: partition, offset: offset, timestamp: timestamp}
}

func (m *Meta) Partition() int64 { return m.partition }
func (m *Meta) Offset() int64    { return m.offset }
func (m *Meta) Timestamp() int64 { return m.timestamp }

func (m *Meta) SetPartition(partition int64) {
	m.mustThaw()
	m.partition = partition
}

func (m *Meta) SetOffset(offset int64) {
	m.mustThaw()
	m.offset = offset
}

func (m *Meta) SetTimestamp(timestamp int64) {
	m.mustThaw()
	m.timestamp = timestamp
}

// Freeze marks the meta read-only. Any later Set panics.
func (m *Meta) Freeze() {
	m.frozen = true
}

func (m *Meta) Frozen() bool { return m.frozen }

func (m *Meta) mustThaw() {
	if m.frozen {
		panic("ate: meta is frozen")
	}
}

// DataMeta pairs a message with its log coordinate; the unit a container ingests.
type DataMeta struct {
	Data *Data
	Meta *Meta
}

func (dm *DataMeta) Version() uuid.UUID {
	return dm.Data.Header.Version
}
