package ate

import (
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// in-memory collaborators shared by the tests in this package

type testRecord struct {
	oid    uuid.UUID
	parent uuid.UUID
	ver    uuid.UUID
	prev   uuid.UUID
	merges mapset.Set[uuid.UUID]
	value  string
}

func (r *testRecord) Id() uuid.UUID              { return r.oid }
func (r *testRecord) ParentId() uuid.UUID        { return r.parent }
func (r *testRecord) Version() uuid.UUID         { return r.ver }
func (r *testRecord) PreviousVersion() uuid.UUID { return r.prev }

func (r *testRecord) Merges() mapset.Set[uuid.UUID] {
	if r.merges == nil {
		r.merges = mapset.NewSet[uuid.UUID]()
	}
	return r.merges
}

func (r *testRecord) SetVersion(v uuid.UUID)                 { r.ver = v }
func (r *testRecord) SetPreviousVersion(v uuid.UUID)         { r.prev = v }
func (r *testRecord) SetMerges(merges mapset.Set[uuid.UUID]) { r.merges = merges }

var errSerializerBoom = errors.New("serializer exploded")

type testSerializer struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *testSerializer) FromDataMessage(key PartitionKey, msg *DataMeta, deep bool) (Record, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.fail {
		return nil, errSerializerBoom
	}
	h := msg.Data.Header
	return &testRecord{
		oid:    h.ObjectId,
		ver:    h.Version,
		prev:   h.PreviousVersion,
		merges: h.Merges,
		value:  string(msg.Data.Payload),
	}, nil
}

func (s *testSerializer) ToDataMessage(rec Record) (*Data, error) {
	if s.fail {
		return nil, errSerializerBoom
	}
	tr := rec.(*testRecord)
	h := NewDataHeader(tr.oid, tr.ver, tr.prev, "MyAccount")
	h.Merges = rec.Merges()
	h.AllowWrite = []string{"key-1"}
	return &Data{Header: h, Payload: []byte(tr.value)}, nil
}

func (s *testSerializer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testMerger struct {
	headerPairs []MergePair[*DataHeader]
	recordPairs []MergePair[Record]
	failHeader  bool
	failRecord  bool
}

func (m *testMerger) MergeHeaders(pairs []MergePair[*DataHeader]) *DataHeader {
	m.headerPairs = pairs
	if m.failHeader {
		return nil
	}
	return pairs[len(pairs)-1].Tip
}

func (m *testMerger) MergeRecords(pairs []MergePair[Record]) Record {
	m.recordPairs = pairs
	if m.failRecord {
		return nil
	}
	merged := &testRecord{oid: pairs[0].Tip.Id()}
	for i, pair := range pairs {
		if i > 0 {
			merged.value += "+"
		}
		merged.value += pair.Tip.(*testRecord).value
	}
	return merged
}

type testAuth struct {
	deny bool
	err  error
}

func (a *testAuth) Perms(key PartitionKey, id, parentId uuid.UUID, computeChildren bool) (Permissions, error) {
	if a.err != nil {
		return Permissions{}, a.err
	}
	if a.deny {
		return Permissions{}, nil
	}
	return Permissions{AllowWrite: []string{"key-1"}}, nil
}

type testBridge struct {
	mu      sync.Mutex
	merged  []Record
	syncs   []SyncToken
	syncErr error
}

func (b *testBridge) MergeAsyncWithoutValidation(rec Record) {
	b.mu.Lock()
	b.merged = append(b.merged, rec)
	b.mu.Unlock()
}

func (b *testBridge) Sync(key PartitionKey, token SyncToken) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.syncErr != nil {
		return b.syncErr
	}
	b.syncs = append(b.syncs, token)
	return nil
}

func (b *testBridge) mergedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.merged)
}

type testFixture struct {
	env    *Env
	ser    *testSerializer
	merger *testMerger
	auth   *testAuth
	bridge *testBridge
}

func newTestFixture() *testFixture {
	f := &testFixture{
		ser:    &testSerializer{},
		merger: &testMerger{},
		auth:   &testAuth{},
		bridge: &testBridge{},
	}
	f.env = &Env{
		Serializer: f.ser,
		Merger:     f.merger,
		Auth:       f.auth,
		Bridge:     f.bridge,
		Resolver:   HashResolver{Topic: "test", Partitions: 4},
		Rights:     Rights{WriteKeys: []string{"key-1"}},
	}
	return f
}

var testKey = PartitionKey{Topic: "test", Index: 0}

func testHeader(oid, version, prev uuid.UUID) *DataHeader {
	return NewDataHeader(oid, version, prev, "MyAccount")
}

func tombstone(version, prev uuid.UUID) *Data {
	return &Data{Header: testHeader(uuid.New(), version, prev)}
}

func payload(version, prev uuid.UUID, body string) *Data {
	return &Data{Header: testHeader(uuid.New(), version, prev), Payload: []byte(body)}
}

func meta0() *Meta {
	return NewMeta(0, 0, 0)
}

// checkFrontier asserts that leaves are exactly the versions no other node
// declares as prior or merge parent. It checks size and membership only, not
// the order of the leaves.
func checkFrontier(c *Container) error {
	c.lock.RLock()
	defer c.lock.RUnlock()

	expected := make(map[uuid.UUID]bool, len(c.lookup))
	for v := range c.lookup {
		expected[v] = true
	}
	for _, n := range c.lookup {
		if n.PreviousVersion != uuid.Nil {
			delete(expected, n.PreviousVersion)
		}
		n.Merges.Each(func(m uuid.UUID) bool {
			delete(expected, m)
			return false
		})
	}
	if len(c.leaves) != len(expected) {
		return fmt.Errorf("frontier size %d, want %d", len(c.leaves), len(expected))
	}
	for _, leaf := range c.leaves {
		if !expected[leaf.Version] {
			return fmt.Errorf("unexpected leaf %s", leaf.Version)
		}
	}
	return nil
}
