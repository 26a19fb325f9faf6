package chainlog

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/learn-decentralized-systems/toytlv"

	"github.com/tokera-com/ate"
	"github.com/tokera-com/ate/utils"
)

var ErrClosed = errors.New("chain log is closed")
var ErrNoSerializer = errors.New("chain log has no serializer for write-backs")

var WriteOptions = pebble.WriteOptions{Sync: false}

type Options struct {
	Topic      string
	Partitions int64

	// delivery target; appended and replayed messages land here
	Registry   *ate.Registry
	Serializer ate.DataSerializer
	Resolver   ate.PartitionResolver
	Logger     utils.Logger

	MergeQueueLimit int

	Options pebble.Options
}

func (o *Options) SetDefaults() {
	if o.Topic == "" {
		o.Topic = "ate"
	}
	if o.Partitions <= 0 {
		o.Partitions = 1
	}
	if o.MergeQueueLimit == 0 {
		o.MergeQueueLimit = 1 << 20
	}
	if o.Resolver == nil {
		o.Resolver = ate.HashResolver{Topic: o.Topic, Partitions: o.Partitions}
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
}

// ChainLog is a locally persisted shard set of the commit log: an
// append-only sequence of data messages per partition, stored in pebble under
// 'M'+partition+offset keys. It implements ate.LogBridge; reconciling
// write-backs go through an in-memory queue and never block the reader that
// produced them.
type ChainLog struct {
	db   *pebble.DB
	dir  string
	opts Options
	log  utils.Logger

	lock sync.Mutex
	next map[int64]int64

	mergeq  *toyqueue.RecordQueue
	feed    toyqueue.FeedCloser
	pending sync.WaitGroup
	done    sync.WaitGroup
	closed  atomic.Bool
}

func Open(dir string, opts Options) (*ChainLog, error) {
	opts.SetDefaults()
	db, err := pebble.Open(dir, &opts.Options)
	if err != nil {
		return nil, err
	}
	cl := &ChainLog{
		db:     db,
		dir:    dir,
		opts:   opts,
		log:    opts.Logger,
		next:   make(map[int64]int64),
		mergeq: &toyqueue.RecordQueue{Limit: opts.MergeQueueLimit},
	}
	if err = cl.scanOffsets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cl.feed = cl.mergeq.Blocking()
	cl.done.Add(1)
	go cl.drainMerges()
	return cl, nil
}

func msgKey(partition, offset int64) []byte {
	key := make([]byte, 0, 17)
	key = append(key, 'M')
	key = binary.BigEndian.AppendUint64(key, uint64(partition))
	key = binary.BigEndian.AppendUint64(key, uint64(offset))
	return key
}

func msgKeyParse(key []byte) (partition, offset int64, ok bool) {
	if len(key) != 17 || key[0] != 'M' {
		return 0, 0, false
	}
	partition = int64(binary.BigEndian.Uint64(key[1:9]))
	offset = int64(binary.BigEndian.Uint64(key[9:17]))
	return partition, offset, true
}

func (cl *ChainLog) scanOffsets() error {
	it, err := cl.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{'M'},
		UpperBound: []byte{'N'},
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		partition, offset, ok := msgKeyParse(it.Key())
		if !ok {
			continue
		}
		if offset >= cl.next[partition] {
			cl.next[partition] = offset + 1
		}
	}
	return it.Error()
}

// Append assigns the next offset on the partition, persists the message and
// delivers it to the registry. The returned meta is the one the container
// froze.
func (cl *ChainLog) Append(key ate.PartitionKey, data *ate.Data) (*ate.Meta, error) {
	if cl.closed.Load() {
		return nil, ErrClosed
	}

	cl.lock.Lock()
	offset := cl.next[key.Index]
	meta := ate.NewMeta(key.Index, offset, time.Now().UnixMilli())
	dm := &ate.DataMeta{Data: data, Meta: meta}
	err := cl.db.Set(msgKey(key.Index, offset), dm.TLV(), &WriteOptions)
	if err != nil {
		cl.lock.Unlock()
		AppendCount.WithLabelValues("error").Inc()
		return nil, err
	}
	cl.next[key.Index] = offset + 1
	if cl.opts.Registry != nil {
		cl.opts.Registry.GetOrCreate(key, data.Header.ObjectId).Add(data, meta)
	}
	cl.lock.Unlock()

	AppendCount.WithLabelValues("ok").Inc()
	return meta, nil
}

// Replay feeds every stored message of one partition to the registry in
// offset order. Replaying after a restart reconstructs each container
// deterministically.
func (cl *ChainLog) Replay(key ate.PartitionKey) error {
	if cl.closed.Load() {
		return ErrClosed
	}
	it, err := cl.db.NewIter(&pebble.IterOptions{
		LowerBound: msgKey(key.Index, 0),
		UpperBound: msgKey(key.Index+1, 0),
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		value := make([]byte, len(it.Value()))
		copy(value, it.Value())
		if err := cl.opts.Registry.Drain(key.Topic, toyqueue.Records{value}); err != nil {
			return err
		}
		ReplayCount.Inc()
	}
	return it.Error()
}

// ReplayAll replays every partition seen on disk.
func (cl *ChainLog) ReplayAll() error {
	cl.lock.Lock()
	partitions := make([]int64, 0, len(cl.next))
	for partition := range cl.next {
		partitions = append(partitions, partition)
	}
	cl.lock.Unlock()
	for _, partition := range partitions {
		if err := cl.Replay(ate.PartitionKey{Topic: cl.opts.Topic, Index: partition}); err != nil {
			return err
		}
	}
	return nil
}

// MergeAsyncWithoutValidation queues a reconciled record for persistence.
// Fire-and-forget: serialization or append failures are logged and dropped,
// never surfaced to the read path that produced the merge.
func (cl *ChainLog) MergeAsyncWithoutValidation(rec ate.Record) {
	if cl.closed.Load() {
		MergeWriteCount.WithLabelValues("dropped").Inc()
		return
	}
	if cl.opts.Serializer == nil {
		cl.log.Warn("merge write-back dropped", "err", ErrNoSerializer)
		MergeWriteCount.WithLabelValues("dropped").Inc()
		return
	}
	data, err := cl.opts.Serializer.ToDataMessage(rec)
	if err != nil {
		cl.log.Warn("merge write-back dropped: serialize failed",
			"object", rec.Id().String(), "err", err)
		MergeWriteCount.WithLabelValues("dropped").Inc()
		return
	}
	key := cl.opts.Resolver.Resolve(rec)
	envelope := toytlv.Concat(
		toytlv.Record('K', keyBytes(key)),
		data.TLV(),
	)
	cl.pending.Add(1)
	if err := cl.mergeq.Drain(toyqueue.Records{envelope}); err != nil {
		cl.pending.Done()
		cl.log.Warn("merge write-back dropped: queue refused", "err", err)
		MergeWriteCount.WithLabelValues("dropped").Inc()
	}
}

func keyBytes(key ate.PartitionKey) []byte {
	b := binary.BigEndian.AppendUint64(nil, uint64(key.Index))
	return append(b, key.Topic...)
}

func keyParse(body []byte) (ate.PartitionKey, bool) {
	if len(body) < 8 {
		return ate.PartitionKey{}, false
	}
	return ate.PartitionKey{
		Topic: string(body[8:]),
		Index: int64(binary.BigEndian.Uint64(body[0:8])),
	}, true
}

func (cl *ChainLog) drainMerges() {
	defer cl.done.Done()
	for {
		recs, err := cl.feed.Feed()
		if err != nil {
			// queue closed; drop whatever never arrived
			return
		}
		for _, rec := range recs {
			cl.applyMerge(rec)
			cl.pending.Done()
		}
	}
}

func (cl *ChainLog) applyMerge(rec []byte) {
	kbody, rest := toytlv.Take('K', rec)
	if kbody == nil {
		cl.log.Warn("merge write-back dropped: bad envelope")
		MergeWriteCount.WithLabelValues("failed").Inc()
		return
	}
	key, ok := keyParse(kbody)
	if !ok {
		cl.log.Warn("merge write-back dropped: bad partition key")
		MergeWriteCount.WithLabelValues("failed").Inc()
		return
	}
	data, _, err := ate.ParseData(rest)
	if err != nil {
		cl.log.Warn("merge write-back dropped: bad message", "err", err)
		MergeWriteCount.WithLabelValues("failed").Inc()
		return
	}
	if _, err = cl.Append(key, data); err != nil {
		cl.log.Warn("merge write-back failed", "err", err)
		MergeWriteCount.WithLabelValues("failed").Inc()
		return
	}
	MergeWriteCount.WithLabelValues("applied").Inc()
}

// Sync is the barrier behind TransactionCoordinator.Finish: it returns once
// every write-back queued before the call has been applied or dropped.
func (cl *ChainLog) Sync(key ate.PartitionKey, token ate.SyncToken) error {
	if cl.closed.Load() {
		return ErrClosed
	}
	cl.pending.Wait()
	return nil
}

func (cl *ChainLog) Close() error {
	if !cl.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	_ = cl.mergeq.Close()
	cl.done.Wait()
	return cl.db.Close()
}
