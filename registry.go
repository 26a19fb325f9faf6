package ate

import (
	"github.com/google/uuid"
	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/puzpuzpuz/xsync/v3"
)

type containerKey struct {
	key PartitionKey
	oid uuid.UUID
}

// Registry owns the containers. It is the delivery target of the log: the
// bridge drains raw message records into it and they are routed to the
// per-object graphs. The registry map is touched before any container lock,
// never the other way around.
type Registry struct {
	env        *Env
	containers *xsync.MapOf[containerKey, *Container]
}

func NewRegistry(env *Env) *Registry {
	return &Registry{
		env:        env,
		containers: xsync.NewMapOf[containerKey, *Container](),
	}
}

func (r *Registry) Get(key PartitionKey, oid uuid.UUID) (*Container, bool) {
	return r.containers.Load(containerKey{key: key, oid: oid})
}

func (r *Registry) GetOrCreate(key PartitionKey, oid uuid.UUID) *Container {
	container, _ := r.containers.LoadOrCompute(containerKey{key: key, oid: oid}, func() *Container {
		return NewContainer(key, r.env)
	})
	return container
}

// Size is the number of live containers.
func (r *Registry) Size() int {
	return r.containers.Size()
}

// Range visits every container; return false from f to stop.
func (r *Registry) Range(f func(key PartitionKey, oid uuid.UUID, c *Container) bool) {
	r.containers.Range(func(k containerKey, c *Container) bool {
		return f(k.key, k.oid, c)
	})
}

// Drain parses raw message records delivered for one topic and routes them to
// their containers. The partition index comes from each message's meta.
func (r *Registry) Drain(topic string, recs toyqueue.Records) error {
	for _, rec := range recs {
		dm, err := ParseDataMeta(rec)
		if err != nil {
			return err
		}
		key := PartitionKey{Topic: topic, Index: dm.Meta.Partition()}
		r.GetOrCreate(key, dm.Data.Header.ObjectId).Add(dm.Data, dm.Meta)
	}
	return nil
}
