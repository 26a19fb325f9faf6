package ate

import (
	"log/slog"
	"sync"

	"github.com/tokera-com/ate/utils"
)

type queuedSync struct {
	key   PartitionKey
	token SyncToken
}

// TransactionCoordinator collects the sync barriers a session still owes the
// log. Add may be called from any goroutine; Finish drains in FIFO order with
// one consumer at a time. Session lifecycle code calls OnSessionEnd so
// in-flight writes are flushed before the session boundary.
type TransactionCoordinator struct {
	bridge LogBridge
	log    utils.Logger

	lock    sync.Mutex
	pending []queuedSync

	// serializes competing Finish calls
	drain sync.Mutex
}

func NewTransactionCoordinator(bridge LogBridge, log utils.Logger) *TransactionCoordinator {
	if log == nil {
		log = utils.NewDefaultLogger(slog.LevelInfo)
	}
	return &TransactionCoordinator{bridge: bridge, log: log}
}

func (tc *TransactionCoordinator) Add(key PartitionKey, token SyncToken) {
	tc.lock.Lock()
	tc.pending = append(tc.pending, queuedSync{key: key, token: token})
	tc.lock.Unlock()
}

// Pending is the number of sync barriers not yet forwarded.
func (tc *TransactionCoordinator) Pending() int {
	tc.lock.Lock()
	defer tc.lock.Unlock()
	return len(tc.pending)
}

// Finish forwards every queued barrier to the log. On a sync failure the
// failed entry is requeued at the front and the error returned, so a later
// Finish retries from where this one stopped.
func (tc *TransactionCoordinator) Finish() error {
	tc.drain.Lock()
	defer tc.drain.Unlock()

	for {
		tc.lock.Lock()
		if len(tc.pending) == 0 {
			tc.lock.Unlock()
			return nil
		}
		head := tc.pending[0]
		tc.pending = tc.pending[1:]
		tc.lock.Unlock()

		if err := tc.bridge.Sync(head.key, head.token); err != nil {
			tc.lock.Lock()
			tc.pending = append([]queuedSync{head}, tc.pending...)
			tc.lock.Unlock()
			SyncCount.WithLabelValues("failed").Inc()
			return err
		}
		SyncCount.WithLabelValues("ok").Inc()
	}
}

// OnSessionEnd is the lifecycle callback; outstanding barriers are flushed
// opportunistically and a failure only logged.
func (tc *TransactionCoordinator) OnSessionEnd() {
	if err := tc.Finish(); err != nil {
		tc.log.Warn("session end: sync flush incomplete", "err", err)
	}
}
