package replication

import (
	"context"
	"time"

	"github.com/kuewdb/replicator/internal/message"
	"github.com/kuewdb/replicator/internal/queuesub"
	"github.com/kuewdb/replicator/internal/store"
)

// RecoverUndoSlot implements crash recovery's first step (component C8,
// SPEC_FULL.md §4.6 step 3): read and atomically remove the undo slot for
// (localNode, database); if a request was left there, re-execute it via
// the same execute/ship path a Receiver would use. The slot is already
// empty by the time the replay runs, so a failed replay is not retried. Failures
// are logged and swallowed — the receiver must still be able to start.
func RecoverUndoSlot(ctx context.Context, localNode, database string, engine store.Engine, bus *message.Bus, undoMaps queuesub.MapFactory, queueTimeout time.Duration) {
	undoMap, err := undoMaps.Map(message.UndoMapName(localNode, database))
	if err != nil {
		log.Errorf("crash recovery %s/%s: resolve undo map: %v", localNode, database, err)
		return
	}

	raw, ok, err := undoMap.Remove(ctx, database)
	if err != nil {
		log.Errorf("crash recovery %s/%s: read undo slot: %v", localNode, database, err)
		return
	}
	if !ok {
		log.Debugf("crash recovery %s/%s: undo slot empty, nothing to replay", localNode, database)
		return
	}

	wire, err := message.DecodeRequest(raw)
	if err != nil {
		log.Errorf("crash recovery %s/%s: decode stranded request: %v", localNode, database, err)
		return
	}

	log.Warningf("crash recovery %s/%s: re-executing stranded request %s", localNode, database, wire.RequestID)

	r := NewReceiver(ReceiverConfig{
		LocalNode:    localNode,
		Database:     database,
		Engine:       engine,
		Bus:          bus,
		UndoMaps:     undoMaps,
		QueueTimeout: queueTimeout,
	})
	resp, err := r.execute(ctx, wire)
	if err != nil {
		log.Errorf("crash recovery %s/%s: re-execute %s: %v", localNode, database, wire.RequestID, err)
		return
	}
	if err := r.ship(ctx, wire, resp); err != nil {
		log.Errorf("crash recovery %s/%s: ship response for %s: %v", localNode, database, wire.RequestID, err)
	}
}
