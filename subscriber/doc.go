// Package subscriber polls the cell indexer on behalf of registered queries
// and publishes what changed.
//
// The remote indexer has no push interface, so the subscriber re-runs every
// registered query over the blocks that arrived since its previous tick and
// publishes the new cells as one "changed" event per subscription.
//
// Key Components:
//
// Subscriber:
//   - Holds the registered emitters, one per Subscribe call
//   - Runs Poll on an internal/loop Loop; ticks never overlap
//   - Publishes through a pubsub.PubSub, so listeners may live in-process
//     (channels://) or in another process (redis://)
//   - Optionally persists each named emitter's position in a store.Store so
//     a restarted process resumes where it stopped
//
// Poll:
//  1. Fetch the indexer tip.
//  2. For each emitter, query the blocks after its last scanned block up to
//     the tip and publish the cells found. The position only advances once
//     the publish succeeded, so a failed tick retries the same range.
//  3. Publish the node's median time if anyone subscribed to it.
//
// Example Usage:
//
//	sub := subscriber.New(idx, node, ps)
//	s, err := sub.Subscribe(ctx, subscriber.SubscribeOptions{
//	    Query: query.QueryOptions{Lock: query.Lock(lock)},
//	})
//	if err != nil {
//	    return err
//	}
//	s.OnChange(func(e subscriber.ChangeEvent) {
//	    log.Printf("%d new cells in blocks %s-%s", len(e.Cells), e.FromBlock, e.ToBlock)
//	})
//	sub.StartForever(ctx)
//	defer sub.Stop()
package subscriber
