// Package batch resolves a list of item IDs concurrently and returns the
// items in input order.
//
// Every ID gets its own lookup. Lookups that fail for any reason (network,
// decode, not found, timeout, cancellation) are logged, counted, and left
// out of the result; FetchBatch itself never fails. Completion order never
// leaks into the output: each lookup writes into the slot of its input
// position and the output walks the slots in order.
//
// Example usage:
//
//	fetcher := batch.NewFetcher(hnClient, batch.DefaultConfig())
//	items := fetcher.FetchBatch(ctx, story.Kids)
//
// By default one goroutine is started per ID. Setting MaxInFlight bounds
// the number of concurrent lookups with a worker pool fed from a queue.
package batch
