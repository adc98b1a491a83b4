// Package bridge is the interaction side of the cross-context bridge.
//
// Forward direction: Client.Update hands a property map to the scheduler
// inbox; Client.UpdateBatch hands over a whole frame as one entry so it is
// applied by a single flush. Neither blocks or reports per-target failures;
// updates from one goroutine arrive in the order they were sent.
//
// Backward direction: the scheduler reports settle notifications (and,
// when subscribed, drops) to an Endpoint on the presentation goroutine.
// The Endpoint only enqueues; Client.Run pumps the queue on the interaction
// goroutine and invokes the per-target completion callbacks supplied with
// the updates the target settled on (or before).
//
// Wiring:
//
//	ep := bridge.NewEndpoint()
//	sched, err := scheduler.New(tree, ep, scheduler.WithDropHandler(ep.Dropped))
//	client := bridge.New(sched, ep)
//	go client.Run(ctx)
package bridge
