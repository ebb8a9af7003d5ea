// Package meshcore assembles the policy, community, ingest, sync, signing,
// destroy, decode, and endpoint packages into a single running node: the
// top-level type a caller embeds to join and participate in a community
// over a transport (spec §2 SYSTEM OVERVIEW, §5 CONCURRENCY & RESOURCE
// MODEL).
//
// A typical caller constructs a store, opens a Node against it and a
// transport, joins a Community, and runs the node's receive loop:
//
//	s, err := store.Open("node.db")
//	ep, err := endpoint.NewUDP("0.0.0.0", 7200)
//	node := meshcore.New(s, ep, 8)
//
//	comm := community.New(masterID, myID)
//	if err := node.Join(comm); err != nil { ... }
//
//	ctx, cancel := context.WithCancel(context.Background())
//	go node.Run(ctx)
//	// ... later
//	cancel()
//	node.Close()
//
// Package-level responsibilities are split the way the teacher splits a
// running client into cooperating subsystems rather than one monolith:
// runtime.Runtime owns the event loop and suspension points, decode.Decoder
// classifies inbound wire packets, ingest.Tracker/BatchScheduler own
// admission and commit batching, syncresp.Responder answers sync requests,
// signing.Coordinator runs the double-signed protocol, and destroy.Handler
// applies hard/soft community kill. Node's job is solely to wire these
// together around one Endpoint and drive the receive loop; it holds no
// business logic of its own.
package meshcore
