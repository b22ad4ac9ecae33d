// Package coordinator implements the hub of a tessera stream: it assigns
// group ranks to writer and reader processes, matches their collective
// rounds, and fails the stream when a member stops answering.
//
// # Overview
//
// Writers and readers never talk to each other through the hub for bulk
// data; they fetch step regions straight from writers. The hub only carries
// the small metadata collectives of the step protocol (pattern broadcasts
// and aggregations), which makes it the stream's control plane:
//
//	┌─────────────────────────────────────┐
//	│               HUB                   │
//	├─────────────────────────────────────┤
//	│  ┌──────────────────────────────┐   │
//	│  │   MemberRegistry             │   │
//	│  │   - writers → [0, W)         │   │
//	│  │   - readers → [W, W+R)       │   │
//	│  └──────────────────────────────┘   │
//	│  ┌──────────────────────────────┐   │
//	│  │   Rendezvous                 │   │
//	│  │   - one round per seq        │   │
//	│  │   - broadcast / aggregate    │   │
//	│  └──────────────────────────────┘   │
//	│  ┌──────────────────────────────┐   │
//	│  │   HealthMonitor              │   │
//	│  │   - periodic /health probes  │   │
//	│  │   - fails the rendezvous     │   │
//	│  └──────────────────────────────┘   │
//	└─────────────────────────────────────┘
//
// # HTTP API
//
//	POST /register    RegisterRequest  → RegisterResponse
//	GET  /members                      → MembersResponse
//	POST /collective  CollectiveRequest → CollectiveResponse (long poll)
//	GET  /health                       → 200, or 503 once the stream failed
//
// Bodies are JSON, brotli-compressed when the client asks for it. A
// collective that cannot complete answers 409 Conflict; clients surface it
// as cluster.ErrCollectiveFailure.
//
// # Failure Handling
//
// The step protocol has no way to continue without one of its ranks. When
// the HealthMonitor marks a member unhealthy (maxFailures consecutive
// failed probes), the hub fails its rendezvous: every blocked and future
// collective returns an error, and the engines on every member abort their
// current step.
//
// # Usage Example
//
//	monitor := coordinator.NewHealthMonitor(2*time.Second, 3, logger)
//	hub, err := coordinator.NewServer(writers, readers, monitor, logger)
//	if err != nil {
//	    return err
//	}
//	hub.StartMonitor(ctx)
//	srv := &http.Server{Addr: ":8080", Handler: hub.Handler()}
//	go srv.ListenAndServe()
package coordinator
