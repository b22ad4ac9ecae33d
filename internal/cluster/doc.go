// Package cluster provides the group communication substrate for Tessera:
// membership, rank assignment, and the two collectives (broadcast and
// aggregate) the pattern exchanger is built on.
//
// # Overview
//
// Every stream runs inside one combined group. Writers occupy ranks
// [0, W) and readers ranks [W, W+R). All members must call the same
// collectives in the same order; a collective blocks until every rank has
// contributed.
//
// # Architecture
//
// Collectives are matched by a Rendezvous, either in process or behind the
// hub:
//
//	┌──────────┐  ┌──────────┐  ┌──────────┐
//	│ writer 0 │  │ writer 1 │  │ reader 0 │
//	│  Client  │  │  Client  │  │  Client  │
//	└────┬─────┘  └────┬─────┘  └────┬─────┘
//	     │ POST /collective (long poll) │
//	     └──────────────┼──────────────┘
//	                    ▼
//	           ┌─────────────────┐
//	           │       Hub       │
//	           │   Rendezvous    │
//	           │ rounds by seq   │
//	           └─────────────────┘
//
// NewLocal builds n members sharing one Rendezvous for tests and
// single-process runs. Client talks to a hub over HTTP.
//
// # Core Components
//
// Group: the interface consumed by the exchanger
//   - Rank() and Size()
//   - Broadcast(ctx, buf, root) returns root's buffer on every rank
//   - Aggregate(ctx, local, root) gathers buffers at root in rank order
//
// Rendezvous: round matching
//   - Rounds are keyed by a per-member sequence number
//   - A member advances its sequence only when a round completes, so a
//     caller that timed out re-enters the same round
//   - Ranks that disagree on op or root fail the round
//   - Fail aborts every pending and future round
//
// Client: HTTP group member
//   - Register obtains a rank from the hub
//   - AwaitMembers polls until all expected members have registered
//   - Members exposes fetch addresses for the transport layer
//
// # Communication Protocol
//
// All hub traffic is JSON, compressed with brotli:
//
// Registration (POST /register):
//   - Member announces ID, role, HTTP address and fetch address
//   - Hub answers with the assigned rank and expected group sizes
//
// Membership (GET /members):
//   - Members in rank order, plus whether the group is complete
//
// Collective (POST /collective):
//   - Body carries seq, op, root, rank and the base64 payload
//   - Hub answers once the round completes
//   - 409 Conflict reports ErrCollectiveFailure
//
// # Failure Handling
//
// ErrCollectiveFailure is fatal for a stream. The hub's health monitor
// fails the rendezvous when a member stops answering health checks, which
// releases every blocked member with that error. Context cancellation is
// not a failure: the contribution stays registered and the caller may
// retry.
//
// # Usage Example
//
//	c := cluster.NewClient("http://hub:8080", cluster.MemberInfo{
//	    ID:        "writer-0",
//	    Role:      cluster.RoleWriter,
//	    Addr:      "10.0.0.5:9000",
//	    FetchAddr: "/ip4/10.0.0.5/tcp/9100",
//	}, logger)
//	if _, err := c.Register(ctx); err != nil {
//	    return err
//	}
//	if _, err := c.AwaitMembers(ctx, 100*time.Millisecond); err != nil {
//	    return err
//	}
//	buf, err := c.Broadcast(ctx, payload, 0)
package cluster
