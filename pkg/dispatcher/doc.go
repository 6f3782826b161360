/*
Package dispatcher implements the broker-side query dispatcher of the Prism
multi-stage engine.

A client hands the dispatcher a DispatchableSubPlan: an ordered list of
stage plans, each pinned to a set of servers. Stage 0 is the reduce stage
and runs locally; stages 1..N are serialized, bundled per server, and fanned
out in parallel under one shared wall-clock deadline.

	┌──────────────────── SUBMIT AND REDUCE ───────────────────┐
	│                                                           │
	│  SubmitAndReduce(requestID, subPlan, timeout, options)    │
	│        │                                                  │
	│        ▼                                                  │
	│  serializer pool (2·CPU workers)                          │
	│   stage plans ──► (rootBytes, propertyBytes) per stage    │
	│        │                                                  │
	│        ▼                                                  │
	│  per-server request assembly                              │
	│   only the stages the server participates in,             │
	│   only its worker metadata, 1-based wire stage ids        │
	│        │                                                  │
	│        ▼                                                  │
	│  fan-out: async RPC per server, bounded response          │
	│  channel, serial drain, first error wins                  │
	│        │                                                  │
	│        ▼                                                  │
	│  reduce: stage-0 mailbox receive, block drain,            │
	│  schema projection, value externalization, stats          │
	│        │                                                  │
	│        ▼                                                  │
	│  QueryResult(table, perStageStats, reduceMillis)          │
	│                                                           │
	│  any error ──► cancel every remote server (best effort)   │
	└───────────────────────────────────────────────────────────┘

Explain fans a single stage out with the explain operation and decodes the
returned fragment trees. SubmitAndGet is the single-server time-series
variant; it never returns an error, translating every failure into an
error-shaped response instead.

The dispatcher owns three process-wide resources: the two client pools and
the serializer worker pool. All three are released in Shutdown, along with
the mailbox service.
*/
package dispatcher
