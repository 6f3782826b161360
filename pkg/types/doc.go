/*
Package types defines the data model shared across the Prism broker: server
instances and worker metadata, partitioned stage plans, result schemas and
tables, and per-stage execution statistics.

A DispatchableSubPlan is an ordered list of StagePlans produced by the
planner. Stage 0 is the reduce stage and executes broker-side; its root is
always a mailbox-receive node with a single worker (the broker itself).
Stages 1..N are shipped to the worker servers named by each stage's
Workers map.
*/
package types
