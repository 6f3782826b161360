/*
Package events publishes the lifecycle of dispatched queries: one typed
event per transition (submitted, completed, failed, cancelled), each
carrying the payload of that transition rather than a generic metadata
bag.

Publish never blocks the dispatch path; a subscriber whose buffer is full
misses the event. Subscriptions are cancelled individually or torn down
together by closing the broker.
*/
package events
