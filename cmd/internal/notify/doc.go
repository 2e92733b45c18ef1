// Package notify routes domain events to live realtime connections.
//
// The router owns the mapping from users and posts to connection ids and topics.
// Personal notifications are persisted before they are pushed; the stored row is
// the source of truth when a push is missed. Push failures never fail the caller.
package notify
