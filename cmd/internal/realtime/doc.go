// Package realtime contains relay's WebSocket gateway and the connection registry
// that maps users and post topics to live connection ids.
//
// The registry is the single source of truth for "who is connected where". The
// gateway only ever receives connection ids or topic names assigned here.
package realtime
