// Package synctrigger abstracts the host facility that wakes queues when
// connectivity returns.
//
// A Trigger accepts tag registrations ("call me back for tag T") and
// delivers events to subscribed handlers. The Watcher implementation probes
// a URL on an interval and fires parked tags on the offline-to-online edge;
// hosts with a platform-native wakeup signal can provide their own Trigger
// instead. A handler error leaves the tag parked, so the next tick that finds
// the network online retries it — rescheduling lives here, not in the queue.
package synctrigger
