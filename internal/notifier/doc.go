// Package notifier is the async notification pipeline used by plugins.
//
// Notify validates and dedups a notification, then queues it. Workers drain
// the queue through a shared rate limiter and hand each message to the
// Sender registered for its channel, retrying with backoff. A small
// in-memory history keeps the last messages for the status API.
//
// Dedup can be persisted through the store so a restart does not resend a
// message that went out a minute ago.
package notifier
