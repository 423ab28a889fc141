// Package signin holds what both forum check-in plugins share: the outcome
// and record model, retention-pruned history, the retry state machine and
// the Runner that sequences one check-in.
//
// A plugin supplies a Signer that performs the forum-specific HTTP calls and
// classifies the answer. Everything after that (history, notification,
// retry scheduling, events) happens here, so the two plugins behave the
// same way.
package signin
