// Package scheduler registers named triggers (cron or one-shot) and
// enqueues their jobs into the task engine. It never runs jobs itself.
//
// Names are unique: registering a name again replaces the previous trigger,
// whatever its kind. Check-in plugins rely on this for retry jobs.
package scheduler
