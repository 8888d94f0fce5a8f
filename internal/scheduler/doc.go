// Package scheduler posts scheduled announcements to chat.
//
// # Schedule formats
//
//   - Cron expressions: 5-field (min hour dom mon dow) or 6-field with optional
//     seconds. Example: "0 * * * *" or "0 */5 * * * *".
//   - Cron descriptors: "@hourly", "@daily", "@every 55m".
//   - Interval durations: Go duration strings like "55m" or "2h30m".
//   - Interval HH:MM: "00:50" means every 50 minutes, "02:30" every 2 hours
//     30 minutes.
//
// To force interpretation, prefix the string with "cron:", "interval:", or
// "every:".
//
// # Lifecycle
//
// Jobs are registered under a stable name; registering a name again replaces
// the previous job, so config reloads can re-register everything. A run that
// is still going when its next trigger fires is skipped. Registering while
// stopped is supported: definitions apply on the next Start.
package scheduler
