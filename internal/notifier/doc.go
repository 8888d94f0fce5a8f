// Package notifier is the bot's outbound path.
//
// Handlers never write to the connection themselves: they produce Actions
// and the Service turns them into protocol lines under the chat cooldown.
//
// # Cooldown
//
// Twitch throttles accounts that post faster than roughly one message per
// 1.5 seconds in a room they do not moderate. Important actions (round
// reports, command answers) queue and wait; best-effort actions are dropped
// when the queue is not empty or the cooldown has not elapsed.
//
// # History
//
// For operator visibility, the service keeps a small in-memory history of
// recently sent messages.
package notifier
