// Package health decides whether stored keys are usable.
//
// A Checker probes the upstream model listing endpoint with a key and hands
// the outcome to a Classifier, which produces an immutable Verdict. The
// rules are evaluated in order:
//
//  1. the probe did not complete: CHECK_ERROR
//  2. HTTP 429, error code 429, RESOURCE_EXHAUSTED, or a quota indicator
//     in the error message: QUOTA_EXCEEDED (valid, no quota)
//  3. HTTP or error code 400/401/403, or an invalid-key indicator:
//     INVALID_KEY
//  4. any other non-2xx: UNKNOWN_ERROR
//  5. 2xx: KEY_VALID
//
// Persisting a verdict always records quota status and check metadata. The
// key's Enabled flag follows the verdict except after CHECK_ERROR, so an
// outage of the probe path never disables a healthy key.
//
// BatchChecker applies the same check to every stored key, serially and
// paced, and Scheduler runs it on a cron schedule.
package health
