// Package idempotency deduplicates submissions that carry the same
// Idempotency-Key.
//
// For each (scope, key) pair the coordinator moves through three states:
//
//	no entry --Begin--> locked --Commit--> committed
//	                    locked --Rollback--> no entry
//
// The lock is a random token stored with SetIfAbsent and released only with
// CompareAndDelete, so a request whose lock expired cannot release a newer
// holder's lock. A committed result is written with SetIfAbsent and is never
// overwritten; it is replayed verbatim until the result TTL expires.
package idempotency
