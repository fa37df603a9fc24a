package models

import "strings"

// BucketKey composes the counter key for a (principal, profile) pair.
// Identifier segments are sanitized so a user-controlled value containing
// ':' cannot collide with an adjacent bucket.
func BucketKey(identifier string, profile Profile) string {
	return "ratelimit:" + sanitizeSegment(identifier) + ":" + string(profile)
}

func sanitizeSegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
