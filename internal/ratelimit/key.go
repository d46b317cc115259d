package ratelimit

import "strings"

// Key builds a limiter key for one client subject, optionally scoped to
// the model key it is calling.
func Key(subject, modelKey string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ""
	}
	modelKey = strings.TrimSpace(modelKey)
	if modelKey == "" {
		return "c:" + subject
	}
	return "c:" + subject + ":k:" + modelKey
}
