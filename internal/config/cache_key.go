package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID string) string {
	return fmt.Sprintf("login:%s", studentID)
}

// QuestionSetKey returns the cache key for a normalized question set.
// An empty source ref maps to the bank-wide set.
func (r *CacheKeyStruct) QuestionSetKey(sourceRef string) string {
	if sourceRef == "" {
		sourceRef = "all"
	}
	return fmt.Sprintf("questionbank:%s:questions", sourceRef)
}

var CacheKey = NewCacheKeyStruct()
