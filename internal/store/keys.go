package store

import (
	"fmt"
	"strconv"
)

// Index keys.
const (
	activeSet   = "active"
	historyList = "history"
	chainNames  = "chain_names"
	memoryKeys  = "memory_keys"
	artifactIDs = "artifact_ids"
)

func sessionKey(id string) string    { return "sessions:" + id }
func hooksKey(id string) string      { return "sessions:" + id + ":hooks" }
func messagesKey(id string) string   { return "sessions:" + id + ":msgs" }
func activeToolKey(id string) string { return "sessions:" + id + ":active_tool" }
func pendingKey(id string) string    { return "sessions:" + id + ":pending" }
func answerKey(id string) string     { return "sessions:" + id + ":answer" }

func mappingKey(externalID string) string { return "claude:" + externalID }

func chainLinkKey(name string, ts int64) string {
	return fmt.Sprintf("chains:%s:%s", name, strconv.FormatInt(ts, 10))
}
func chainLinksKey(name string) string { return "chain:" + name + ":links" }

func memoryKey(key string) string { return "memories:" + key }

func artifactKey(id string) string     { return "artifacts:" + id }
func artifactTextKey(id string) string { return "artifacts:" + id + ":text" }
