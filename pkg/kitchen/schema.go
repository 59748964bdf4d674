package kitchen

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to enable
// multiple Galley instances to safely coexist on a single Redis server.
//
// Key pattern: galley:{instance_name}:{entity}:...
// Channel pattern: galley:{instance_name}:{event_type}_events
//
// A recipe's key embeds its status, so the key itself is the status partition:
// moving a recipe between statuses means writing the new key and deleting the
// old one, never mutating a status field in place.

// RecipeKey returns the Redis key for a recipe in a given status partition.
// Pattern: galley:{instance_name}:recipe:{status}:{recipe_id}
func RecipeKey(instanceName string, status Status, recipeID string) string {
	return fmt.Sprintf("galley:%s:recipe:%s:%s", instanceName, status, recipeID)
}

// StatusIndexKey returns the Redis key for a status partition's ZSET index.
// Members are recipe IDs scored by created_at_ms, giving list-by-status its
// creation order for free.
// Pattern: galley:{instance_name}:status:{status}
func StatusIndexKey(instanceName string, status Status) string {
	return fmt.Sprintf("galley:%s:status:%s", instanceName, status)
}

// AuditKey returns the Redis key for a recipe's status-transition audit list.
// Pattern: galley:{instance_name}:audit:{recipe_id}
func AuditKey(instanceName, recipeID string) string {
	return fmt.Sprintf("galley:%s:audit:%s", instanceName, recipeID)
}

// MessageKey returns the Redis key for a message.
// Pattern: galley:{instance_name}:message:{message_id}
func MessageKey(instanceName, messageID string) string {
	return fmt.Sprintf("galley:%s:message:%s", instanceName, messageID)
}

// MailboxKey returns the Redis key for a persona's mailbox list.
// Messages are RPUSHed, so LRANGE returns arrival order.
// Pattern: galley:{instance_name}:mailbox:{agent_name}
func MailboxKey(instanceName, agentName string) string {
	return fmt.Sprintf("galley:%s:mailbox:%s", instanceName, agentName)
}

// DiscussionKey returns the Redis key for a recipe's cross-agent discussion ZSET.
// Members are message IDs scored by sequence number.
// Pattern: galley:{instance_name}:discussion:{recipe_id}
func DiscussionKey(instanceName, recipeID string) string {
	return fmt.Sprintf("galley:%s:discussion:%s", instanceName, recipeID)
}

// ContactsKey returns the Redis key for the set of personas who have ever
// messaged the named persona. This backs the reply-only rule: a persona may
// reply only to someone already in its contacts set.
// Pattern: galley:{instance_name}:contacts:{agent_name}
func ContactsKey(instanceName, agentName string) string {
	return fmt.Sprintf("galley:%s:contacts:%s", instanceName, agentName)
}

// AgentsKey returns the Redis key for the registered-persona set.
// Pattern: galley:{instance_name}:agents
func AgentsKey(instanceName string) string {
	return fmt.Sprintf("galley:%s:agents", instanceName)
}

// MessageSeqKey returns the Redis key for the message sequence counter (INCR).
// Pattern: galley:{instance_name}:message_seq
func MessageSeqKey(instanceName string) string {
	return fmt.Sprintf("galley:%s:message_seq", instanceName)
}

// LockKey returns the Redis key for a recipe's advisory lock.
// Pattern: galley:{instance_name}:lock:{recipe_id}
func LockKey(instanceName, recipeID string) string {
	return fmt.Sprintf("galley:%s:lock:%s", instanceName, recipeID)
}

// StuckIndexKey returns the Redis key for the stuck-recipe set.
// Pattern: galley:{instance_name}:stuck
func StuckIndexKey(instanceName string) string {
	return fmt.Sprintf("galley:%s:stuck", instanceName)
}

// RecipeEventsChannel returns the Pub/Sub channel name for terminal-state
// recipe events (published, rejected, stuck).
// Pattern: galley:{instance_name}:recipe_events
func RecipeEventsChannel(instanceName string) string {
	return fmt.Sprintf("galley:%s:recipe_events", instanceName)
}

// RecipeKeyPattern returns the SCAN pattern matching every recipe key in every
// status partition for an instance.
func RecipeKeyPattern(instanceName string) string {
	return fmt.Sprintf("galley:%s:recipe:*", instanceName)
}
