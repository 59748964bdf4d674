// Package kitchen provides type-safe Go definitions and Redis schema patterns
// for the Galley recipe workflow. The kitchen is the shared state system where
// all Galley components (pipeline engine, CLI, external publishers) interact via
// well-defined data structures stored in Redis.
//
// Recipes are partitioned by lifecycle status: a recipe's Redis key embeds its
// current status, so a recipe lives at exactly one key at any observable instant.
// Messages between the creative team's personas are append-only and addressed;
// they double as the audit trail for the published behind-the-scenes story.
//
// All Redis keys and channels are namespaced by instance name to enable multiple
// Galley instances to safely coexist on a single Redis server.
package kitchen
