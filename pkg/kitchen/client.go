package kitchen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the kitchen.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new kitchen client for the specified instance.
// The client automatically namespaces all keys and channels with the instance name.
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the instance this client is scoped to.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CreateRecipe persists a new recipe to the pending partition.
// Fails with ErrDuplicateID if a recipe with this ID exists in any partition.
//
// New recipes must arrive pending and in the Development stage: upstream
// drafting hands work to the pipeline, never part-way through it.
func (c *Client) CreateRecipe(ctx context.Context, r *Recipe) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid recipe: %w", err)
	}

	if r.Status != StatusPending {
		return fmt.Errorf("new recipes must be created pending, got %q", r.Status)
	}

	// Duplicate check spans every partition, not just pending
	for _, status := range AllStatuses {
		exists, err := c.RecipeExistsIn(ctx, status, r.ID)
		if err != nil {
			return fmt.Errorf("failed to check for existing recipe: %w", err)
		}
		if exists {
			return fmt.Errorf("recipe %s already exists in %s partition: %w", r.ID, status, ErrDuplicateID)
		}
	}

	now := time.Now().UnixMilli()
	if r.CreatedAtMs == 0 {
		r.CreatedAtMs = now
	}
	r.UpdatedAtMs = now

	if err := c.WriteRecipeTo(ctx, StatusPending, r); err != nil {
		return fmt.Errorf("failed to write recipe: %w", err)
	}

	return nil
}

// GetRecipe retrieves a recipe by ID, probing each status partition in fixed
// order. Returns (nil, redis.Nil) if the recipe doesn't exist anywhere.
// Use IsNotFound() to check for not-found errors.
func (c *Client) GetRecipe(ctx context.Context, recipeID string) (*Recipe, error) {
	recipe, _, err := c.LocateRecipe(ctx, recipeID)
	return recipe, err
}

// LocateRecipe retrieves a recipe and reports which status partition holds it.
// The partition, not the hash's status field, is authoritative: during a
// crashed transition the two can briefly disagree, and reconciliation trusts
// the key.
func (c *Client) LocateRecipe(ctx context.Context, recipeID string) (*Recipe, Status, error) {
	for _, status := range AllStatuses {
		recipe, err := c.GetRecipeIn(ctx, status, recipeID)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, "", err
		}
		return recipe, status, nil
	}
	return nil, "", redis.Nil
}

// GetRecipeIn retrieves a recipe from a specific status partition.
// Returns (nil, redis.Nil) if the recipe is not in that partition.
func (c *Client) GetRecipeIn(ctx context.Context, status Status, recipeID string) (*Recipe, error) {
	key := RecipeKey(c.instanceName, status, recipeID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	recipe, err := HashToRecipe(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize recipe: %w", err)
	}

	return recipe, nil
}

// RecipeExistsIn checks if a recipe exists in a status partition without
// fetching it.
func (c *Client) RecipeExistsIn(ctx context.Context, status Status, recipeID string) (bool, error) {
	key := RecipeKey(c.instanceName, status, recipeID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check recipe existence: %w", err)
	}
	return exists > 0, nil
}

// WriteRecipeTo writes a full recipe record into a status partition and adds
// it to the partition's created_at index. The recipe's Status field is forced
// to match the partition so the hash never contradicts its key.
//
// This is the low-level primitive the lifecycle manager's
// write-new-before-delete-old transition composes on. Idempotent: writing the
// same recipe twice is safe.
func (c *Client) WriteRecipeTo(ctx context.Context, status Status, r *Recipe) error {
	r.Status = status

	hash, err := RecipeToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize recipe: %w", err)
	}

	key := RecipeKey(c.instanceName, status, r.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return &WriteError{Op: "write recipe", Err: err}
	}

	index := StatusIndexKey(c.instanceName, status)
	z := redis.Z{Score: float64(r.CreatedAtMs), Member: r.ID}
	if err := c.rdb.ZAdd(ctx, index, z).Err(); err != nil {
		return &WriteError{Op: "index recipe", Err: err}
	}

	return nil
}

// DeleteRecipeFrom removes a recipe record and its index entry from a status
// partition. Idempotent: deleting an absent record is a no-op.
func (c *Client) DeleteRecipeFrom(ctx context.Context, status Status, recipeID string) error {
	key := RecipeKey(c.instanceName, status, recipeID)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return &WriteError{Op: "delete recipe", Err: err}
	}

	index := StatusIndexKey(c.instanceName, status)
	if err := c.rdb.ZRem(ctx, index, recipeID).Err(); err != nil {
		return &WriteError{Op: "deindex recipe", Err: err}
	}

	return nil
}

// UpdateRecipe replaces a recipe's record within its current partition (full
// HSET replacement). Used by the pipeline engine to update stage, revision and
// history fields as a recipe progresses. Status changes must go through the
// lifecycle manager instead.
func (c *Client) UpdateRecipe(ctx context.Context, status Status, r *Recipe) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid recipe: %w", err)
	}

	r.UpdatedAtMs = time.Now().UnixMilli()

	return c.WriteRecipeTo(ctx, status, r)
}

// ListByStatus returns every recipe in a status partition, ordered by
// created_at. The ZSET index deduplicates by recipe ID; index entries whose
// record has already moved on are skipped and lazily pruned.
func (c *Client) ListByStatus(ctx context.Context, status Status) ([]*Recipe, error) {
	if err := status.Validate(); err != nil {
		return nil, err
	}

	index := StatusIndexKey(c.instanceName, status)
	ids, err := c.rdb.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read status index: %w", err)
	}

	recipes := make([]*Recipe, 0, len(ids))
	for _, id := range ids {
		recipe, err := c.GetRecipeIn(ctx, status, id)
		if err != nil {
			if IsNotFound(err) {
				// Stale index entry from a completed transition
				c.rdb.ZRem(ctx, index, id)
				continue
			}
			return nil, err
		}
		recipes = append(recipes, recipe)
	}

	return recipes, nil
}

// ScanRecipeIDs returns the IDs of all recipes (in any partition) whose ID
// starts with the given prefix. Used by the CLI's short-ID resolver.
func (c *Client) ScanRecipeIDs(ctx context.Context, prefix string) ([]string, error) {
	seen := make(map[string]bool)
	var matches []string

	iter := c.rdb.Scan(ctx, 0, RecipeKeyPattern(c.instanceName), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		// Key shape: galley:{instance}:recipe:{status}:{id}
		parts := strings.Split(key, ":")
		id := parts[len(parts)-1]
		if strings.HasPrefix(id, prefix) && !seen[id] {
			seen[id] = true
			matches = append(matches, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan recipe keys: %w", err)
	}

	return matches, nil
}

// MarkStuck flags a recipe for external monitoring after capability retries
// were exhausted. The recipe stays in its current status partition: stuck is a
// flag, not a fifth status.
func (c *Client) MarkStuck(ctx context.Context, status Status, r *Recipe) error {
	r.Stuck = true
	if err := c.UpdateRecipe(ctx, status, r); err != nil {
		return err
	}

	if err := c.rdb.SAdd(ctx, StuckIndexKey(c.instanceName), r.ID).Err(); err != nil {
		return &WriteError{Op: "index stuck recipe", Err: err}
	}

	return nil
}

// ClearStuck removes the stuck flag, typically when a later advance attempt
// succeeds.
func (c *Client) ClearStuck(ctx context.Context, status Status, r *Recipe) error {
	r.Stuck = false
	if err := c.UpdateRecipe(ctx, status, r); err != nil {
		return err
	}

	if err := c.rdb.SRem(ctx, StuckIndexKey(c.instanceName), r.ID).Err(); err != nil {
		return &WriteError{Op: "deindex stuck recipe", Err: err}
	}

	return nil
}

// ListStuck returns the IDs of all recipes currently flagged stuck.
func (c *Client) ListStuck(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, StuckIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stuck index: %w", err)
	}
	return ids, nil
}

// releaseLockScript deletes the lock key only if the caller still owns it.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireRecipeLock takes the per-recipe advisory lock, blocking until it is
// acquired or the context is cancelled. Distinct recipes lock independently,
// so unrelated work proceeds concurrently. The returned token must be passed
// to ReleaseRecipeLock.
//
// The TTL guards against a crashed holder wedging the recipe forever; it
// should exceed the longest expected advance (capability timeout included).
func (c *Client) AcquireRecipeLock(ctx context.Context, recipeID string, ttl time.Duration) (string, error) {
	key := LockKey(c.instanceName, recipeID)
	token := uuid.New().String()

	for {
		ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("failed to acquire recipe lock: %w", err)
		}
		if ok {
			return token, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// ReleaseRecipeLock releases the advisory lock if the token still owns it.
// A lock that expired and was re-acquired by another holder is left alone.
func (c *Client) ReleaseRecipeLock(ctx context.Context, recipeID, token string) error {
	key := LockKey(c.instanceName, recipeID)
	if err := releaseLockScript.Run(ctx, c.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release recipe lock: %w", err)
	}
	return nil
}

// PublishRecipeEvent publishes a terminal-state event (published, rejected,
// stuck) for external notification collaborators.
func (c *Client) PublishRecipeEvent(ctx context.Context, event *RecipeEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal recipe event: %w", err)
	}

	channel := RecipeEventsChannel(c.instanceName)
	if err := c.rdb.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish recipe event: %w", err)
	}

	return nil
}

// EventSubscription represents an active Pub/Sub subscription to recipe events.
// Caller must call Close() when done to clean up resources.
type EventSubscription struct {
	events <-chan *RecipeEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of recipe events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *EventSubscription) Events() <-chan *RecipeEvent {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *EventSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *EventSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeRecipeEvents subscribes to terminal-state recipe events for this
// instance. Caller must call subscription.Close() when done. Context
// cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// Redis Pub/Sub is at-most-once: a slow subscriber may drop events.
func (c *Client) SubscribeRecipeEvents(ctx context.Context) (*EventSubscription, error) {
	channel := RecipeEventsChannel(c.instanceName)
	pubsub := c.rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *RecipeEvent, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event RecipeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal recipe event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &EventSubscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// AppendAudit appends a status-transition record to a recipe's audit trail.
// The trail is append-only and survives the recipe's moves between partitions.
func (c *Client) AppendAudit(ctx context.Context, recipeID string, entry *AuditEntry) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	key := AuditKey(c.instanceName, recipeID)
	if err := c.rdb.RPush(ctx, key, entryJSON).Err(); err != nil {
		return &WriteError{Op: "append audit", Err: err}
	}

	return nil
}

// AuditTrail returns a recipe's status-transition records in order.
func (c *Client) AuditTrail(ctx context.Context, recipeID string) ([]*AuditEntry, error) {
	key := AuditKey(c.instanceName, recipeID)
	raw, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}

	entries := make([]*AuditEntry, 0, len(raw))
	for _, item := range raw {
		var entry AuditEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

// AuditEntry is one status-transition record in a recipe's audit trail.
type AuditEntry struct {
	From        Status `json:"from"`
	To          Status `json:"to"`
	TimestampMs int64  `json:"timestamp_ms"`
	Notes       string `json:"notes,omitempty"`
}
