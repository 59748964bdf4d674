package kitchen

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message bus operations
//
// The bus is an addressed, append-only log. Each persona has a mailbox
// (arrival-ordered list of message IDs) and a contacts set recording who has
// ever messaged it; the contacts set backs the reply-only rule without any
// mutable conversation object. Per-recipe discussions are ZSETs scored by the
// message sequence number, giving History its chronological cross-agent order.

// RegisterTeam registers the named personas as valid message senders and
// recipients. Registration is idempotent.
func (c *Client) RegisterTeam(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}

	members := make([]interface{}, len(names))
	for i, n := range names {
		if n == "" {
			return fmt.Errorf("persona name cannot be empty")
		}
		members[i] = n
	}

	if err := c.rdb.SAdd(ctx, AgentsKey(c.instanceName), members...).Err(); err != nil {
		return fmt.Errorf("failed to register team: %w", err)
	}

	return nil
}

// AgentRegistered checks whether a persona name is registered.
func (c *Client) AgentRegistered(ctx context.Context, name string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, AgentsKey(c.instanceName), name).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check agent registration: %w", err)
	}
	return ok, nil
}

// SendMessage appends a message to the log and makes it visible in the
// recipient's mailbox before returning. Fails with ErrUnknownRecipient if
// either persona is unregistered.
//
// Sending is reserved for designated initiators (the pipeline engine and the
// upstream drafting process); everyone else converses via Reply.
func (c *Client) SendMessage(ctx context.Context, sender, recipient string, msgType MessageType, content, recipeID string) (*Message, error) {
	return c.appendMessage(ctx, sender, recipient, msgType, content, recipeID, "")
}

// Reply appends a message from agentName to the sender of the referenced
// message. It succeeds only if that sender has previously messaged agentName;
// otherwise it fails with ErrUnsolicitedReply. This enforces that personas
// never initiate contact with a party who has never messaged them.
func (c *Client) Reply(ctx context.Context, agentName, inReplyToID, content string) (*Message, error) {
	original, err := c.GetMessage(ctx, inReplyToID)
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("message %s does not exist: %w", inReplyToID, ErrUnsolicitedReply)
		}
		return nil, err
	}

	// The originator must have contacted this persona at some point. Checking
	// the contacts set (rather than original.Recipient alone) also admits
	// replying to a sender's broadcast seen via a recipe discussion, as long
	// as that sender has messaged this persona before.
	known, err := c.rdb.SIsMember(ctx, ContactsKey(c.instanceName, agentName), original.Sender).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check contacts: %w", err)
	}
	if !known {
		return nil, fmt.Errorf("%q has never been messaged by %q: %w", agentName, original.Sender, ErrUnsolicitedReply)
	}

	// Replies inherit the original's recipe correlation
	return c.appendMessage(ctx, agentName, original.Sender, MessageTypeCreativeSuggestion, content, original.RecipeID, original.ID)
}

// Inbox returns, in arrival order, the messages addressed to the named
// persona. It never exposes another persona's mail, even to the sender.
func (c *Client) Inbox(ctx context.Context, agentName string) ([]*Message, error) {
	registered, err := c.AgentRegistered(ctx, agentName)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, fmt.Errorf("persona %q is not registered: %w", agentName, ErrUnknownRecipient)
	}

	ids, err := c.rdb.LRange(ctx, MailboxKey(c.instanceName, agentName), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox: %w", err)
	}

	return c.fetchMessages(ctx, ids)
}

// History returns the full ordered cross-agent message log correlated to a
// recipe. This is the one operation that crosses mailbox boundaries; it feeds
// the published behind-the-scenes story and is read-only.
func (c *Client) History(ctx context.Context, recipeID string) ([]*Message, error) {
	ids, err := c.rdb.ZRange(ctx, DiscussionKey(c.instanceName, recipeID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read discussion: %w", err)
	}

	return c.fetchMessages(ctx, ids)
}

// GetMessage retrieves a message by ID.
// Returns (nil, redis.Nil) if the message doesn't exist.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	key := MessageKey(c.instanceName, messageID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read message from Redis: %w", err)
	}

	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	message, err := HashToMessage(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %w", err)
	}

	return message, nil
}

// appendMessage assigns identity and ordering, then durably appends the
// message and its mailbox/discussion/contacts bookkeeping in one pipeline.
func (c *Client) appendMessage(ctx context.Context, sender, recipient string, msgType MessageType, content, recipeID, inReplyTo string) (*Message, error) {
	for _, name := range []string{sender, recipient} {
		registered, err := c.AgentRegistered(ctx, name)
		if err != nil {
			return nil, err
		}
		if !registered {
			return nil, fmt.Errorf("persona %q is not registered: %w", name, ErrUnknownRecipient)
		}
	}

	if err := msgType.Validate(); err != nil {
		return nil, err
	}

	seq, err := c.rdb.Incr(ctx, MessageSeqKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to assign message sequence: %w", err)
	}

	message := &Message{
		ID:          uuid.New().String(),
		Seq:         seq,
		Sender:      sender,
		Recipient:   recipient,
		Type:        msgType,
		Content:     content,
		RecipeID:    recipeID,
		InReplyTo:   inReplyTo,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, MessageKey(c.instanceName, message.ID), MessageToHash(message))
	pipe.RPush(ctx, MailboxKey(c.instanceName, recipient), message.ID)
	pipe.SAdd(ctx, ContactsKey(c.instanceName, recipient), sender)
	if recipeID != "" {
		pipe.ZAdd(ctx, DiscussionKey(c.instanceName, recipeID), redis.Z{
			Score:  float64(seq),
			Member: message.ID,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return message, nil
}

// fetchMessages resolves message IDs to full messages, preserving order.
// IDs whose hash is missing are skipped (the log is append-only, so this only
// happens if Redis itself lost data).
func (c *Client) fetchMessages(ctx context.Context, ids []string) ([]*Message, error) {
	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		message, err := c.GetMessage(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}
