package kitchen

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like
// arrays are JSON-encoded into single hash fields. This provides a balance
// between queryability (individual fields) and flexibility (complex structures).

// RecipeToHash converts a Recipe struct to a Redis hash format.
// Array fields (ingredients, instructions, stage_history, review_notes) are
// JSON-encoded.
func RecipeToHash(r *Recipe) (map[string]interface{}, error) {
	ingredientsJSON, err := json.Marshal(r.Ingredients)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ingredients: %w", err)
	}

	instructionsJSON, err := json.Marshal(r.Instructions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instructions: %w", err)
	}

	stageHistoryJSON, err := json.Marshal(r.StageHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage_history: %w", err)
	}

	reviewNotesJSON, err := json.Marshal(r.ReviewNotes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal review_notes: %w", err)
	}

	hash := map[string]interface{}{
		"id":             r.ID,
		"slug":           r.Slug,
		"title":          r.Title,
		"ingredients":    string(ingredientsJSON),
		"instructions":   string(instructionsJSON),
		"body":           r.Body,
		"status":         string(r.Status),
		"current_stage":  string(r.CurrentStage),
		"revision_count": r.RevisionCount,
		"escalated":      r.Escalated,
		"stuck":          r.Stuck,
		"stage_history":  string(stageHistoryJSON),
		"review_notes":   string(reviewNotesJSON),
		"created_at_ms":  r.CreatedAtMs,
		"updated_at_ms":  r.UpdatedAtMs,
	}

	return hash, nil
}

// HashToRecipe converts a Redis hash to a Recipe struct.
// JSON fields are decoded back to Go types.
func HashToRecipe(hash map[string]string) (*Recipe, error) {
	revisionCount, err := strconv.Atoi(hash["revision_count"])
	if err != nil {
		return nil, fmt.Errorf("invalid revision_count field: %w", err)
	}

	var ingredients []string
	if s := hash["ingredients"]; s != "" {
		if err := json.Unmarshal([]byte(s), &ingredients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ingredients: %w", err)
		}
	}

	var instructions []string
	if s := hash["instructions"]; s != "" {
		if err := json.Unmarshal([]byte(s), &instructions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal instructions: %w", err)
		}
	}

	var stageHistory []StageRecord
	if s := hash["stage_history"]; s != "" {
		if err := json.Unmarshal([]byte(s), &stageHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage_history: %w", err)
		}
	}

	var reviewNotes []string
	if s := hash["review_notes"]; s != "" {
		if err := json.Unmarshal([]byte(s), &reviewNotes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review_notes: %w", err)
		}
	}

	// Ensure we have empty slices instead of nil for consistency
	if ingredients == nil {
		ingredients = []string{}
	}
	if instructions == nil {
		instructions = []string{}
	}
	if stageHistory == nil {
		stageHistory = []StageRecord{}
	}
	if reviewNotes == nil {
		reviewNotes = []string{}
	}

	escalated, _ := strconv.ParseBool(hash["escalated"])
	stuck, _ := strconv.ParseBool(hash["stuck"])
	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	recipe := &Recipe{
		ID:            hash["id"],
		Slug:          hash["slug"],
		Title:         hash["title"],
		Ingredients:   ingredients,
		Instructions:  instructions,
		Body:          hash["body"],
		Status:        Status(hash["status"]),
		CurrentStage:  Stage(hash["current_stage"]),
		RevisionCount: revisionCount,
		Escalated:     escalated,
		Stuck:         stuck,
		StageHistory:  stageHistory,
		ReviewNotes:   reviewNotes,
		CreatedAtMs:   createdAtMs,
		UpdatedAtMs:   updatedAtMs,
	}

	return recipe, nil
}

// MessageToHash converts a Message struct to a Redis hash format.
func MessageToHash(m *Message) map[string]interface{} {
	return map[string]interface{}{
		"id":            m.ID,
		"seq":           m.Seq,
		"sender":        m.Sender,
		"recipient":     m.Recipient,
		"type":          string(m.Type),
		"content":       m.Content,
		"recipe_id":     m.RecipeID,
		"in_reply_to":   m.InReplyTo,
		"created_at_ms": m.CreatedAtMs,
	}
}

// HashToMessage converts a Redis hash to a Message struct.
func HashToMessage(hash map[string]string) (*Message, error) {
	seq, err := strconv.ParseInt(hash["seq"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seq field: %w", err)
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	message := &Message{
		ID:          hash["id"],
		Seq:         seq,
		Sender:      hash["sender"],
		Recipient:   hash["recipient"],
		Type:        MessageType(hash["type"]),
		Content:     hash["content"],
		RecipeID:    hash["recipe_id"],
		InReplyTo:   hash["in_reply_to"],
		CreatedAtMs: createdAtMs,
	}

	return message, nil
}
