package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padstow/galley/pkg/kitchen"
)

func TestFormatRecipeTable(t *testing.T) {
	t.Run("empty list", func(t *testing.T) {
		var buf bytes.Buffer
		n := FormatRecipeTable(&buf, nil, kitchen.StatusPending)
		assert.Zero(t, n)
		assert.Contains(t, buf.String(), "No pending recipes found")
	})

	t.Run("renders one row per recipe", func(t *testing.T) {
		recipes := []*kitchen.Recipe{
			{
				ID:           uuid.New().String(),
				Title:        "Lemon Tart",
				CurrentStage: kitchen.StagePhotography,
				CreatedAtMs:  time.Now().Add(-2 * time.Hour).UnixMilli(),
			},
			{
				ID:            uuid.New().String(),
				Title:         "A Very Long Recipe Title That Will Not Fit The Column",
				CurrentStage:  kitchen.StageCreativeReview,
				RevisionCount: 2,
				Stuck:         true,
				CreatedAtMs:   time.Now().Add(-30 * time.Minute).UnixMilli(),
			},
		}

		var buf bytes.Buffer
		n := FormatRecipeTable(&buf, recipes, kitchen.StatusPending)
		assert.Equal(t, 2, n)

		out := buf.String()
		assert.Contains(t, out, "Lemon Tart")
		assert.Contains(t, out, recipes[0].ID[:8])
		assert.Contains(t, out, "photography")
		assert.Contains(t, out, "yes")
		assert.Contains(t, out, "...")
		assert.Contains(t, out, "2 recipes found")
	})
}

func TestFormatRecipeJSONL(t *testing.T) {
	recipes := []*kitchen.Recipe{
		{ID: uuid.New().String(), Title: "One", CurrentStage: kitchen.StageDevelopment},
		{ID: uuid.New().String(), Title: "Two", CurrentStage: kitchen.StageDeployment},
	}

	var buf bytes.Buffer
	require.NoError(t, FormatRecipeJSONL(&buf, recipes))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], recipes[0].ID)
	assert.Contains(t, lines[1], `"current_stage":"deployment"`)
}

func TestFormatDiscussion(t *testing.T) {
	recipeID := uuid.New().String()

	t.Run("empty discussion", func(t *testing.T) {
		var buf bytes.Buffer
		n := FormatDiscussion(&buf, nil, recipeID)
		assert.Zero(t, n)
		assert.Contains(t, buf.String(), "No messages recorded")
	})

	t.Run("chronological blocks with reply references", func(t *testing.T) {
		first := &kitchen.Message{
			ID:          uuid.New().String(),
			Seq:         1,
			Sender:      "steph",
			Recipient:   "devon",
			Type:        kitchen.MessageTypeFeedbackRequest,
			Content:     "does the intro match the photos?",
			RecipeID:    recipeID,
			CreatedAtMs: time.Now().UnixMilli(),
		}
		reply := &kitchen.Message{
			ID:          uuid.New().String(),
			Seq:         2,
			Sender:      "devon",
			Recipient:   "steph",
			Type:        kitchen.MessageTypeCreativeSuggestion,
			Content:     "rewriting the opener now",
			RecipeID:    recipeID,
			InReplyTo:   first.ID,
			CreatedAtMs: time.Now().UnixMilli(),
		}

		var buf bytes.Buffer
		n := FormatDiscussion(&buf, []*kitchen.Message{first, reply}, recipeID)
		assert.Equal(t, 2, n)

		out := buf.String()
		assert.Contains(t, out, "steph")
		assert.Contains(t, out, "devon")
		assert.Contains(t, out, "in reply to "+first.ID[:8])
		assert.Less(t, strings.Index(out, first.Content), strings.Index(out, reply.Content))
	})
}

func TestFormatMailbox(t *testing.T) {
	t.Run("empty mailbox", func(t *testing.T) {
		var buf bytes.Buffer
		n := FormatMailbox(&buf, nil, "margaret")
		assert.Zero(t, n)
		assert.Contains(t, buf.String(), "Mailbox for margaret is empty")
	})

	t.Run("rows carry sender, type, and recipe", func(t *testing.T) {
		recipeID := uuid.New().String()
		messages := []*kitchen.Message{
			{
				ID:        uuid.New().String(),
				Seq:       1,
				Sender:    "priya",
				Recipient: "margaret",
				Type:      kitchen.MessageTypeRevisionRequest,
				Content:   "the crumb shot is out of focus",
				RecipeID:  recipeID,
			},
		}

		var buf bytes.Buffer
		n := FormatMailbox(&buf, messages, "margaret")
		assert.Equal(t, 1, n)

		out := buf.String()
		assert.Contains(t, out, "priya")
		assert.Contains(t, out, "revision_request")
		assert.Contains(t, out, recipeID[:8])
	})
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "-", formatAge(0))

	now := time.Now()
	assert.Contains(t, formatAge(now.Add(-10*time.Second).UnixMilli()), "s")
	assert.Equal(t, "5m", formatAge(now.Add(-5*time.Minute).UnixMilli()))
	assert.Equal(t, "3h 15m", formatAge(now.Add(-3*time.Hour-15*time.Minute).UnixMilli()))
	assert.Equal(t, "2d 4h", formatAge(now.Add(-52*time.Hour).UnixMilli()))
}
