package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padstow/galley/internal/config"
	"github.com/padstow/galley/internal/lifecycle"
	"github.com/padstow/galley/pkg/kitchen"
)

// testConfig builds a full team config with fast retry settings
func testConfig() *config.GalleyConfig {
	maxRevisions := 3
	return &config.GalleyConfig{
		Version:     "1.0",
		Instance:    "test-instance",
		Coordinator: "editor",
		Team: map[string]config.Member{
			"margaret": {Role: "recipe developer", Stage: kitchen.StageDevelopment},
			"steph":    {Role: "food photographer", Stage: kitchen.StagePhotography},
			"devon":    {Role: "copywriter", Stage: kitchen.StageCopywriting},
			"priya":    {Role: "creative director", Stage: kitchen.StageCreativeReview},
			"frank":    {Role: "editor in chief", Stage: kitchen.StageHumanReview},
			"noor":     {Role: "site producer", Stage: kitchen.StageDeployment},
		},
		Pipeline: &config.PipelineConfig{
			MaxRevisions:        &maxRevisions,
			StageTimeoutSeconds: 5,
			MaxAttempts:         2,
			RetryBackoffSeconds: 1,
			PollIntervalSeconds: 1,
		},
	}
}

// setupEngine creates an engine over miniredis with the team registered
func setupEngine(t *testing.T) (*Engine, *kitchen.Client) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := kitchen.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	engine := NewEngine(client, lifecycle.NewManager(client), testConfig())
	require.NoError(t, engine.Setup(context.Background()))

	return engine, client
}

func seedRecipe(t *testing.T, client *kitchen.Client) *kitchen.Recipe {
	t.Helper()
	recipe := &kitchen.Recipe{
		ID:           uuid.New().String(),
		Slug:         "miso-glazed-carrots",
		Title:        "Miso Glazed Carrots",
		Status:       kitchen.StatusPending,
		CurrentStage: kitchen.StageDevelopment,
	}
	require.NoError(t, client.CreateRecipe(context.Background(), recipe))
	return recipe
}

func successCapability(payload string) Capability {
	return CapabilityFunc(func(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
		return &StageOutcome{Status: OutcomeSuccess, Payload: payload}, nil
	})
}

func registerSuccessAll(engine *Engine) {
	for _, stage := range kitchen.StageOrder {
		engine.RegisterCapability(stage, successCapability(fmt.Sprintf("%s done", stage)))
	}
}

// A recipe that succeeds at every stage walks the fixed order once and ends
// published with a complete history.
func TestAdvanceHappyPath(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)
	registerSuccessAll(engine)

	for i := 0; i < len(kitchen.StageOrder); i++ {
		_, err := engine.Advance(ctx, recipe.ID)
		require.NoError(t, err, "advance %d", i+1)
	}

	got, status, err := client.LocateRecipe(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, kitchen.StatusPublished, status)
	assert.Zero(t, got.RevisionCount)
	assert.False(t, got.Escalated)

	require.Len(t, got.StageHistory, 6)
	for i, record := range got.StageHistory {
		assert.Equal(t, kitchen.StageOrder[i], record.Stage)
		assert.Equal(t, "success", record.Outcome)
	}

	// One exchange per stage invocation
	history, err := client.History(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Len(t, history, 6)

	// Audit trail shows pending→approved→published
	trail, err := client.AuditTrail(ctx, recipe.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, kitchen.StatusApproved, trail[0].To)
	assert.Equal(t, kitchen.StatusPublished, trail[1].To)

	// A published recipe cannot be advanced again
	_, err = engine.Advance(ctx, recipe.ID)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}

// CreativeReview success hands off to HumanReview; it never approves or
// publishes anything by itself.
func TestCreativeReviewNeverSkipsHumanReview(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)
	registerSuccessAll(engine)

	for i := 0; i < 4; i++ {
		_, err := engine.Advance(ctx, recipe.ID)
		require.NoError(t, err)
	}

	got, status, err := client.LocateRecipe(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, kitchen.StatusPending, status)
	assert.Equal(t, kitchen.StageHumanReview, got.CurrentStage)
}

// Repeated revisions from a review gate exhaust the bound and force a
// terminal rejection with escalation.
func TestRevisionBoundForcesRejection(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)
	registerSuccessAll(engine)

	// Creative review always bounces work back to copywriting
	engine.RegisterCapability(kitchen.StageCreativeReview, CapabilityFunc(
		func(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
			return &StageOutcome{
				Status:      OutcomeRevise,
				Feedback:    "the headnote still buries the lede",
				TargetStage: kitchen.StageCopywriting,
			}, nil
		}))

	// development, photography, copywriting
	for i := 0; i < 3; i++ {
		_, err := engine.Advance(ctx, recipe.ID)
		require.NoError(t, err)
	}

	// Three revisions stay within the bound: each bounce returns to
	// copywriting, which succeeds again.
	for i := 0; i < 3; i++ {
		got, err := engine.Advance(ctx, recipe.ID) // creative_review revise
		require.NoError(t, err)
		assert.Equal(t, i+1, got.RevisionCount)
		assert.Equal(t, kitchen.StageCopywriting, got.CurrentStage)
		assert.False(t, got.Escalated)

		_, err = engine.Advance(ctx, recipe.ID) // copywriting success
		require.NoError(t, err)
	}

	// The fourth revision exceeds the bound
	got, err := engine.Advance(ctx, recipe.ID)
	require.NoError(t, err)

	assert.Equal(t, 4, got.RevisionCount)
	assert.True(t, got.Escalated)

	_, status, err := client.LocateRecipe(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, kitchen.StatusRejected, status)

	// The forced rejection is explained in the review notes
	final, err := client.GetRecipe(ctx, recipe.ID)
	require.NoError(t, err)
	require.NotEmpty(t, final.ReviewNotes)
	assert.Contains(t, final.ReviewNotes[len(final.ReviewNotes)-1], "revision bound")
}

// A revise with no target stage restarts the recipe at development.
func TestReviseDefaultsToDevelopment(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)
	registerSuccessAll(engine)

	engine.RegisterCapability(kitchen.StageCreativeReview, CapabilityFunc(
		func(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
			return &StageOutcome{Status: OutcomeRevise, Feedback: "start over"}, nil
		}))

	for i := 0; i < 3; i++ {
		_, err := engine.Advance(ctx, recipe.ID)
		require.NoError(t, err)
	}

	got, err := engine.Advance(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, kitchen.StageDevelopment, got.CurrentStage)
	assert.Equal(t, 1, got.RevisionCount)
}

// A business reject is terminal immediately, whatever the revision count.
func TestRejectOutcome(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)

	engine.RegisterCapability(kitchen.StageDevelopment, CapabilityFunc(
		func(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
			return &StageOutcome{Status: OutcomeReject, Feedback: "we ran this exact recipe last spring"}, nil
		}))

	got, err := engine.Advance(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, kitchen.StatusRejected, got.Status)
	assert.False(t, got.Escalated)
	assert.Zero(t, got.RevisionCount)

	_, status, err := client.LocateRecipe(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, kitchen.StatusRejected, status)

	// The rejection reached the coordinator
	inbox, err := client.Inbox(ctx, "editor")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, kitchen.MessageTypeRevisionRequest, inbox[0].Type)
	assert.Equal(t, "margaret", inbox[0].Sender)
}

// Exhausted capability retries flag the recipe stuck without transitioning it.
func TestRetryExhaustionMarksStuck(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)

	invocations := 0
	engine.RegisterCapability(kitchen.StageDevelopment, CapabilityFunc(
		func(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
			invocations++
			return nil, errors.New("persona backend unavailable")
		}))

	_, err := engine.Advance(ctx, recipe.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRecipeStuck)
	assert.Equal(t, 2, invocations)

	// Still pending at its stage, flagged, and indexed for monitoring
	got, status, err := client.LocateRecipe(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, kitchen.StatusPending, status)
	assert.Equal(t, kitchen.StageDevelopment, got.CurrentStage)
	assert.True(t, got.Stuck)

	stuck, err := client.ListStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{recipe.ID}, stuck)
}

// A stuck recipe that produces an outcome again is unflagged and proceeds.
func TestStuckRecipeRecovers(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)

	engine.RegisterCapability(kitchen.StageDevelopment, CapabilityFunc(
		func(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
			return nil, errors.New("flaky")
		}))

	_, err := engine.Advance(ctx, recipe.ID)
	require.ErrorIs(t, err, ErrRecipeStuck)

	engine.RegisterCapability(kitchen.StageDevelopment, successCapability("recovered"))

	got, err := engine.Advance(ctx, recipe.ID)
	require.NoError(t, err)
	assert.False(t, got.Stuck)
	assert.Equal(t, kitchen.StagePhotography, got.CurrentStage)

	stuck, err := client.ListStuck(ctx)
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

// Transient failures within the attempt budget are invisible to the outcome.
func TestTransientFailureRetries(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)

	invocations := 0
	engine.RegisterCapability(kitchen.StageDevelopment, CapabilityFunc(
		func(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
			invocations++
			if invocations == 1 {
				return nil, errors.New("transient hiccup")
			}
			return &StageOutcome{Status: OutcomeSuccess, Payload: "second try"}, nil
		}))

	got, err := engine.Advance(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, invocations)
	assert.Equal(t, kitchen.StagePhotography, got.CurrentStage)
	assert.False(t, got.Stuck)
	assert.Zero(t, got.RevisionCount)
}

// A revise outcome from a non-review stage is a capability bug, not a
// workflow event.
func TestReviseFromNonReviewStageFails(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)

	engine.RegisterCapability(kitchen.StageDevelopment, CapabilityFunc(
		func(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
			return &StageOutcome{Status: OutcomeRevise, Feedback: "send myself back?"}, nil
		}))

	_, err := engine.Advance(ctx, recipe.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal outcome")

	// Nothing moved
	got, status, err := client.LocateRecipe(ctx, recipe.ID)
	require.NoError(t, err)
	assert.Equal(t, kitchen.StatusPending, status)
	assert.Equal(t, kitchen.StageDevelopment, got.CurrentStage)
	assert.Empty(t, got.StageHistory)
}

// Concurrent advance calls for the same recipe serialize on the advisory
// lock: each stage is invoked once, never twice.
func TestConcurrentAdvanceSerializes(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)
	registerSuccessAll(engine)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Advance(ctx, recipe.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, err := client.LocateRecipe(ctx, recipe.ID)
	require.NoError(t, err)

	// Two calls, two distinct stage invocations, no duplicates
	require.Len(t, got.StageHistory, 2)
	assert.Equal(t, kitchen.StageDevelopment, got.StageHistory[0].Stage)
	assert.Equal(t, kitchen.StagePhotography, got.StageHistory[1].Stage)
	assert.Equal(t, kitchen.StageCopywriting, got.CurrentStage)
}

// The exchanges recorded per outcome reach the right persona with the right
// message type.
func TestRecordedExchanges(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)
	registerSuccessAll(engine)

	// development success: margaret hands off to steph
	_, err := engine.Advance(ctx, recipe.ID)
	require.NoError(t, err)

	inbox, err := client.Inbox(ctx, "steph")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "margaret", inbox[0].Sender)
	assert.Equal(t, kitchen.MessageTypeCreativeSuggestion, inbox[0].Type)
	assert.Equal(t, recipe.ID, inbox[0].RecipeID)

	// photography, copywriting, creative_review
	for i := 0; i < 3; i++ {
		_, err := engine.Advance(ctx, recipe.ID)
		require.NoError(t, err)
	}

	// creative_review passed: frank got an approval notification from priya
	inbox, err = client.Inbox(ctx, "frank")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "priya", inbox[0].Sender)
	assert.Equal(t, kitchen.MessageTypeApprovalNotification, inbox[0].Type)

	// Frank can answer the engine-recorded exchange, because priya is now in
	// his contacts
	reply, err := client.Reply(ctx, "frank", inbox[0].ID, "agreed, sending to layout")
	require.NoError(t, err)
	assert.Equal(t, "priya", reply.Recipient)
	assert.Equal(t, recipe.ID, reply.RecipeID)
}

// Terminal events land on the pub/sub channel when a recipe publishes.
func TestPublishedEventEmitted(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)
	registerSuccessAll(engine)

	sub, err := client.SubscribeRecipeEvents(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	// Give the subscriber goroutine a moment to attach
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < len(kitchen.StageOrder); i++ {
		_, err := engine.Advance(ctx, recipe.ID)
		require.NoError(t, err)
	}

	select {
	case event := <-sub.Events():
		assert.Equal(t, recipe.ID, event.RecipeID)
		assert.Equal(t, "published", event.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

// An unregistered stage capability is a configuration error.
func TestMissingCapability(t *testing.T) {
	engine, client := setupEngine(t)
	recipe := seedRecipe(t, client)

	_, err := engine.Advance(context.Background(), recipe.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no capability registered")
}

// Setup reconciles crash leftovers before any pipeline work.
func TestSetupReconciles(t *testing.T) {
	engine, client := setupEngine(t)
	ctx := context.Background()
	recipe := seedRecipe(t, client)

	dup := *recipe
	dup.UpdatedAtMs = recipe.UpdatedAtMs + 1000
	require.NoError(t, client.WriteRecipeTo(ctx, kitchen.StatusApproved, &dup))

	require.NoError(t, engine.Setup(ctx))

	live := 0
	for _, status := range kitchen.AllStatuses {
		exists, err := client.RecipeExistsIn(ctx, status, recipe.ID)
		require.NoError(t, err)
		if exists {
			live++
		}
	}
	assert.Equal(t, 1, live)
}
