package repository

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/termstack/broker/internal/db"
	"github.com/termstack/broker/internal/model"
)

// For any non-empty command list, the created queue round-trips through the
// database with every command preserved in submission order and PENDING.
func TestQueueCreationIntegrityProperty(t *testing.T) {
	testDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}
	defer testDB.Close()

	repo := NewQueueRepository(testDB)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	// gopter grows the generation size by one per attempt, counting discards,
	// with no cap at MaxSize. With the default MaxSize of 100 the SuchThat
	// filters below discard enough attempts to push the size past 100, at
	// which point the len(s) <= 100 filter rejects most strings and the run
	// aborts with "gave up". A lower MaxSize keeps the size ramp safely under
	// that boundary; a higher discard ratio absorbs the empty-string discards
	// at small sizes.
	parameters.MaxSize = 50
	parameters.MaxDiscardRatio = 30

	properties := gopter.NewProperties(parameters)

	nonEmptyString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= 100
	})
	commandLists := gen.SliceOfN(5, nonEmptyString).SuchThat(func(cmds []string) bool {
		return len(cmds) > 0
	})

	properties.Property("queue creation persists all commands in order", prop.ForAll(
		func(terminalID, userID string, commands []string) bool {
			q, err := repo.CreateQueue(ctx, &model.CreateQueueRequest{
				TerminalID: terminalID,
				UserID:     userID,
				Commands:   commands,
			})
			if err != nil {
				t.Logf("failed to create queue: %v", err)
				return false
			}

			retrieved, err := repo.GetQueue(ctx, q.ID)
			if err != nil {
				t.Logf("failed to retrieve queue: %v", err)
				return false
			}
			if retrieved.TerminalID != terminalID || retrieved.UserID != userID {
				t.Logf("retrieved queue does not match created queue")
				return false
			}
			if retrieved.Status != model.QueueStatusPending {
				t.Logf("expected PENDING status, got %s", retrieved.Status)
				return false
			}

			persisted, err := repo.ListCommands(ctx, q.ID)
			if err != nil {
				t.Logf("failed to list commands: %v", err)
				return false
			}
			if len(persisted) != len(commands) {
				t.Logf("expected %d commands, got %d", len(commands), len(persisted))
				return false
			}
			for i, c := range persisted {
				if c.Position != i || c.Text != commands[i] || c.Status != model.CommandStatusPending {
					t.Logf("command %d mismatch: pos=%d text=%q status=%s", i, c.Position, c.Text, c.Status)
					return false
				}
			}
			return true
		},
		nonEmptyString,
		nonEmptyString,
		commandLists,
	))

	properties.TestingRun(t)
}
