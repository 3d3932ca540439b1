// Package txn turns an ordered list of typed resource-mutation steps
// into one all-or-nothing commit against the ledger store.
package txn

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaironbot/economy/internal/economy/character"
)

// Tx is the per-commit session handle the ledger store hands to the
// composer. Every method either applies its mutation or returns an
// error; the store rolls the whole session back on any error.
type Tx interface {
	ActiveCharacter(playerID string) (character.Character, error)
	CharacterByID(id string) (character.Character, error)

	DebitMoney(characterID string, amount decimal.Decimal) error
	CreditMoney(characterID string, amount decimal.Decimal) error
	RemoveItems(characterID, item string, qty int) error
	AddItems(characterID, item string, qty int) error
	GrantProficiency(characterID, id string) error
	RevokeProficiency(characterID, id string) error
	AddBuilding(characterID string, b character.Building) error
	RemoveBuilding(characterID, typeKey string, tier int) error

	AppendLedger(characterID string, e LedgerEntry) error

	CreateTask(taskType string, dueAt time.Time, args map[string]string) (string, error)
	ClaimTask(taskID string) error
	CompleteTask(taskID, state, failure string) error
}

// Store is the ledger store's transaction surface: fn's effects are
// durable iff it returns nil.
type Store interface {
	Transaction(ctx context.Context, guildID string, fn func(Tx) error) error
}

// Mirror receives committed ledger entries for operator-side logs.
type Mirror interface {
	Write(v any) error
}

// NoActiveCharacterError identifies which player lacked an eligible
// character, so multi-target operations can name the offender.
type NoActiveCharacterError struct {
	PlayerID string
}

func (e *NoActiveCharacterError) Error() string {
	return fmt.Sprintf("no active character for player %s", e.PlayerID)
}

// CommitError wraps the cause of a failed commit with the index and
// kind of the step that failed. The cause is kept verbatim.
type CommitError struct {
	Step  int
	Kind  StepKind
	Cause error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Kind, e.Cause)
}

func (e *CommitError) Unwrap() error { return e.Cause }

type CommitResult struct {
	Committed  bool
	FailedStep int // -1 when no step failed
	Cause      error

	// TaskIDs lists tasks created by SCHEDULE_TASK steps, in order.
	TaskIDs []string
}

type Composer struct {
	store  Store
	mirror Mirror
	logger *log.Logger
}

// NewComposer builds a composer. mirror may be nil.
func NewComposer(store Store, mirror Mirror, logger *log.Logger) *Composer {
	return &Composer{store: store, mirror: mirror, logger: logger}
}

type mirrorRecord struct {
	GuildID     string      `json:"guild_id"`
	CharacterID string      `json:"character_id"`
	Entry       LedgerEntry `json:"entry"`
}

// Commit applies steps in order inside one store transaction. The
// whole set commits iff every step succeeds; the first failure rolls
// everything back and is reported with its step index, unretried.
func (c *Composer) Commit(ctx context.Context, guildID string, steps []Step) CommitResult {
	res := CommitResult{FailedStep: -1}
	var mirrored []mirrorRecord

	err := c.store.Transaction(ctx, guildID, func(tx Tx) error {
		for i, st := range steps {
			entries, taskID, err := applyStep(tx, st)
			if err != nil {
				res.FailedStep = i
				return &CommitError{Step: i, Kind: st.Kind, Cause: err}
			}
			if taskID != "" {
				res.TaskIDs = append(res.TaskIDs, taskID)
			}
			mirrored = append(mirrored, entries...)
		}
		return nil
	})
	if err != nil {
		res.Cause = err
		if c.logger != nil {
			c.logger.Printf("commit rolled back guild=%s: %v", guildID, err)
		}
		return res
	}

	res.Committed = true
	if c.mirror != nil {
		for _, rec := range mirrored {
			rec.GuildID = guildID
			if werr := c.mirror.Write(rec); werr != nil && c.logger != nil {
				c.logger.Printf("ledger mirror write: %v", werr)
			}
		}
	}
	return res
}

func applyStep(tx Tx, st Step) (mirrored []mirrorRecord, taskID string, err error) {
	charID := st.Target.CharacterID
	if charID == "" && st.Target.PlayerID != "" {
		ch, err := tx.ActiveCharacter(st.Target.PlayerID)
		if err != nil {
			return nil, "", err
		}
		charID = ch.ID
	}

	switch st.Kind {
	case KindDebitMoney:
		return nil, "", tx.DebitMoney(charID, st.Amount)
	case KindCreditMoney:
		return nil, "", tx.CreditMoney(charID, st.Amount)
	case KindRemoveMaterial:
		return nil, "", tx.RemoveItems(charID, st.Item, st.Qty)
	case KindAddMaterial:
		return nil, "", tx.AddItems(charID, st.Item, st.Qty)
	case KindGrantProficiency:
		return nil, "", tx.GrantProficiency(charID, st.Proficiency)
	case KindRevokeProficiency:
		return nil, "", tx.RevokeProficiency(charID, st.Proficiency)
	case KindAddBuilding:
		return nil, "", tx.AddBuilding(charID, st.Building)
	case KindRemoveBuilding:
		return nil, "", tx.RemoveBuilding(charID, st.BuildingTypeKey, st.BuildingTier)
	case KindAppendLedger:
		if err := tx.AppendLedger(charID, st.Entry); err != nil {
			return nil, "", err
		}
		return []mirrorRecord{{CharacterID: charID, Entry: st.Entry}}, "", nil
	case KindScheduleTask:
		args := make(map[string]string, len(st.TaskArgs)+1)
		for k, v := range st.TaskArgs {
			args[k] = v
		}
		if charID != "" {
			args["character_id"] = charID
		}
		id, err := tx.CreateTask(st.TaskType, st.DueAt, args)
		return nil, id, err
	case KindClaimTask:
		return nil, "", tx.ClaimTask(st.TaskID)
	case KindCompleteTask:
		return nil, "", tx.CompleteTask(st.TaskID, st.TaskState, st.TaskFailure)
	default:
		return nil, "", fmt.Errorf("unknown step kind %q", st.Kind)
	}
}
