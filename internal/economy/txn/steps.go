package txn

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaironbot/economy/internal/economy/character"
)

type StepKind string

const (
	KindDebitMoney        StepKind = "DEBIT_MONEY"
	KindCreditMoney       StepKind = "CREDIT_MONEY"
	KindRemoveMaterial    StepKind = "REMOVE_MATERIAL"
	KindAddMaterial       StepKind = "ADD_MATERIAL"
	KindGrantProficiency  StepKind = "GRANT_PROFICIENCY"
	KindRevokeProficiency StepKind = "REVOKE_PROFICIENCY"
	KindAddBuilding       StepKind = "ADD_BUILDING"
	KindRemoveBuilding    StepKind = "REMOVE_BUILDING"
	KindAppendLedger      StepKind = "APPEND_LEDGER"
	KindScheduleTask      StepKind = "SCHEDULE_TASK"
	KindClaimTask         StepKind = "CLAIM_TASK"
	KindCompleteTask      StepKind = "COMPLETE_TASK"
)

const (
	DirectionAdd    = "ADD"
	DirectionRemove = "REMOVE"
)

// LedgerEntry is one immutable resource-movement record. Args maps a
// resource id to its quantity rendered as a string (money keeps its
// decimal form).
type LedgerEntry struct {
	At        time.Time         `json:"at"`
	Operation string            `json:"operation"`
	Direction string            `json:"direction"`
	Args      map[string]string `json:"args"`
}

// Target names the character a step acts on, either directly or
// through the owning player's single active character.
type Target struct {
	CharacterID string
	PlayerID    string
}

func Char(characterID string) Target { return Target{CharacterID: characterID} }
func Player(playerID string) Target  { return Target{PlayerID: playerID} }

// Step is one resource mutation inside a commit. Steps are built with
// the constructors below and evaluated in declaration order.
type Step struct {
	Kind   StepKind
	Target Target

	Amount decimal.Decimal

	Item string
	Qty  int

	Proficiency string

	Building        character.Building
	BuildingTypeKey string
	BuildingTier    int

	Entry LedgerEntry

	TaskID   string
	TaskType string
	DueAt    time.Time
	TaskArgs map[string]string

	// CompleteTask only.
	TaskState   string
	TaskFailure string
}

func DebitMoney(t Target, amount decimal.Decimal) Step {
	return Step{Kind: KindDebitMoney, Target: t, Amount: amount}
}

func CreditMoney(t Target, amount decimal.Decimal) Step {
	return Step{Kind: KindCreditMoney, Target: t, Amount: amount}
}

func RemoveMaterial(t Target, item string, qty int) Step {
	return Step{Kind: KindRemoveMaterial, Target: t, Item: item, Qty: qty}
}

func AddMaterial(t Target, item string, qty int) Step {
	return Step{Kind: KindAddMaterial, Target: t, Item: item, Qty: qty}
}

func GrantProficiency(t Target, id string) Step {
	return Step{Kind: KindGrantProficiency, Target: t, Proficiency: id}
}

func RevokeProficiency(t Target, id string) Step {
	return Step{Kind: KindRevokeProficiency, Target: t, Proficiency: id}
}

func AddBuilding(t Target, b character.Building) Step {
	return Step{Kind: KindAddBuilding, Target: t, Building: b}
}

func RemoveBuilding(t Target, typeKey string, tier int) Step {
	return Step{Kind: KindRemoveBuilding, Target: t, BuildingTypeKey: typeKey, BuildingTier: tier}
}

func AppendLedger(t Target, e LedgerEntry) Step {
	return Step{Kind: KindAppendLedger, Target: t, Entry: e}
}

func ScheduleTask(t Target, taskType string, dueAt time.Time, args map[string]string) Step {
	return Step{Kind: KindScheduleTask, Target: t, TaskType: taskType, DueAt: dueAt, TaskArgs: args}
}

func ClaimTask(taskID string) Step {
	return Step{Kind: KindClaimTask, TaskID: taskID}
}

func CompleteTask(taskID, state, failure string) Step {
	return Step{Kind: KindCompleteTask, TaskID: taskID, TaskState: state, TaskFailure: failure}
}
