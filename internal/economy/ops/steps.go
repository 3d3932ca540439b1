package ops

import (
	"sort"
	"strconv"
	"time"

	"github.com/kaironbot/economy/internal/economy/catalog"
	"github.com/kaironbot/economy/internal/economy/character"
	"github.com/kaironbot/economy/internal/economy/schedule"
	"github.com/kaironbot/economy/internal/economy/txn"
	"github.com/kaironbot/economy/internal/economy/validate"
)

type stepPlan struct {
	steps    []txn.Step
	deferred bool
	dueAt    time.Time
}

// buildSteps assembles the ordered commit for one operation: the cost
// side (debit, material removal, REMOVE ledger entry), then the grant
// side (grant plus ADD ledger entry), or a scheduled task in place of
// the grant when the entry carries a completion delay.
func buildSteps(op string, e catalog.Entry, ch character.Character, qty int, now time.Time) stepPlan {
	target := txn.Char(ch.ID)
	var steps []txn.Step

	removeArgs := map[string]string{}
	money := validate.MoneyCost(e, ch, qty)
	if money.IsPositive() {
		steps = append(steps, txn.DebitMoney(target, money))
		removeArgs["money"] = money.String()
	}
	mats := validate.MaterialCost(e, ch, qty)
	items := make([]string, 0, len(mats))
	for item := range mats {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		steps = append(steps, txn.RemoveMaterial(target, item, mats[item]))
		removeArgs[item] = strconv.Itoa(mats[item])
	}
	// The REMOVE entry is always written, even for a free grant, so
	// every operation leaves a paired REMOVE/ADD trail.
	steps = append(steps, txn.AppendLedger(target, txn.LedgerEntry{
		At:        now,
		Operation: op,
		Direction: txn.DirectionRemove,
		Args:      removeArgs,
	}))

	if op == OpCraft && e.DelaySeconds > 0 {
		dueAt := now.Add(e.CompletionDelay())
		steps = append(steps, txn.ScheduleTask(target, schedule.TaskGrantItem, dueAt, map[string]string{
			"item":      e.ID,
			"qty":       strconv.Itoa(qty),
			"operation": op,
		}))
		return stepPlan{steps: steps, deferred: true, dueAt: dueAt}
	}

	switch op {
	case OpBuy, OpCraft:
		steps = append(steps,
			txn.AddMaterial(target, e.ID, qty),
			ledgerAdd(target, op, now, e.ID, strconv.Itoa(qty)),
		)
	case OpLearn:
		steps = append(steps,
			txn.GrantProficiency(target, e.ID),
			ledgerAdd(target, op, now, e.ID, "1"),
		)
	case OpBuild:
		typeKey := e.BuildingTypeKey
		if typeKey == "" {
			typeKey = e.ID
		}
		// Upgrading replaces the highest lower-tier instance of the
		// same line instead of stacking a duplicate.
		if prev, ok := lowerTier(ch, typeKey, e.BuildingTier); ok {
			steps = append(steps, txn.RemoveBuilding(target, typeKey, prev))
		}
		steps = append(steps,
			txn.AddBuilding(target, character.Building{
				Name:    e.Name,
				TypeKey: typeKey,
				Tier:    e.BuildingTier,
				Active:  true,
			}),
			ledgerAdd(target, op, now, e.ID, "1"),
		)
	}
	return stepPlan{steps: steps}
}

func ledgerAdd(target txn.Target, op string, now time.Time, resource, qty string) txn.Step {
	return txn.AppendLedger(target, txn.LedgerEntry{
		At:        now,
		Operation: op,
		Direction: txn.DirectionAdd,
		Args:      map[string]string{resource: qty},
	})
}

func lowerTier(ch character.Character, typeKey string, tier int) (int, bool) {
	best := -1
	for _, b := range ch.Buildings[typeKey] {
		if b.Tier < tier && b.Tier > best {
			best = b.Tier
		}
	}
	return best, best >= 0
}
