// Package validate checks a character's resources against a catalog
// entry's requirement spec. It is pure: no store access, no mutation,
// safe to call concurrently for the same character.
package validate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kaironbot/economy/internal/economy/catalog"
	"github.com/kaironbot/economy/internal/economy/character"
)

const (
	CodeQuantityBounds = "E_QTY_BOUNDS"
	CodeNoBuilding     = "E_NO_BUILDING"
	CodeNoProficiency  = "E_NO_PROFICIENCY"
	CodeNoMaterials    = "E_NO_MATERIALS"
	CodeNoFunds        = "E_NO_FUNDS"
)

// Shortfall describes the first failed requirement rule. A nil
// Shortfall means eligible.
type Shortfall struct {
	Code string
	Msg  string

	// Deficit is set for E_NO_MATERIALS: missing quantity per item.
	Deficit map[string]int
}

func (s *Shortfall) Error() string { return s.Code + ": " + s.Msg }

// Validate evaluates the requirement rules in a fixed order; the first
// failing rule is the one reported. Callers display only the first
// mismatch.
func Validate(e catalog.Entry, ch character.Character, qty int) *Shortfall {
	if qty < e.MinQty() || (e.MaxQuantity > 0 && qty > e.MaxQuantity) {
		return &Shortfall{
			Code: CodeQuantityBounds,
			Msg:  fmt.Sprintf("quantity %d outside allowed range for %s", qty, e.Name),
		}
	}

	if len(e.RequiredBuildings) > 0 {
		ok := false
		for _, ref := range e.RequiredBuildings {
			if ch.ActiveBuildingAtLeast(ref.TypeKey, ref.Tier) {
				ok = true
				break
			}
		}
		if !ok {
			return &Shortfall{
				Code: CodeNoBuilding,
				Msg:  fmt.Sprintf("no active building satisfies %s", e.Name),
			}
		}
	}

	if len(e.RequiredTools) > 0 {
		ok := false
		for _, tool := range e.RequiredTools {
			if ch.HasProficiency(tool) {
				ok = true
				break
			}
		}
		if !ok {
			return &Shortfall{
				Code: CodeNoProficiency,
				Msg:  fmt.Sprintf("missing tool proficiency for %s", e.Name),
			}
		}
	}

	deficit := map[string]int{}
	for item, need := range MaterialCost(e, ch, qty) {
		if have := ch.Inventory[item]; have < need {
			deficit[item] = need - have
		}
	}
	if len(deficit) > 0 {
		return &Shortfall{
			Code:    CodeNoMaterials,
			Msg:     fmt.Sprintf("missing materials for %s", e.Name),
			Deficit: deficit,
		}
	}

	if ch.Money.LessThan(MoneyCost(e, ch, qty)) {
		return &Shortfall{
			Code: CodeNoFunds,
			Msg:  fmt.Sprintf("insufficient funds for %s", e.Name),
		}
	}
	return nil
}

// MaterialCost returns the effective material bill for qty units. The
// discount proficiency halves the per-unit cost with integer division,
// remainder discarded.
func MaterialCost(e catalog.Entry, ch character.Character, qty int) map[string]int {
	out := make(map[string]int, len(e.MaterialCost))
	discounted := e.DiscountProficiency != "" && ch.HasProficiency(e.DiscountProficiency)
	for item, perUnit := range e.MaterialCost {
		if discounted {
			perUnit /= 2
		}
		if n := perUnit * qty; n > 0 {
			out[item] = n
		}
	}
	return out
}

// MoneyCost returns the effective money bill for qty units, halved
// under the same discount proficiency.
func MoneyCost(e catalog.Entry, ch character.Character, qty int) decimal.Decimal {
	total := e.MoneyCost.Mul(decimal.NewFromInt(int64(qty)))
	if e.DiscountProficiency != "" && ch.HasProficiency(e.DiscountProficiency) {
		total = total.Div(decimal.NewFromInt(2))
	}
	return total
}
