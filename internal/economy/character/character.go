package character

import "github.com/shopspring/decimal"

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Character is a player-owned sheet inside one guild. All resource
// mutation goes through the transaction composer; readers outside a
// commit only ever see fully committed state.
type Character struct {
	ID       string
	GuildID  string
	PlayerID string
	Name     string
	Status   string

	Money         decimal.Decimal
	Inventory     map[string]int
	Proficiencies map[string]bool
	Buildings     map[string][]Building
}

// Building is one owned building instance. TypeKey groups instances of
// the same building line; Tier orders upgrades within the line.
type Building struct {
	Name    string
	TypeKey string
	Tier    int
	Active  bool
}

func (c Character) IsActive() bool { return c.Status == StatusActive }

func (c Character) HasProficiency(id string) bool {
	return c.Proficiencies[id]
}

// ActiveBuildingAtLeast reports whether the character owns an active
// building of the given type key at tier >= minTier.
func (c Character) ActiveBuildingAtLeast(typeKey string, minTier int) bool {
	for _, b := range c.Buildings[typeKey] {
		if b.Active && b.Tier >= minTier {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so callers can snapshot a character
// before speculative work without aliasing its maps.
func (c Character) Clone() Character {
	out := c
	out.Inventory = make(map[string]int, len(c.Inventory))
	for k, v := range c.Inventory {
		out.Inventory[k] = v
	}
	out.Proficiencies = make(map[string]bool, len(c.Proficiencies))
	for k, v := range c.Proficiencies {
		out.Proficiencies[k] = v
	}
	out.Buildings = make(map[string][]Building, len(c.Buildings))
	for k, v := range c.Buildings {
		out.Buildings[k] = append([]Building(nil), v...)
	}
	return out
}
