package catalog

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryItem     Category = "ITEM"
	CategoryBuilding Category = "BUILDING"
	CategoryTool     Category = "TOOL"
	CategoryLanguage Category = "LANGUAGE"
)

// Entry is one purchasable/craftable catalog definition together with
// its requirement spec. Entries are immutable once loaded.
type Entry struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`

	MoneyCost    decimal.Decimal `json:"money_cost"`
	MaterialCost map[string]int  `json:"material_cost,omitempty"`

	RequiredTools     []string      `json:"required_tools,omitempty"`
	RequiredBuildings []BuildingRef `json:"required_buildings,omitempty"`

	// Quantity bounds. MinQuantity defaults to 1 when zero;
	// MaxQuantity zero means unbounded.
	MinQuantity int `json:"min_quantity,omitempty"`
	MaxQuantity int `json:"max_quantity,omitempty"`

	// DiscountProficiency halves material and money cost for
	// characters holding it.
	DiscountProficiency string `json:"discount_proficiency,omitempty"`

	// DelaySeconds > 0 defers the grant side of a commit.
	DelaySeconds int `json:"delay_seconds,omitempty"`

	// Building entries only: the instance granted on commit.
	BuildingTypeKey string `json:"building_type_key,omitempty"`
	BuildingTier    int    `json:"building_tier,omitempty"`
}

// BuildingRef names a required building line at a minimum tier. An
// owned building of tier N satisfies any requirement of tier <= N.
type BuildingRef struct {
	TypeKey string `json:"type_key"`
	Tier    int    `json:"tier"`
}

func (e Entry) MinQty() int {
	if e.MinQuantity <= 0 {
		return 1
	}
	return e.MinQuantity
}

func (e Entry) CompletionDelay() time.Duration {
	return time.Duration(e.DelaySeconds) * time.Second
}

// Source supplies the current published catalog for a guild and
// category. Implementations are read-only from this subsystem's
// perspective.
type Source interface {
	Entries(guildID string, category Category) ([]Entry, error)
}

// Static serves the same loaded catalog set to every guild. It backs
// single-community deployments and tests.
type Static struct {
	byCategory map[Category][]Entry

	// Digests, keyed by source file name, identify the loaded
	// catalog revision in logs and handshakes.
	Digests map[string]string
}

func NewStatic(entries []Entry) *Static {
	s := &Static{byCategory: map[Category][]Entry{}}
	for _, e := range entries {
		s.byCategory[e.Category] = append(s.byCategory[e.Category], e)
	}
	for cat := range s.byCategory {
		es := s.byCategory[cat]
		sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
	}
	return s
}

func (s *Static) Entries(guildID string, category Category) ([]Entry, error) {
	return s.byCategory[category], nil
}
