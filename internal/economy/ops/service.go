// Package ops implements the named economic operations. Every
// operation follows the same workflow: resolve the catalog entry
// (exactly or via a confirmation token), validate requirements
// locally, then hand an ordered step list to the composer for an
// atomic commit.
package ops

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaironbot/economy/internal/economy/catalog"
	"github.com/kaironbot/economy/internal/economy/character"
	"github.com/kaironbot/economy/internal/economy/confirm"
	"github.com/kaironbot/economy/internal/economy/match"
	"github.com/kaironbot/economy/internal/economy/tuning"
	"github.com/kaironbot/economy/internal/economy/txn"
	"github.com/kaironbot/economy/internal/economy/validate"
)

const (
	OpBuy   = "buy"
	OpCraft = "craft"
	OpBuild = "build"
	OpLearn = "learn"
	OpPay   = "pay"
)

const (
	StatusOK        = "OK"
	StatusShortfall = "SHORTFALL"
	StatusPending   = "PENDING"
)

var (
	ErrUnknownOperation  = errors.New("unknown operation")
	ErrEmptyCatalog      = errors.New("catalog has no entries for this operation")
	ErrNonPositiveAmount = errors.New("non-positive amount")
	ErrNoRecipients      = errors.New("no recipients")
)

var opCategories = map[string][]catalog.Category{
	OpBuy:   {catalog.CategoryItem},
	OpCraft: {catalog.CategoryItem},
	OpBuild: {catalog.CategoryBuilding},
	OpLearn: {catalog.CategoryTool, catalog.CategoryLanguage},
}

// CharacterReader resolves the single active character a player
// controls in a guild.
type CharacterReader interface {
	ActiveCharacter(ctx context.Context, guildID, playerID string) (character.Character, error)
}

type Request struct {
	GuildID     string
	RequesterID string
	// TargetRef is the recipient player; empty means the requester.
	TargetRef string
	Name      string
	Quantity  int
}

// Suggestion is the pending half of a fuzzy match: the closest entry
// name plus the handle the requester must redeem to proceed.
type Suggestion struct {
	TokenID   string
	Name      string
	ExpiresAt time.Time
}

type Outcome struct {
	Status     string
	Shortfall  *validate.Shortfall
	Suggestion *Suggestion

	Entry    catalog.Entry
	Quantity int

	// Deferred commits paid now and grant later.
	Deferred bool
	DueAt    time.Time
	TaskID   string
}

type Service struct {
	catalog  catalog.Source
	chars    CharacterReader
	composer *txn.Composer
	tokens   *confirm.Store
	tune     tuning.Tuning
	logger   *log.Logger
	now      func() time.Time
}

func NewService(cat catalog.Source, chars CharacterReader, composer *txn.Composer, tokens *confirm.Store, tune tuning.Tuning, logger *log.Logger) *Service {
	return &Service{
		catalog:  cat,
		chars:    chars,
		composer: composer,
		tokens:   tokens,
		tune:     tune,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Buy(ctx context.Context, req Request) (Outcome, error) {
	return s.Execute(ctx, OpBuy, req)
}

func (s *Service) Craft(ctx context.Context, req Request) (Outcome, error) {
	return s.Execute(ctx, OpCraft, req)
}

func (s *Service) Build(ctx context.Context, req Request) (Outcome, error) {
	return s.Execute(ctx, OpBuild, req)
}

func (s *Service) Learn(ctx context.Context, req Request) (Outcome, error) {
	return s.Execute(ctx, OpLearn, req)
}

// Execute runs one catalog-backed operation end to end. A name that
// does not match exactly yields a PENDING outcome with a confirmation
// handle instead of a commit.
func (s *Service) Execute(ctx context.Context, op string, req Request) (Outcome, error) {
	cats, ok := opCategories[op]
	if !ok {
		return Outcome{}, ErrUnknownOperation
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	if req.TargetRef == "" {
		req.TargetRef = req.RequesterID
	}

	var entries []catalog.Entry
	for _, cat := range cats {
		es, err := s.catalog.Entries(req.GuildID, cat)
		if err != nil {
			return Outcome{}, err
		}
		entries = append(entries, es...)
	}
	res, ok := match.Resolve(req.Name, entries)
	if !ok {
		return Outcome{}, ErrEmptyCatalog
	}
	if !res.Exact {
		tok := s.tokens.Create(req.RequesterID, s.tune.ConfirmTTL(op), confirm.Payload{
			Operation: op,
			GuildID:   req.GuildID,
			TargetRef: req.TargetRef,
			Quantity:  req.Quantity,
			Entry:     res.Entry,
		}, s.now())
		return Outcome{
			Status: StatusPending,
			Suggestion: &Suggestion{
				TokenID:   tok.ID,
				Name:      res.Entry.Name,
				ExpiresAt: tok.ExpiresAt,
			},
		}, nil
	}
	return s.commit(ctx, op, res.Entry, req)
}

// Confirm redeems a suggestion token and proceeds as if the requester
// had typed the suggested name exactly. Redemption is single-use.
func (s *Service) Confirm(ctx context.Context, tokenID, redeemerID string) (Outcome, error) {
	p, err := s.tokens.Redeem(tokenID, redeemerID, s.now())
	if err != nil {
		return Outcome{}, err
	}
	req := Request{
		GuildID:     p.GuildID,
		RequesterID: redeemerID,
		TargetRef:   p.TargetRef,
		Name:        p.Entry.Name,
		Quantity:    p.Quantity,
	}
	return s.commit(ctx, p.Operation, p.Entry, req)
}

// Pay transfers amount to each recipient's active character. The
// whole transfer is one commit: if any recipient lacks an active
// character the error names that player and nothing moves.
func (s *Service) Pay(ctx context.Context, guildID, requesterID string, amount decimal.Decimal, recipients []string) (Outcome, error) {
	if !amount.IsPositive() {
		return Outcome{}, ErrNonPositiveAmount
	}
	if len(recipients) == 0 {
		return Outcome{}, ErrNoRecipients
	}
	payer, err := s.chars.ActiveCharacter(ctx, guildID, requesterID)
	if err != nil {
		return Outcome{}, err
	}
	total := amount.Mul(decimal.NewFromInt(int64(len(recipients))))
	if payer.Money.LessThan(total) {
		return Outcome{Status: StatusShortfall, Shortfall: &validate.Shortfall{
			Code: validate.CodeNoFunds,
			Msg:  "insufficient funds for transfer",
		}}, nil
	}

	now := s.now()
	payerT := txn.Char(payer.ID)
	steps := []txn.Step{
		txn.DebitMoney(payerT, total),
		txn.AppendLedger(payerT, txn.LedgerEntry{
			At:        now,
			Operation: OpPay,
			Direction: txn.DirectionRemove,
			Args:      map[string]string{"money": total.String()},
		}),
	}
	for _, r := range recipients {
		rt := txn.Player(r)
		steps = append(steps,
			txn.CreditMoney(rt, amount),
			txn.AppendLedger(rt, txn.LedgerEntry{
				At:        now,
				Operation: OpPay,
				Direction: txn.DirectionAdd,
				Args:      map[string]string{"money": amount.String()},
			}),
		)
	}
	res := s.composer.Commit(ctx, guildID, steps)
	if !res.Committed {
		return Outcome{}, res.Cause
	}
	return Outcome{Status: StatusOK, Quantity: len(recipients)}, nil
}

func (s *Service) commit(ctx context.Context, op string, e catalog.Entry, req Request) (Outcome, error) {
	// build and learn grant a single instance; a scaled quantity would
	// charge for copies that are never delivered.
	if (op == OpBuild || op == OpLearn) && req.Quantity > 1 {
		return Outcome{
			Status: StatusShortfall,
			Shortfall: &validate.Shortfall{
				Code: validate.CodeQuantityBounds,
				Msg:  fmt.Sprintf("%s accepts a single %s", op, e.Name),
			},
			Entry:    e,
			Quantity: req.Quantity,
		}, nil
	}

	ch, err := s.chars.ActiveCharacter(ctx, req.GuildID, req.TargetRef)
	if err != nil {
		return Outcome{}, err
	}
	// Local validation happens before any store interaction; a
	// shortfall costs nothing.
	if sf := validate.Validate(e, ch, req.Quantity); sf != nil {
		return Outcome{Status: StatusShortfall, Shortfall: sf, Entry: e, Quantity: req.Quantity}, nil
	}

	plan := buildSteps(op, e, ch, req.Quantity, s.now())
	res := s.composer.Commit(ctx, req.GuildID, plan.steps)
	if !res.Committed {
		return Outcome{}, res.Cause
	}
	out := Outcome{
		Status:   StatusOK,
		Entry:    e,
		Quantity: req.Quantity,
		Deferred: plan.deferred,
		DueAt:    plan.dueAt,
	}
	if len(res.TaskIDs) > 0 {
		out.TaskID = res.TaskIDs[0]
	}
	return out, nil
}
