package ops

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kaironbot/economy/internal/economy/catalog"
	"github.com/kaironbot/economy/internal/economy/character"
	"github.com/kaironbot/economy/internal/economy/confirm"
	"github.com/kaironbot/economy/internal/economy/tuning"
	"github.com/kaironbot/economy/internal/economy/txn"
	"github.com/kaironbot/economy/internal/economy/validate"
	"github.com/kaironbot/economy/internal/persistence/ledgerdb"
)

func testEntries() []catalog.Entry {
	return []catalog.Entry{
		{
			ID:           "longsword",
			Name:         "Longsword",
			Category:     catalog.CategoryItem,
			MoneyCost:    decimal.NewFromInt(50),
			MaterialCost: map[string]int{"wood": 2},
		},
		{
			ID:        "shortsword",
			Name:      "Shortsword",
			Category:  catalog.CategoryItem,
			MoneyCost: decimal.NewFromInt(30),
		},
		{
			ID:           "masterwork_blade",
			Name:         "Masterwork Blade",
			Category:     catalog.CategoryItem,
			MoneyCost:    decimal.NewFromInt(80),
			DelaySeconds: 3600,
		},
		{
			ID:              "forge_t1",
			Name:            "Forge",
			Category:        catalog.CategoryBuilding,
			MoneyCost:       decimal.NewFromInt(200),
			BuildingTypeKey: "forge",
			BuildingTier:    1,
		},
		{
			ID:        "elvish",
			Name:      "Elvish",
			Category:  catalog.CategoryLanguage,
			MoneyCost: decimal.NewFromInt(20),
		},
	}
}

func newTestService(t *testing.T) (*Service, *ledgerdb.Store) {
	t.Helper()
	store, err := ledgerdb.Open(filepath.Join(t.TempDir(), "economy.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	composer := txn.NewComposer(store, nil, nil)
	svc := NewService(catalog.NewStatic(testEntries()), store, composer, confirm.NewStore(), tuning.Default(), nil)
	return svc, store
}

func seedCharacter(t *testing.T, store *ledgerdb.Store, ch character.Character) {
	t.Helper()
	if err := store.SaveCharacter(context.Background(), ch); err != nil {
		t.Fatalf("save character: %v", err)
	}
}

func buyer() character.Character {
	return character.Character{
		ID:        "c1",
		GuildID:   "g1",
		PlayerID:  "p1",
		Name:      "Arel",
		Status:    character.StatusActive,
		Money:     decimal.NewFromInt(100),
		Inventory: map[string]int{"wood": 5},
	}
}

func TestBuy_ExactNameCommits(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedCharacter(t, store, buyer())

	out, err := svc.Buy(ctx, Request{GuildID: "g1", RequesterID: "p1", Name: "Longsword"})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if out.Status != StatusOK || out.Entry.ID != "longsword" || out.Quantity != 1 {
		t.Fatalf("outcome = %+v", out)
	}

	ch, err := store.ActiveCharacter(ctx, "g1", "p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ch.Money.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("money = %s, want 50", ch.Money)
	}
	if ch.Inventory["wood"] != 3 || ch.Inventory["longsword"] != 1 {
		t.Fatalf("inventory = %v", ch.Inventory)
	}

	entries, err := store.LedgerEntries(ctx, "g1", "c1")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected paired REMOVE/ADD entries, got %d", len(entries))
	}
	if entries[0].Direction != txn.DirectionRemove || entries[0].Args["money"] != "50" || entries[0].Args["wood"] != "2" {
		t.Fatalf("remove entry = %+v", entries[0])
	}
	if entries[1].Direction != txn.DirectionAdd || entries[1].Args["longsword"] != "1" {
		t.Fatalf("add entry = %+v", entries[1])
	}
}

func TestBuy_ShortfallCostsNothing(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	poor := buyer()
	poor.Money = decimal.NewFromInt(10)
	seedCharacter(t, store, poor)

	out, err := svc.Buy(ctx, Request{GuildID: "g1", RequesterID: "p1", Name: "Longsword"})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if out.Status != StatusShortfall || out.Shortfall == nil || out.Shortfall.Code != validate.CodeNoFunds {
		t.Fatalf("outcome = %+v", out)
	}

	ch, _ := store.ActiveCharacter(ctx, "g1", "p1")
	if !ch.Money.Equal(decimal.NewFromInt(10)) || ch.Inventory["wood"] != 5 {
		t.Fatalf("shortfall mutated state: money=%s inventory=%v", ch.Money, ch.Inventory)
	}
	entries, _ := store.LedgerEntries(ctx, "g1", "c1")
	if len(entries) != 0 {
		t.Fatalf("shortfall wrote ledger entries: %+v", entries)
	}
}

func TestBuy_FuzzyNameSuggestsThenConfirms(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedCharacter(t, store, buyer())

	out, err := svc.Buy(ctx, Request{GuildID: "g1", RequesterID: "p1", Name: "Longsowrd"})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if out.Status != StatusPending || out.Suggestion == nil || out.Suggestion.Name != "Longsword" {
		t.Fatalf("outcome = %+v", out)
	}

	// A misspelling commits nothing on its own.
	ch, _ := store.ActiveCharacter(ctx, "g1", "p1")
	if !ch.Money.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("pending suggestion charged money: %s", ch.Money)
	}

	confirmed, err := svc.Confirm(ctx, out.Suggestion.TokenID, "p1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusOK || confirmed.Entry.ID != "longsword" {
		t.Fatalf("confirmed = %+v", confirmed)
	}
	ch, _ = store.ActiveCharacter(ctx, "g1", "p1")
	if !ch.Money.Equal(decimal.NewFromInt(50)) || ch.Inventory["longsword"] != 1 {
		t.Fatalf("confirm did not commit: money=%s inventory=%v", ch.Money, ch.Inventory)
	}

	// The token is consumed; a second redemption is gone.
	if _, err := svc.Confirm(ctx, out.Suggestion.TokenID, "p1"); !errors.Is(err, confirm.ErrExpired) {
		t.Fatalf("expected ErrExpired on reuse, got %v", err)
	}
}

func TestConfirm_OtherPlayerForbidden(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedCharacter(t, store, buyer())

	out, err := svc.Buy(ctx, Request{GuildID: "g1", RequesterID: "p1", Name: "Shortswrod"})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if out.Status != StatusPending {
		t.Fatalf("outcome = %+v", out)
	}

	if _, err := svc.Confirm(ctx, out.Suggestion.TokenID, "p2"); !errors.Is(err, confirm.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// The rightful owner can still redeem afterwards.
	if _, err := svc.Confirm(ctx, out.Suggestion.TokenID, "p1"); err != nil {
		t.Fatalf("owner redeem after forbidden attempt: %v", err)
	}
}

func TestCraft_DelayedEntryDefers(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedCharacter(t, store, buyer())

	out, err := svc.Craft(ctx, Request{GuildID: "g1", RequesterID: "p1", Name: "Masterwork Blade"})
	if err != nil {
		t.Fatalf("craft: %v", err)
	}
	if out.Status != StatusOK || !out.Deferred || out.TaskID == "" {
		t.Fatalf("outcome = %+v", out)
	}

	// Cost side committed now; the grant waits for the dispatcher.
	ch, _ := store.ActiveCharacter(ctx, "g1", "p1")
	if !ch.Money.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("money = %s, want 20", ch.Money)
	}
	if ch.Inventory["masterwork_blade"] != 0 {
		t.Fatalf("deferred grant delivered early: %v", ch.Inventory)
	}

	task, err := store.Task(ctx, out.TaskID)
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if task.Args["item"] != "masterwork_blade" || task.Args["character_id"] != "c1" {
		t.Fatalf("task args = %v", task.Args)
	}
	if !task.DueAt.Equal(out.DueAt) {
		t.Fatalf("due at mismatch: task=%s outcome=%s", task.DueAt, out.DueAt)
	}

	entries, _ := store.LedgerEntries(ctx, "g1", "c1")
	if len(entries) != 1 || entries[0].Direction != txn.DirectionRemove {
		t.Fatalf("expected only the REMOVE entry, got %+v", entries)
	}
}

func TestLearn_GrantsProficiency(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedCharacter(t, store, buyer())

	out, err := svc.Learn(ctx, Request{GuildID: "g1", RequesterID: "p1", Name: "Elvish"})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if out.Status != StatusOK {
		t.Fatalf("outcome = %+v", out)
	}
	ch, _ := store.ActiveCharacter(ctx, "g1", "p1")
	if !ch.Proficiencies["elvish"] {
		t.Fatalf("proficiency not granted: %v", ch.Proficiencies)
	}
}

func TestBuild_ReplacesLowerTier(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	rich := buyer()
	rich.Money = decimal.NewFromInt(500)
	seedCharacter(t, store, rich)

	out, err := svc.Build(ctx, Request{GuildID: "g1", RequesterID: "p1", Name: "Forge"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.Status != StatusOK {
		t.Fatalf("outcome = %+v", out)
	}
	ch, _ := store.ActiveCharacter(ctx, "g1", "p1")
	forges := ch.Buildings["forge"]
	if len(forges) != 1 || forges[0].Tier != 1 || !forges[0].Active {
		t.Fatalf("buildings = %v", ch.Buildings)
	}
}

func TestBuild_RejectsQuantityAboveOne(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	rich := buyer()
	rich.Money = decimal.NewFromInt(600)
	seedCharacter(t, store, rich)

	out, err := svc.Build(ctx, Request{GuildID: "g1", RequesterID: "p1", Name: "Forge", Quantity: 2})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if out.Status != StatusShortfall || out.Shortfall == nil || out.Shortfall.Code != validate.CodeQuantityBounds {
		t.Fatalf("outcome = %+v", out)
	}

	// Nothing may be charged for copies that cannot be granted.
	ch, _ := store.ActiveCharacter(ctx, "g1", "p1")
	if !ch.Money.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("money = %s, want 600", ch.Money)
	}
	if len(ch.Buildings["forge"]) != 0 {
		t.Fatalf("buildings = %v", ch.Buildings)
	}
	entries, _ := store.LedgerEntries(ctx, "g1", "c1")
	if len(entries) != 0 {
		t.Fatalf("rejected build wrote ledger entries: %+v", entries)
	}
}

func TestLearn_RejectsQuantityAboveOne(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedCharacter(t, store, buyer())

	out, err := svc.Learn(ctx, Request{GuildID: "g1", RequesterID: "p1", Name: "Elvish", Quantity: 3})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if out.Status != StatusShortfall || out.Shortfall == nil || out.Shortfall.Code != validate.CodeQuantityBounds {
		t.Fatalf("outcome = %+v", out)
	}

	ch, _ := store.ActiveCharacter(ctx, "g1", "p1")
	if !ch.Money.Equal(decimal.NewFromInt(100)) || ch.Proficiencies["elvish"] {
		t.Fatalf("rejected learn mutated state: money=%s proficiencies=%v", ch.Money, ch.Proficiencies)
	}
}

func TestConfirm_RejectsQuantityAboveOneForSingleGrant(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedCharacter(t, store, buyer())

	// The quantity survives inside the token; the rule still applies
	// at redemption.
	out, err := svc.Learn(ctx, Request{GuildID: "g1", RequesterID: "p1", Name: "Elvsh", Quantity: 2})
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	if out.Status != StatusPending {
		t.Fatalf("outcome = %+v", out)
	}
	confirmed, err := svc.Confirm(ctx, out.Suggestion.TokenID, "p1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusShortfall || confirmed.Shortfall.Code != validate.CodeQuantityBounds {
		t.Fatalf("confirmed = %+v", confirmed)
	}
	ch, _ := store.ActiveCharacter(ctx, "g1", "p1")
	if !ch.Money.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("money = %s, want 100", ch.Money)
	}
}

func TestExecute_UnknownOperation(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Execute(context.Background(), "steal", Request{GuildID: "g1", RequesterID: "p1", Name: "Longsword"}); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestExecute_NoActiveCharacter(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Buy(context.Background(), Request{GuildID: "g1", RequesterID: "ghost", Name: "Longsword"})
	var noChar *txn.NoActiveCharacterError
	if !errors.As(err, &noChar) || noChar.PlayerID != "ghost" {
		t.Fatalf("expected NoActiveCharacterError for ghost, got %v", err)
	}
}

func TestPay_TransfersToEachRecipient(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedCharacter(t, store, buyer())
	seedCharacter(t, store, character.Character{
		ID: "c2", GuildID: "g1", PlayerID: "p2", Name: "Brin",
		Status: character.StatusActive, Money: decimal.Zero,
	})
	seedCharacter(t, store, character.Character{
		ID: "c3", GuildID: "g1", PlayerID: "p3", Name: "Corm",
		Status: character.StatusActive, Money: decimal.NewFromInt(5),
	})

	out, err := svc.Pay(ctx, "g1", "p1", decimal.NewFromInt(30), []string{"p2", "p3"})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if out.Status != StatusOK {
		t.Fatalf("outcome = %+v", out)
	}

	payer, _ := store.ActiveCharacter(ctx, "g1", "p1")
	if !payer.Money.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("payer money = %s, want 40", payer.Money)
	}
	r2, _ := store.ActiveCharacter(ctx, "g1", "p2")
	r3, _ := store.ActiveCharacter(ctx, "g1", "p3")
	if !r2.Money.Equal(decimal.NewFromInt(30)) || !r3.Money.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("recipient money = %s, %s", r2.Money, r3.Money)
	}

	payerEntries, _ := store.LedgerEntries(ctx, "g1", "c1")
	if len(payerEntries) != 1 || payerEntries[0].Direction != txn.DirectionRemove || payerEntries[0].Args["money"] != "60" {
		t.Fatalf("payer ledger = %+v", payerEntries)
	}
	r2Entries, _ := store.LedgerEntries(ctx, "g1", "c2")
	if len(r2Entries) != 1 || r2Entries[0].Direction != txn.DirectionAdd || r2Entries[0].Args["money"] != "30" {
		t.Fatalf("recipient ledger = %+v", r2Entries)
	}
}

func TestPay_MissingRecipientMovesNothing(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedCharacter(t, store, buyer())
	seedCharacter(t, store, character.Character{
		ID: "c2", GuildID: "g1", PlayerID: "p2", Name: "Brin",
		Status: character.StatusActive, Money: decimal.Zero,
	})

	_, err := svc.Pay(ctx, "g1", "p1", decimal.NewFromInt(10), []string{"p2", "ghost"})
	var noChar *txn.NoActiveCharacterError
	if !errors.As(err, &noChar) || noChar.PlayerID != "ghost" {
		t.Fatalf("expected NoActiveCharacterError for ghost, got %v", err)
	}

	payer, _ := store.ActiveCharacter(ctx, "g1", "p1")
	r2, _ := store.ActiveCharacter(ctx, "g1", "p2")
	if !payer.Money.Equal(decimal.NewFromInt(100)) || !r2.Money.IsZero() {
		t.Fatalf("partial transfer survived: payer=%s recipient=%s", payer.Money, r2.Money)
	}
}

func TestPay_RejectsBadInput(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seedCharacter(t, store, buyer())

	if _, err := svc.Pay(ctx, "g1", "p1", decimal.Zero, []string{"p2"}); !errors.Is(err, ErrNonPositiveAmount) {
		t.Fatalf("expected ErrNonPositiveAmount, got %v", err)
	}
	if _, err := svc.Pay(ctx, "g1", "p1", decimal.NewFromInt(-5), []string{"p2"}); !errors.Is(err, ErrNonPositiveAmount) {
		t.Fatalf("expected ErrNonPositiveAmount for negative, got %v", err)
	}
	if _, err := svc.Pay(ctx, "g1", "p1", decimal.NewFromInt(5), nil); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestPay_ShortfallBeforeAnyCommit(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedCharacter(t, store, buyer())
	seedCharacter(t, store, character.Character{
		ID: "c2", GuildID: "g1", PlayerID: "p2", Name: "Brin",
		Status: character.StatusActive, Money: decimal.Zero,
	})

	out, err := svc.Pay(ctx, "g1", "p1", decimal.NewFromInt(60), []string{"p2", "p2"})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if out.Status != StatusShortfall || out.Shortfall == nil {
		t.Fatalf("outcome = %+v", out)
	}
	payer, _ := store.ActiveCharacter(ctx, "g1", "p1")
	if !payer.Money.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("shortfall debited payer: %s", payer.Money)
	}
}
