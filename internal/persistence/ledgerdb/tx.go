package ledgerdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kaironbot/economy/internal/economy/character"
	"github.com/kaironbot/economy/internal/economy/schedule"
	"github.com/kaironbot/economy/internal/economy/txn"
)

// Tx is one guild-scoped sqlite session. It implements txn.Tx; every
// mutation re-checks its own invariant (non-negative money and
// inventory) so a stale pre-commit validation can never overdraw.
type Tx struct {
	q       querier
	guildID string
	now     func() time.Time
	ctx     context.Context
}

func (t *Tx) context() context.Context {
	if t.ctx != nil {
		return t.ctx
	}
	return context.Background()
}

func (t *Tx) ActiveCharacter(playerID string) (character.Character, error) {
	return loadActiveCharacter(t.context(), t.q, t.guildID, playerID)
}

func (t *Tx) CharacterByID(id string) (character.Character, error) {
	return loadCharacter(t.context(), t.q,
		`SELECT id, guild_id, player_id, name, status, money FROM characters WHERE guild_id = ? AND id = ?`,
		t.guildID, id)
}

func (t *Tx) DebitMoney(characterID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("negative debit %s", amount)
	}
	var raw string
	err := t.q.QueryRowContext(t.context(),
		`SELECT money FROM characters WHERE guild_id = ? AND id = ?`, t.guildID, characterID).Scan(&raw)
	if err != nil {
		return fmt.Errorf("load money: %w", err)
	}
	money, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("money column: %w", err)
	}
	next := money.Sub(amount)
	if next.IsNegative() {
		return txn.ErrInsufficientFunds
	}
	_, err = t.q.ExecContext(t.context(),
		`UPDATE characters SET money = ? WHERE guild_id = ? AND id = ?`,
		next.String(), t.guildID, characterID)
	return err
}

func (t *Tx) CreditMoney(characterID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("negative credit %s", amount)
	}
	var raw string
	err := t.q.QueryRowContext(t.context(),
		`SELECT money FROM characters WHERE guild_id = ? AND id = ?`, t.guildID, characterID).Scan(&raw)
	if err != nil {
		return fmt.Errorf("load money: %w", err)
	}
	money, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("money column: %w", err)
	}
	_, err = t.q.ExecContext(t.context(),
		`UPDATE characters SET money = ? WHERE guild_id = ? AND id = ?`,
		money.Add(amount).String(), t.guildID, characterID)
	return err
}

func (t *Tx) RemoveItems(characterID, item string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("non-positive remove qty %d", qty)
	}
	res, err := t.q.ExecContext(t.context(),
		`UPDATE inventory SET qty = qty - ? WHERE character_id = ? AND item = ? AND qty >= ?`,
		qty, characterID, item, qty)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return txn.ErrInsufficientItems
	}
	_, err = t.q.ExecContext(t.context(),
		`DELETE FROM inventory WHERE character_id = ? AND item = ? AND qty = 0`, characterID, item)
	return err
}

func (t *Tx) AddItems(characterID, item string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("non-positive add qty %d", qty)
	}
	_, err := t.q.ExecContext(t.context(),
		`INSERT INTO inventory (character_id, item, qty) VALUES (?, ?, ?)
		 ON CONFLICT(character_id, item) DO UPDATE SET qty = qty + excluded.qty`,
		characterID, item, qty)
	return err
}

func (t *Tx) GrantProficiency(characterID, id string) error {
	_, err := t.q.ExecContext(t.context(),
		`INSERT OR IGNORE INTO proficiencies (character_id, proficiency) VALUES (?, ?)`,
		characterID, id)
	return err
}

func (t *Tx) RevokeProficiency(characterID, id string) error {
	res, err := t.q.ExecContext(t.context(),
		`DELETE FROM proficiencies WHERE character_id = ? AND proficiency = ?`, characterID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return txn.ErrNotHeld
	}
	return nil
}

func (t *Tx) AddBuilding(characterID string, b character.Building) error {
	active := 0
	if b.Active {
		active = 1
	}
	_, err := t.q.ExecContext(t.context(),
		`INSERT INTO buildings (character_id, name, type_key, tier, active) VALUES (?, ?, ?, ?, ?)`,
		characterID, b.Name, b.TypeKey, b.Tier, active)
	return err
}

func (t *Tx) RemoveBuilding(characterID, typeKey string, tier int) error {
	res, err := t.q.ExecContext(t.context(),
		`DELETE FROM buildings WHERE id IN (
			SELECT id FROM buildings WHERE character_id = ? AND type_key = ? AND tier = ? LIMIT 1
		)`, characterID, typeKey, tier)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return txn.ErrNotHeld
	}
	return nil
}

func (t *Tx) AppendLedger(characterID string, e txn.LedgerEntry) error {
	at := e.At
	if at.IsZero() {
		at = t.now()
	}
	args, err := json.Marshal(e.Args)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(t.context(),
		`INSERT INTO ledger (guild_id, character_id, at, operation, direction, args_json) VALUES (?, ?, ?, ?, ?, ?)`,
		t.guildID, characterID, at.UTC().Format(time.RFC3339Nano), e.Operation, e.Direction, args)
	return err
}

func (t *Tx) CreateTask(taskType string, dueAt time.Time, args map[string]string) (string, error) {
	id := uuid.NewString()
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	_, err = t.q.ExecContext(t.context(),
		`INSERT INTO tasks (id, guild_id, type, state, scheduled_at, due_at, args_json) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, t.guildID, taskType, schedule.StateScheduled,
		t.now().UTC().Format(time.RFC3339Nano), dueAt.UTC().Format(time.RFC3339Nano), raw)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *Tx) ClaimTask(taskID string) error {
	var state string
	err := t.q.QueryRowContext(t.context(),
		`SELECT state FROM tasks WHERE guild_id = ? AND id = ?`, t.guildID, taskID).Scan(&state)
	if err == sql.ErrNoRows {
		return txn.ErrTaskNotClaimable
	}
	if err != nil {
		return err
	}
	if state != schedule.StateScheduled {
		return txn.ErrTaskNotClaimable
	}
	return nil
}

func (t *Tx) CompleteTask(taskID, state, failure string) error {
	res, err := t.q.ExecContext(t.context(),
		`UPDATE tasks SET state = ?, failure = ? WHERE guild_id = ? AND id = ?`,
		state, failure, t.guildID, taskID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s not found", taskID)
	}
	return nil
}

func (t *Tx) saveCharacter(ctx context.Context, ch character.Character) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT OR REPLACE INTO characters (id, guild_id, player_id, name, status, money) VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.GuildID, ch.PlayerID, ch.Name, ch.Status, ch.Money.String())
	if err != nil {
		return err
	}
	for _, table := range []string{"inventory", "proficiencies", "buildings"} {
		if _, err := t.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE character_id = ?`, ch.ID); err != nil {
			return err
		}
	}
	for item, qty := range ch.Inventory {
		if qty < 0 {
			return txn.ErrInsufficientItems
		}
		if qty == 0 {
			continue
		}
		if err := t.AddItems(ch.ID, item, qty); err != nil {
			return err
		}
	}
	for prof, held := range ch.Proficiencies {
		if !held {
			continue
		}
		if err := t.GrantProficiency(ch.ID, prof); err != nil {
			return err
		}
	}
	for _, bs := range ch.Buildings {
		for _, b := range bs {
			if err := t.AddBuilding(ch.ID, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadActiveCharacter(ctx context.Context, q querier, guildID, playerID string) (character.Character, error) {
	ch, err := loadCharacter(ctx, q,
		`SELECT id, guild_id, player_id, name, status, money FROM characters
		 WHERE guild_id = ? AND player_id = ? AND status = ?`,
		guildID, playerID, character.StatusActive)
	if err == sql.ErrNoRows {
		return character.Character{}, &txn.NoActiveCharacterError{PlayerID: playerID}
	}
	return ch, err
}

func loadCharacter(ctx context.Context, q querier, query string, args ...any) (character.Character, error) {
	var ch character.Character
	var money string
	err := q.QueryRowContext(ctx, query, args...).Scan(&ch.ID, &ch.GuildID, &ch.PlayerID, &ch.Name, &ch.Status, &money)
	if err != nil {
		return ch, err
	}
	if ch.Money, err = decimal.NewFromString(money); err != nil {
		return ch, fmt.Errorf("money column: %w", err)
	}

	ch.Inventory = map[string]int{}
	rows, err := q.QueryContext(ctx, `SELECT item, qty FROM inventory WHERE character_id = ?`, ch.ID)
	if err != nil {
		return ch, err
	}
	for rows.Next() {
		var item string
		var qty int
		if err := rows.Scan(&item, &qty); err != nil {
			rows.Close()
			return ch, err
		}
		ch.Inventory[item] = qty
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ch, err
	}

	ch.Proficiencies = map[string]bool{}
	rows, err = q.QueryContext(ctx, `SELECT proficiency FROM proficiencies WHERE character_id = ?`, ch.ID)
	if err != nil {
		return ch, err
	}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return ch, err
		}
		ch.Proficiencies[p] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ch, err
	}

	ch.Buildings = map[string][]character.Building{}
	rows, err = q.QueryContext(ctx, `SELECT name, type_key, tier, active FROM buildings WHERE character_id = ? ORDER BY id`, ch.ID)
	if err != nil {
		return ch, err
	}
	for rows.Next() {
		var b character.Building
		var active int
		if err := rows.Scan(&b.Name, &b.TypeKey, &b.Tier, &active); err != nil {
			rows.Close()
			return ch, err
		}
		b.Active = active != 0
		ch.Buildings[b.TypeKey] = append(ch.Buildings[b.TypeKey], b)
	}
	rows.Close()
	return ch, rows.Err()
}
