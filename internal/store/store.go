// Package store persists engine snapshots and the audit journal in SQLite.
// It is the engine's commit sink: every mutation lands as one transaction
// carrying the new snapshot and its audit record.
package store

import (
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"

	"github.com/saadverse/presale-engine/internal/engine"
)

var ErrNoSnapshot = errors.New("no snapshot stored")

type Store struct {
	db *sql.DB
}

// Open opens (and if needed bootstraps) the database at dbPath. Use
// ":memory:" for tests.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			current_phase INTEGER NOT NULL,
			paused INTEGER NOT NULL,
			wl_required INTEGER NOT NULL,
			ended INTEGER NOT NULL,
			eth_receiver TEXT NOT NULL,
			stable_receiver TEXT NOT NULL,
			has_schedule INTEGER NOT NULL,
			claim_start INTEGER NOT NULL,
			cliff INTEGER NOT NULL,
			duration INTEGER NOT NULL,
			total_purchased TEXT NOT NULL,
			total_claimed TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS phases (
			idx INTEGER PRIMARY KEY,
			price6 TEXT NOT NULL,
			cap18 TEXT NOT NULL,
			sold18 TEXT NOT NULL,
			deadline INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS accounts (
			address TEXT PRIMARY KEY,
			purchased18 TEXT NOT NULL,
			claimed18 TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS whitelist (
			address TEXT PRIMARY KEY
		)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			seq INTEGER PRIMARY KEY,
			ts INTEGER NOT NULL,
			actor TEXT NOT NULL,
			op TEXT NOT NULL,
			params TEXT NOT NULL,
			before_state TEXT NOT NULL,
			after_state TEXT NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_op ON audit_log(op)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// Commit implements engine.CommitSink.
func (s *Store) Commit(snap engine.Snapshot, rec engine.AuditRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	hasSchedule := 0
	var claimStart, cliff, duration int64
	if snap.Schedule != nil {
		hasSchedule = 1
		claimStart = snap.Schedule.ClaimStartUnix
		cliff = snap.Schedule.CliffSeconds
		duration = snap.Schedule.DurationSeconds
	}

	_, err = tx.Exec(
		`INSERT INTO state (id, version, seq, current_phase, paused, wl_required, ended,
			eth_receiver, stable_receiver, has_schedule, claim_start, cliff, duration,
			total_purchased, total_claimed)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			seq = excluded.seq,
			current_phase = excluded.current_phase,
			paused = excluded.paused,
			wl_required = excluded.wl_required,
			ended = excluded.ended,
			eth_receiver = excluded.eth_receiver,
			stable_receiver = excluded.stable_receiver,
			has_schedule = excluded.has_schedule,
			claim_start = excluded.claim_start,
			cliff = excluded.cliff,
			duration = excluded.duration,
			total_purchased = excluded.total_purchased,
			total_claimed = excluded.total_claimed`,
		snap.Version, snap.Seq, snap.CurrentPhase, b2i(snap.Paused), b2i(snap.WhitelistRequired), b2i(snap.Ended),
		snap.EthReceiver, snap.StableReceiver, hasSchedule, claimStart, cliff, duration,
		snap.TotalPurchased18, snap.TotalClaimed18,
	)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM phases`); err != nil {
		return err
	}
	for i, ph := range snap.Phases {
		if _, err := tx.Exec(
			`INSERT INTO phases (idx, price6, cap18, sold18, deadline) VALUES (?, ?, ?, ?, ?)`,
			i, ph.PriceUSD6, ph.CapTokens18, ph.SoldTokens18, ph.DeadlineUnix,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM whitelist`); err != nil {
		return err
	}
	for _, a := range snap.Whitelist {
		if _, err := tx.Exec(`INSERT INTO whitelist (address) VALUES (?)`, a); err != nil {
			return err
		}
	}

	for _, a := range snap.Accounts {
		if _, err := tx.Exec(
			`INSERT INTO accounts (address, purchased18, claimed18) VALUES (?, ?, ?)
			 ON CONFLICT(address) DO UPDATE SET
				purchased18 = excluded.purchased18,
				claimed18 = excluded.claimed18`,
			a.Address, a.Purchased18, a.Claimed18,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO audit_log (seq, ts, actor, op, params, before_state, after_state, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Seq, rec.TimeUnix, rec.Actor, rec.Op, rec.Params, rec.Before, rec.After, rec.Reason,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// LoadSnapshot restores the last committed snapshot, or ErrNoSnapshot for a
// fresh database.
func (s *Store) LoadSnapshot() (engine.Snapshot, error) {
	var snap engine.Snapshot
	var paused, wlRequired, ended, hasSchedule int
	var claimStart, cliff, duration int64

	err := s.db.QueryRow(
		`SELECT version, seq, current_phase, paused, wl_required, ended,
			eth_receiver, stable_receiver, has_schedule, claim_start, cliff, duration,
			total_purchased, total_claimed
		 FROM state WHERE id = 1`,
	).Scan(&snap.Version, &snap.Seq, &snap.CurrentPhase, &paused, &wlRequired, &ended,
		&snap.EthReceiver, &snap.StableReceiver, &hasSchedule, &claimStart, &cliff, &duration,
		&snap.TotalPurchased18, &snap.TotalClaimed18)
	if err == sql.ErrNoRows {
		return engine.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return engine.Snapshot{}, err
	}

	snap.Paused = paused != 0
	snap.WhitelistRequired = wlRequired != 0
	snap.Ended = ended != 0
	if hasSchedule != 0 {
		snap.Schedule = &engine.VestingSchedule{
			ClaimStartUnix:  claimStart,
			CliffSeconds:    cliff,
			DurationSeconds: duration,
		}
	}

	rows, err := s.db.Query(`SELECT price6, cap18, sold18, deadline FROM phases ORDER BY idx`)
	if err != nil {
		return engine.Snapshot{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ph engine.PhaseSnapshot
		if err := rows.Scan(&ph.PriceUSD6, &ph.CapTokens18, &ph.SoldTokens18, &ph.DeadlineUnix); err != nil {
			return engine.Snapshot{}, err
		}
		snap.Phases = append(snap.Phases, ph)
	}

	wl, err := s.db.Query(`SELECT address FROM whitelist ORDER BY address`)
	if err != nil {
		return engine.Snapshot{}, err
	}
	defer wl.Close()
	for wl.Next() {
		var a string
		if err := wl.Scan(&a); err != nil {
			return engine.Snapshot{}, err
		}
		snap.Whitelist = append(snap.Whitelist, a)
	}

	accts, err := s.db.Query(`SELECT address, purchased18, claimed18 FROM accounts ORDER BY address`)
	if err != nil {
		return engine.Snapshot{}, err
	}
	defer accts.Close()
	for accts.Next() {
		var a engine.AccountSnapshot
		if err := accts.Scan(&a.Address, &a.Purchased18, &a.Claimed18); err != nil {
			return engine.Snapshot{}, err
		}
		snap.Accounts = append(snap.Accounts, a)
	}

	return snap, nil
}

// ListAudit returns the most recent audit records, newest first.
func (s *Store) ListAudit(limit int) ([]engine.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT seq, ts, actor, op, params, before_state, after_state, reason
		 FROM audit_log ORDER BY seq DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []engine.AuditRecord
	for rows.Next() {
		var r engine.AuditRecord
		if err := rows.Scan(&r.Seq, &r.TimeUnix, &r.Actor, &r.Op, &r.Params, &r.Before, &r.After, &r.Reason); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
