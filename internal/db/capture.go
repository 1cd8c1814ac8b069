package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/sigcap/internal/packet"
)

// ErrNoCapture is returned when a database holds no capture with the
// requested id.
var ErrNoCapture = errors.New("no capture in database")

// Channel is one stored channel.
type Channel struct {
	Index   int
	Name    string
	Type    string
	Enabled bool
}

// Capture describes one recorded run.
type Capture struct {
	ID          string
	CreatedAt   time.Time
	EndedAt     time.Time
	Driver      string
	Vendor      string
	Model       string
	Version     string
	Conn        string
	SampleRate  int64
	UnitSize    int
	PacketCount int64
	SampleCount int64
	Channels    []Channel
}

// Writer appends the packets of one capture inside a single transaction.
type Writer struct {
	db   *DB
	tx   *sql.Tx
	stmt *sql.Stmt
	id   string

	seq        int64
	samples    int64
	sampleRate int64
	unitSize   int
}

// NewCapture records c and returns a writer for its packets. Close commits.
func (db *DB) NewCapture(c Capture) (*Writer, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`INSERT INTO captures (id, created_at, driver, vendor, model, version, conn, samplerate, unitsize)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CreatedAt.UTC(), c.Driver, c.Vendor, c.Model, c.Version, c.Conn, c.SampleRate, c.UnitSize,
	)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to insert capture: %w", err)
	}
	for _, ch := range c.Channels {
		if _, err := tx.Exec(
			`INSERT INTO channels (capture_id, idx, name, type, enabled) VALUES (?, ?, ?, ?, ?)`,
			c.ID, ch.Index, ch.Name, ch.Type, ch.Enabled,
		); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to insert channel %s: %w", ch.Name, err)
		}
	}
	stmt, err := tx.Prepare(`INSERT INTO packets (capture_id, seq, kind, record) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return &Writer{db: db, tx: tx, stmt: stmt, id: c.ID, sampleRate: c.SampleRate, unitSize: c.UnitSize}, nil
}

// Write stores p. Header and End packets are not stored; a loaded capture
// gets fresh ones from its session.
func (w *Writer) Write(p *packet.Packet) error {
	switch p.Kind {
	case packet.KindHeader, packet.KindEnd:
		return nil
	case packet.KindMeta:
		if rate, ok := p.Meta.SampleRate(); ok {
			w.sampleRate = rate
		}
	case packet.KindLogic:
		w.unitSize = p.Logic.UnitSize
		w.samples += int64(p.Logic.Samples())
	}
	rec, err := packet.MarshalRecord(packet.ToRecord(p))
	if err != nil {
		return err
	}
	w.seq++
	if _, err := w.stmt.Exec(w.id, w.seq, int(p.Kind), rec); err != nil {
		return fmt.Errorf("failed to insert packet %d: %w", w.seq, err)
	}
	return nil
}

// Close stores the capture totals and commits.
func (w *Writer) Close() error {
	defer w.stmt.Close()
	_, err := w.tx.Exec(
		`UPDATE captures SET ended_at = ?, packet_count = ?, sample_count = ?, samplerate = ?, unitsize = ? WHERE id = ?`,
		time.Now().UTC(), w.seq, w.samples, w.sampleRate, w.unitSize, w.id,
	)
	if err != nil {
		w.tx.Rollback()
		return fmt.Errorf("failed to finish capture: %w", err)
	}
	return w.tx.Commit()
}

// Abort discards everything written.
func (w *Writer) Abort() error {
	w.stmt.Close()
	return w.tx.Rollback()
}

// Captures lists all captures, oldest first, without their channels.
func (db *DB) Captures() ([]Capture, error) {
	rows, err := db.Query(`SELECT id FROM captures ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Capture, 0, len(ids))
	for _, id := range ids {
		c, err := db.Capture(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// LatestCapture returns the most recently created capture.
func (db *DB) LatestCapture() (Capture, error) {
	var id string
	err := db.QueryRow(`SELECT id FROM captures ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Capture{}, ErrNoCapture
	}
	if err != nil {
		return Capture{}, err
	}
	return db.Capture(id)
}

// Capture loads a capture and its channels.
func (db *DB) Capture(id string) (Capture, error) {
	var (
		c       Capture
		endedAt sql.NullTime
	)
	err := db.QueryRow(
		`SELECT id, created_at, ended_at, driver, vendor, model, version, conn, samplerate, unitsize, packet_count, sample_count
		FROM captures WHERE id = ?`, id,
	).Scan(&c.ID, &c.CreatedAt, &endedAt, &c.Driver, &c.Vendor, &c.Model, &c.Version, &c.Conn,
		&c.SampleRate, &c.UnitSize, &c.PacketCount, &c.SampleCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Capture{}, fmt.Errorf("%w: %s", ErrNoCapture, id)
	}
	if err != nil {
		return Capture{}, err
	}
	if endedAt.Valid {
		c.EndedAt = endedAt.Time
	}

	rows, err := db.Query(`SELECT idx, name, type, enabled FROM channels WHERE capture_id = ? ORDER BY idx`, id)
	if err != nil {
		return Capture{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var ch Channel
		if err := rows.Scan(&ch.Index, &ch.Name, &ch.Type, &ch.Enabled); err != nil {
			return Capture{}, err
		}
		c.Channels = append(c.Channels, ch)
	}
	return c, rows.Err()
}

// Packets streams the stored packets of capture id in order until fn fails
// or ctx is done.
func (db *DB) Packets(ctx context.Context, id string, fn func(*packet.Packet) error) error {
	rows, err := db.QueryContext(ctx, `SELECT seq, record FROM packets WHERE capture_id = ? ORDER BY seq`, id)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			seq int64
			raw []byte
		)
		if err := rows.Scan(&seq, &raw); err != nil {
			return err
		}
		rec, _, err := packet.UnmarshalFirst(raw)
		if err != nil {
			return fmt.Errorf("packet %d: %w", seq, err)
		}
		p, err := rec.Packet()
		if err != nil {
			return fmt.Errorf("packet %d: %w", seq, err)
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}
