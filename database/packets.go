package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jnesss/ttrace/packet"
	"github.com/jnesss/ttrace/types"
)

// PacketRecord represents a stored trace packet
type PacketRecord struct {
	ID        int64     `json:"id"`
	Session   string    `json:"session"`
	Timestamp time.Time `json:"timestamp"`
	Sec       int32     `json:"sec"`
	Usec      int32     `json:"usec"`
	PID       int16     `json:"pid"`
	EventType string    `json:"eventType"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Code      *int      `json:"code,omitempty"`
	PrevPID   *int16    `json:"prevPid,omitempty"`
	PrevPrio  uint8     `json:"prevPrio,omitempty"`
	PrevState uint8     `json:"prevState,omitempty"`
	PrevComm  string    `json:"prevComm,omitempty"`
	NextPID   *int16    `json:"nextPid,omitempty"`
	NextPrio  uint8     `json:"nextPrio,omitempty"`
	NextComm  string    `json:"nextComm,omitempty"`
	Frame     []byte    `json:"frame"`
}

// Decoded rebuilds the structured packet from the stored columns.
func (r *PacketRecord) Decoded() *packet.Decoded {
	d := &packet.Decoded{
		Timestamp: packet.Timestamp{Sec: r.Sec, Usec: r.Usec},
		PID:       r.PID,
	}
	if len(r.EventType) == 1 {
		d.EventType = types.EventType(r.EventType[0])
	}

	switch r.Kind {
	case packet.KindCode.String():
		var v uint8
		if r.Code != nil {
			v = uint8(*r.Code)
		}
		d.Payload = packet.Code{Value: v}
	case packet.KindScheduler.String():
		sw := packet.SchedulerSwitch{
			Prev: packet.PrevTask{Priority: r.PrevPrio, State: r.PrevState, Name: r.PrevComm},
			Next: packet.NextTask{Priority: r.NextPrio, Name: r.NextComm},
		}
		if r.PrevPID != nil {
			sw.Prev.PID = *r.PrevPID
		}
		if r.NextPID != nil {
			sw.Next.PID = *r.NextPID
		}
		d.Payload = sw
	default:
		d.Payload = packet.Message{Text: r.Message}
	}
	return d
}

// PacketFilter narrows RecentPackets. Zero fields do not filter.
type PacketFilter struct {
	Session   string
	PID       *int
	EventType string
	Kind      string
	AfterID   int64
}

const insertPacketQuery = `
	INSERT INTO trace_packets (
		session, timestamp, ts_sec, ts_usec, pid, event_type, kind,
		message, code,
		prev_pid, prev_prio, prev_state, prev_comm,
		next_pid, next_prio, next_comm,
		frame
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectPackets = `
	SELECT
		id, session, timestamp, ts_sec, ts_usec, pid, event_type, kind,
		message, code,
		prev_pid, prev_prio, prev_state, prev_comm,
		next_pid, next_prio, next_comm,
		frame
	FROM trace_packets`

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func insertPacket(ex execer, session string, d *packet.Decoded, frame []byte) (int64, error) {
	var (
		message                      sql.NullString
		code                         sql.NullInt64
		prevPID, prevPrio, prevState sql.NullInt64
		nextPID, nextPrio            sql.NullInt64
		prevComm, nextComm           sql.NullString
	)
	kind := packet.KindMessage

	switch p := d.Payload.(type) {
	case packet.Message:
		message = sql.NullString{String: p.Text, Valid: true}
	case packet.Code:
		kind = packet.KindCode
		code = sql.NullInt64{Int64: int64(p.Value), Valid: true}
	case packet.SchedulerSwitch:
		kind = packet.KindScheduler
		prevPID = sql.NullInt64{Int64: int64(p.Prev.PID), Valid: true}
		prevPrio = sql.NullInt64{Int64: int64(p.Prev.Priority), Valid: true}
		prevState = sql.NullInt64{Int64: int64(p.Prev.State), Valid: true}
		prevComm = sql.NullString{String: p.Prev.Name, Valid: true}
		nextPID = sql.NullInt64{Int64: int64(p.Next.PID), Valid: true}
		nextPrio = sql.NullInt64{Int64: int64(p.Next.Priority), Valid: true}
		nextComm = sql.NullString{String: p.Next.Name, Valid: true}
	default:
		return 0, fmt.Errorf("packet has no payload")
	}

	res, err := ex.Exec(insertPacketQuery,
		session,
		d.Timestamp.Time().UTC(),
		d.Timestamp.Sec,
		d.Timestamp.Usec,
		d.PID,
		d.EventType.String(),
		kind.String(),
		message,
		code,
		prevPID, prevPrio, prevState, prevComm,
		nextPID, nextPrio, nextComm,
		frame,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert packet: %w", err)
	}
	return res.LastInsertId()
}

// InsertPacket adds one decoded packet and returns its row id.
func (db *DB) InsertPacket(session string, d *packet.Decoded, frame []byte) (int64, error) {
	return insertPacket(db.Db, session, d, frame)
}

// RecentPackets returns up to limit packets matching filter, newest first.
func (db *DB) RecentPackets(limit int, filter PacketFilter) ([]PacketRecord, error) {
	query := selectPackets

	whereClause := []string{}
	args := []interface{}{}

	if filter.Session != "" {
		whereClause = append(whereClause, "session = ?")
		args = append(args, filter.Session)
	}
	if filter.PID != nil {
		whereClause = append(whereClause, "pid = ?")
		args = append(args, *filter.PID)
	}
	if filter.EventType != "" {
		whereClause = append(whereClause, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Kind != "" {
		whereClause = append(whereClause, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.AfterID > 0 {
		whereClause = append(whereClause, "id > ?")
		args = append(args, filter.AfterID)
	}

	if len(whereClause) > 0 {
		query += " WHERE " + strings.Join(whereClause, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPackets(rows)
}

// PacketsAfter returns up to limit packets with an id above lastID, oldest
// first.
func (db *DB) PacketsAfter(lastID int64, limit int) ([]PacketRecord, error) {
	rows, err := db.Db.Query(selectPackets+" WHERE id > ? ORDER BY id ASC LIMIT ?", lastID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPackets(rows)
}

func scanPackets(rows *sql.Rows) ([]PacketRecord, error) {
	var records []PacketRecord
	for rows.Next() {
		var (
			r                            PacketRecord
			message, prevComm, nextComm  sql.NullString
			code, prevPID, nextPID       sql.NullInt64
			prevPrio, prevState, nextPri sql.NullInt64
		)

		err := rows.Scan(
			&r.ID, &r.Session, &r.Timestamp, &r.Sec, &r.Usec, &r.PID, &r.EventType, &r.Kind,
			&message, &code,
			&prevPID, &prevPrio, &prevState, &prevComm,
			&nextPID, &nextPri, &nextComm,
			&r.Frame,
		)
		if err != nil {
			return nil, err
		}

		r.Message = message.String
		if code.Valid {
			c := int(code.Int64)
			r.Code = &c
		}
		if prevPID.Valid {
			p := int16(prevPID.Int64)
			r.PrevPID = &p
		}
		if nextPID.Valid {
			p := int16(nextPID.Int64)
			r.NextPID = &p
		}
		r.PrevPrio = uint8(prevPrio.Int64)
		r.PrevState = uint8(prevState.Int64)
		r.PrevComm = prevComm.String
		r.NextPrio = uint8(nextPri.Int64)
		r.NextComm = nextComm.String

		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CountPackets returns the number of stored packets.
func (db *DB) CountPackets() (int64, error) {
	var n int64
	err := db.Db.QueryRow("SELECT COUNT(*) FROM trace_packets").Scan(&n)
	return n, err
}
