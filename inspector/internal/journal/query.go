package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/dommirror/dbopen"
	"github.com/hazyhaar/dommirror/mirror"
)

// Session summarises one recorded agent session.
type Session struct {
	ID      string
	Entries int
	First   time.Time
	Last    time.Time
}

// Sessions lists recorded sessions, oldest first.
func (j *Journal) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM mirror_journal GROUP BY session_id ORDER BY MIN(created_at), session_id`)
	if err != nil {
		return nil, fmt.Errorf("journal: sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var first, last int64
		if err := rows.Scan(&s.ID, &s.Entries, &first, &last); err != nil {
			return nil, fmt.Errorf("journal: scan session: %w", err)
		}
		s.First = time.UnixMilli(first)
		s.Last = time.UnixMilli(last)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete drops every entry of a session and reports how many went.
func (j *Journal) Delete(ctx context.Context, session string) (int64, error) {
	if err := j.Flush(ctx); err != nil {
		return 0, err
	}
	res, err := dbopen.Exec(ctx, j.db, `DELETE FROM mirror_journal WHERE session_id = ?`, session)
	if err != nil {
		return 0, fmt.Errorf("journal: delete %s: %w", session, err)
	}
	return res.RowsAffected()
}

// Entries returns the entries of a session in sequence order.
func (j *Journal) Entries(ctx context.Context, session string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT id, session_id, seq, direction, method, call_id, body, created_at
		FROM mirror_journal WHERE session_id = ? ORDER BY seq`, session)
	if err != nil {
		return nil, fmt.Errorf("journal: entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			dir     string
			method  string
			callID  sql.NullInt64
			body    string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Session, &e.Seq, &dir, &method, &callID, &body, &created); err != nil {
			return nil, fmt.Errorf("journal: scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &e.Message); err != nil {
			return nil, fmt.Errorf("journal: decode entry %s: %w", e.ID, err)
		}
		e.Direction = mirror.Direction(dir)
		e.Method = mirror.Method(method)
		e.CallID = mirror.CallID(callID.Int64)
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Replay rebuilds a session's tree in a. The agent should be fresh and its
// transport inert: nothing is sent. Pushes are dispatched as recorded;
// confirmed replies are turned into the equivalent push using the request
// they answered, since a has no pending calls of its own. It returns how
// many messages were applied.
func (j *Journal) Replay(ctx context.Context, session string, a *mirror.Agent) (int, error) {
	entries, err := j.Entries(ctx, session)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("journal: no entries for session %s", session)
	}

	requests := make(map[mirror.CallID]mirror.Request)
	var (
		applied int
		errs    []error
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if e.Direction == mirror.Outbound {
			if req, err := mirror.ParseRequest(e.Message); err == nil && req.CallID != 0 {
				requests[req.CallID] = req
			}
			continue
		}
		m, ok := replayed(a, e.Message, requests)
		if !ok {
			continue
		}
		if err := a.Dispatch(m); err != nil {
			errs = append(errs, fmt.Errorf("seq %d %s: %w", e.Seq, e.Method, err))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

// replayed maps an inbound message to what a fresh agent can apply.
// DocumentUpdated ends a session and is skipped.
func replayed(a *mirror.Agent, m mirror.Message, requests map[mirror.CallID]mirror.Request) (mirror.Message, bool) {
	if m.Method == mirror.MethodDocumentUpdated {
		return m, false
	}
	if !m.Method.IsReply() {
		return m, true
	}
	var id mirror.CallID
	if _, err := m.Arg(0, &id); err != nil {
		return m, false
	}
	req, ok := requests[id]
	if !ok {
		return m, false
	}
	switch m.Method {
	case mirror.MethodDidGetChildNodes:
		var kids []mirror.Payload
		if present, err := m.Arg(1, &kids); err != nil || !present {
			return m, false
		}
		return mirror.NewMessage(mirror.MethodSetChildNodes, req.NodeID, kids), true

	case mirror.MethodDidApplyDomChange, mirror.MethodDidRemoveAttribute:
		if !confirmed(m) {
			return m, false
		}
		n := a.GetNodeForID(req.NodeID)
		if n == nil {
			return m, false
		}
		flat := make([]string, 0, 2*len(n.Attributes())+2)
		set := false
		for _, attr := range n.Attributes() {
			switch {
			case attr.Name != req.Name:
				flat = append(flat, attr.Name, attr.Value)
			case req.Method == mirror.MethodSetAttribute:
				flat = append(flat, attr.Name, req.Value)
				set = true
			}
		}
		if req.Method == mirror.MethodSetAttribute && !set {
			flat = append(flat, req.Name, req.Value)
		}
		return mirror.NewMessage(mirror.MethodAttributesUpdated, req.NodeID, flat), true

	case mirror.MethodDidSetTextNodeValue:
		if !confirmed(m) {
			return m, false
		}
		return mirror.NewMessage(mirror.MethodCharacterDataModified, req.NodeID, req.Value), true
	}
	return m, false
}

func confirmed(m mirror.Message) bool {
	var ok bool
	_, err := m.Arg(1, &ok)
	return err == nil && ok
}
