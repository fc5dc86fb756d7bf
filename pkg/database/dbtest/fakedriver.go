// Copyright 2025 Certen Protocol
//
// Package dbtest is a minimal in-memory database/sql/driver for
// pkg/database's own tests and anything downstream of it (dispatcher,
// reconciler). No sqlmock: the reference's own tests drive real
// database/sql handles directly, so this registers a tiny driver
// implementing just the query shapes Store issues, rather than mocking
// the Querier interface itself.

package dbtest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

func init() {
	sql.Register("isafe_fake", &fakeDriver{})
}

var (
	fakeDBsMu sync.Mutex
	fakeDBs   = map[string]*fakeState{}
	fakeDBSeq int
)

// OpenDB opens a fresh, isolated in-memory database for a single test. All
// connections database/sql opens against the returned *sql.DB (it may open
// more than one under concurrent use) share the same named state, kept in
// the fakeDBs registry by DSN.
func OpenDB(t interface{ Helper() }) *sql.DB {
	t.Helper()
	fakeDBsMu.Lock()
	fakeDBSeq++
	name := fmt.Sprintf("db-%d", fakeDBSeq)
	fakeDBs[name] = newFakeState()
	fakeDBsMu.Unlock()

	db, err := sql.Open("isafe_fake", name)
	if err != nil {
		panic(err)
	}
	return db
}

type fakeDriver struct{}

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	fakeDBsMu.Lock()
	state, ok := fakeDBs[name]
	if !ok {
		state = newFakeState()
		fakeDBs[name] = state
	}
	fakeDBsMu.Unlock()
	return &fakeConn{state: state}, nil
}

// fakeState holds all in-memory tables for one logical database.
type fakeState struct {
	mu sync.Mutex

	accounts     map[string]accountRow
	members      map[[2]string]memberRow
	transactions map[string]txRow
	approvals    map[[2]string]approvalRow
	eventLog     []eventRow
	nextEventID  int64
}

func newFakeState() *fakeState {
	return &fakeState{
		accounts:     make(map[string]accountRow),
		members:      make(map[[2]string]memberRow),
		transactions: make(map[string]txRow),
		approvals:    make(map[[2]string]approvalRow),
		nextEventID:  1,
	}
}

type accountRow struct {
	address       string
	threshold     int64
	authenticator string
	createdAt     int64
}

type memberRow struct {
	account string
	member  string
	weight  int64
	addedAt int64
}

type approvalRow struct {
	digest    string
	account   string
	approver  string
	weight    int64
	approvedAt int64
}

type txRow struct {
	digest    string
	account   string
	proposer  string
	status    string
	createdAt int64
}

type eventRow struct {
	id             int64
	accountAddress string
	firingTxDigest string
	eventType      string
	logicalTS      int64
	content        []byte
}

// fakeConn is a single connection bound to its database's fakeState. Every
// connection database/sql opens for the same DSN shares that state, which
// fakeState.mu guards.
type fakeConn struct {
	state *fakeState
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("isafe_fake: Prepare not supported, use ExecContext/QueryContext")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) { return fakeTx{}, nil }

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

func argValues(args []driver.NamedValue) []interface{} {
	out := make([]interface{}, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()

	a := argValues(args)
	q := query

	switch {
	case strings.Contains(q, "INSERT INTO accounts"):
		c.state.accounts[asString(a[0])] = accountRow{
			address: asString(a[0]), threshold: asInt64(a[1]),
			authenticator: asString(a[2]), createdAt: asInt64(a[3]),
		}
		return fakeResult{rows: 1}, nil

	case strings.Contains(q, "UPDATE accounts SET threshold"):
		addr := asString(a[1])
		row, ok := c.state.accounts[addr]
		if !ok {
			return fakeResult{rows: 0}, nil
		}
		row.threshold = asInt64(a[0])
		c.state.accounts[addr] = row
		return fakeResult{rows: 1}, nil

	case strings.Contains(q, "INSERT INTO members"):
		key := [2]string{asString(a[0]), asString(a[1])}
		c.state.members[key] = memberRow{
			account: asString(a[0]), member: asString(a[1]),
			weight: asInt64(a[2]), addedAt: asInt64(a[3]),
		}
		return fakeResult{rows: 1}, nil

	case strings.Contains(q, "UPDATE members SET weight"):
		key := [2]string{asString(a[1]), asString(a[2])}
		row, ok := c.state.members[key]
		if !ok {
			return fakeResult{rows: 0}, nil
		}
		row.weight = asInt64(a[0])
		c.state.members[key] = row
		return fakeResult{rows: 1}, nil

	case strings.Contains(q, "DELETE FROM members"):
		key := [2]string{asString(a[0]), asString(a[1])}
		if _, ok := c.state.members[key]; !ok {
			return fakeResult{rows: 0}, nil
		}
		delete(c.state.members, key)
		return fakeResult{rows: 1}, nil

	case strings.Contains(q, "INSERT INTO transactions"):
		digest := asString(a[0])
		c.state.transactions[digest] = txRow{
			digest: digest, account: asString(a[1]), proposer: asString(a[2]),
			status: asString(a[3]), createdAt: asInt64(a[4]),
		}
		return fakeResult{rows: 1}, nil

	case strings.Contains(q, "UPDATE transactions SET status"):
		digest := asString(a[1])
		row, ok := c.state.transactions[digest]
		if !ok {
			return fakeResult{rows: 0}, nil
		}
		row.status = asString(a[0])
		c.state.transactions[digest] = row
		return fakeResult{rows: 1}, nil

	case strings.Contains(q, "INSERT INTO approvals"):
		key := [2]string{asString(a[0]), asString(a[2])}
		if _, exists := c.state.approvals[key]; exists {
			return fakeResult{rows: 0}, nil
		}
		c.state.approvals[key] = approvalRow{
			digest: asString(a[0]), account: asString(a[1]), approver: asString(a[2]),
			weight: asInt64(a[3]), approvedAt: asInt64(a[4]),
		}
		return fakeResult{rows: 1}, nil

	case strings.Contains(q, "DELETE FROM approvals"):
		accountAddr := asString(a[0])
		memberAddr := asString(a[1])
		allowedStatuses := map[string]bool{}
		for _, v := range a[2:] {
			allowedStatuses[asString(v)] = true
		}
		var removed int64
		for key, ap := range c.state.approvals {
			if ap.account != accountAddr || ap.approver != memberAddr {
				continue
			}
			tx, ok := c.state.transactions[ap.digest]
			if !ok || !allowedStatuses[tx.status] {
				continue
			}
			delete(c.state.approvals, key)
			removed++
		}
		return fakeResult{rows: removed}, nil

	case strings.Contains(q, "INSERT INTO event_log"):
		row := eventRow{
			id:             c.state.nextEventID,
			accountAddress: asString(a[0]),
			firingTxDigest: asString(a[1]),
			eventType:      asString(a[2]),
			logicalTS:      asInt64(a[3]),
		}
		if b, ok := a[4].([]byte); ok {
			row.content = b
		}
		c.state.nextEventID++
		c.state.eventLog = append(c.state.eventLog, row)
		return fakeResult{rows: 1}, nil

	default:
		return nil, fmt.Errorf("isafe_fake: unrecognized exec query: %s", q)
	}
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()

	a := argValues(args)
	q := query

	switch {
	case strings.Contains(q, "SELECT EXISTS(SELECT 1 FROM accounts"):
		_, ok := c.state.accounts[asString(a[0])]
		return singleRow([]string{"exists"}, []interface{}{ok}), nil

	case strings.Contains(q, "FROM accounts WHERE account_address = $1"):
		row, ok := c.state.accounts[asString(a[0])]
		if !ok {
			return emptyRows([]string{"account_address", "threshold", "authenticator", "created_at"}), nil
		}
		return singleRow(
			[]string{"account_address", "threshold", "authenticator", "created_at"},
			[]interface{}{row.address, row.threshold, row.authenticator, row.createdAt},
		), nil

	case strings.Contains(q, "FROM accounts a") && strings.Contains(q, "JOIN members m"):
		memberAddr := asString(a[0])
		var matches []accountRow
		for _, m := range c.state.members {
			if m.member == memberAddr {
				if acc, ok := c.state.accounts[m.account]; ok {
					matches = append(matches, acc)
				}
			}
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].address < matches[j].address })
		cols := []string{"account_address", "threshold", "authenticator", "created_at"}
		rows := make([][]interface{}, len(matches))
		for i, m := range matches {
			rows[i] = []interface{}{m.address, m.threshold, m.authenticator, m.createdAt}
		}
		return &fakeRows{cols: cols, rows: rows}, nil

	case strings.Contains(q, "FROM members WHERE account_address = $1 ORDER BY member_address"):
		accountAddr := asString(a[0])
		var matches []memberRow
		for _, m := range c.state.members {
			if m.account == accountAddr {
				matches = append(matches, m)
			}
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].member < matches[j].member })
		cols := []string{"account_address", "member_address", "weight", "added_at"}
		rows := make([][]interface{}, len(matches))
		for i, m := range matches {
			rows[i] = []interface{}{m.account, m.member, m.weight, m.addedAt}
		}
		return &fakeRows{cols: cols, rows: rows}, nil

	case strings.Contains(q, "SELECT COALESCE(SUM(weight), 0) FROM members"):
		accountAddr := asString(a[0])
		var total int64
		for _, m := range c.state.members {
			if m.account == accountAddr {
				total += m.weight
			}
		}
		return singleRow([]string{"total"}, []interface{}{total}), nil

	case strings.Contains(q, "SELECT COALESCE(SUM(m.weight), 0)"):
		accountAddr, digest := asString(a[0]), asString(a[1])
		var total int64
		for key, ap := range c.state.approvals {
			if ap.digest != digest {
				continue
			}
			if m, ok := c.state.members[[2]string{accountAddr, key[1]}]; ok {
				total += m.weight
			}
		}
		return singleRow([]string{"total"}, []interface{}{total}), nil

	case strings.Contains(q, "WHERE transaction_digest = $1") && strings.Contains(q, "FROM transactions"):
		row, ok := c.state.transactions[asString(a[0])]
		if !ok {
			return emptyRows([]string{"transaction_digest", "account_address", "proposer_address", "status", "created_at"}), nil
		}
		return singleRow(
			[]string{"transaction_digest", "account_address", "proposer_address", "status", "created_at"},
			[]interface{}{row.digest, row.account, row.proposer, row.status, row.createdAt},
		), nil

	case strings.Contains(q, "AND status = $2"):
		accountAddr, status := asString(a[0]), asString(a[1])
		var matches []txRow
		for _, t := range c.state.transactions {
			if t.account == accountAddr && t.status == status {
				matches = append(matches, t)
			}
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].createdAt < matches[j].createdAt })
		return txRowsResult(matches), nil

	case strings.Contains(q, "FROM transactions WHERE account_address = $1 ORDER BY created_at"):
		accountAddr := asString(a[0])
		var matches []txRow
		for _, t := range c.state.transactions {
			if t.account == accountAddr {
				matches = append(matches, t)
			}
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].createdAt < matches[j].createdAt })
		return txRowsResult(matches), nil

	case strings.Contains(q, "SELECT approver_address, approver_weight FROM approvals"):
		digest := asString(a[0])
		var matches []approvalRow
		for _, ap := range c.state.approvals {
			if ap.digest == digest {
				matches = append(matches, ap)
			}
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].approver < matches[j].approver })
		cols := []string{"approver_address", "approver_weight"}
		rows := make([][]interface{}, len(matches))
		for i, m := range matches {
			rows[i] = []interface{}{m.approver, m.weight}
		}
		return &fakeRows{cols: cols, rows: rows}, nil

	case strings.Contains(q, "FROM event_log WHERE account_address"):
		accountAddr := asString(a[0])
		var matches []eventRow
		for _, e := range c.state.eventLog {
			if e.accountAddress == accountAddr {
				matches = append(matches, e)
			}
		}
		sort.Slice(matches, func(i, j int) bool {
			if matches[i].logicalTS != matches[j].logicalTS {
				return matches[i].logicalTS < matches[j].logicalTS
			}
			return matches[i].id < matches[j].id
		})
		cols := []string{"id", "account_address", "firing_tx_digest", "event_type", "logical_ts", "content"}
		rows := make([][]interface{}, len(matches))
		for i, e := range matches {
			rows[i] = []interface{}{e.id, e.accountAddress, e.firingTxDigest, e.eventType, e.logicalTS, e.content}
		}
		return &fakeRows{cols: cols, rows: rows}, nil

	default:
		return nil, fmt.Errorf("isafe_fake: unrecognized query query: %s", q)
	}
}

func txRowsResult(matches []txRow) driver.Rows {
	cols := []string{"transaction_digest", "account_address", "proposer_address", "status", "created_at"}
	rows := make([][]interface{}, len(matches))
	for i, t := range matches {
		rows[i] = []interface{}{t.digest, t.account, t.proposer, t.status, t.createdAt}
	}
	return &fakeRows{cols: cols, rows: rows}
}

func singleRow(cols []string, values []interface{}) driver.Rows {
	return &fakeRows{cols: cols, rows: [][]interface{}{values}}
}

func emptyRows(cols []string) driver.Rows {
	return &fakeRows{cols: cols}
}

type fakeResult struct {
	rows int64
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error)  { return r.rows, nil }

// fakeRows implements driver.Rows over a fixed, pre-materialized result set.
type fakeRows struct {
	cols []string
	rows [][]interface{}
	pos  int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	row := r.rows[r.pos]
	for i, v := range row {
		dest[i] = v
	}
	r.pos++
	return nil
}
