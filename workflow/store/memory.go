// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/workflow"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a workflow.TxStore backed by maps. Safe for concurrent use.
type Memory struct {
	mu sync.RWMutex
	d  *tables
}

func NewMemory() *Memory {
	return &Memory{d: newTables()}
}

func (m *Memory) SaveUser(ctx context.Context, u workflow.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveUser(ctx, u)
}

func (m *Memory) GetUser(ctx context.Context, id string) (*workflow.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetUser(ctx, id)
}

func (m *Memory) SearchUsers(ctx context.Context, q workflow.UserQuery) ([]workflow.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.SearchUsers(ctx, q)
}

func (m *Memory) CreateSubstitution(ctx context.Context, s workflow.Substitution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateSubstitution(ctx, s)
}

func (m *Memory) GetSubstitution(ctx context.Context, id string) (*workflow.Substitution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetSubstitution(ctx, id)
}

func (m *Memory) ListSubstitutions(ctx context.Context, q workflow.SubstitutionQuery) ([]workflow.Substitution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListSubstitutions(ctx, q)
}

func (m *Memory) SetSubstitutionStatus(ctx context.Context, id string, from, to workflow.SubstitutionStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SetSubstitutionStatus(ctx, id, from, to, at)
}

func (m *Memory) CreateLeave(ctx context.Context, l workflow.LeaveRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateLeave(ctx, l)
}

func (m *Memory) GetLeave(ctx context.Context, id string) (*workflow.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetLeave(ctx, id)
}

func (m *Memory) ListLeaves(ctx context.Context, q workflow.LeaveQuery) ([]workflow.LeaveRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListLeaves(ctx, q)
}

func (m *Memory) SetLeaveStatus(ctx context.Context, id string, from, to workflow.LeaveStatus, decidedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SetLeaveStatus(ctx, id, from, to, decidedBy, at)
}

func (m *Memory) GetBalance(ctx context.Context, userID string) (*workflow.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetBalance(ctx, userID)
}

func (m *Memory) SaveBalance(ctx context.Context, b workflow.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SaveBalance(ctx, b)
}

func (m *Memory) AppendLeaveAction(ctx context.Context, a workflow.LeaveAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.AppendLeaveAction(ctx, a)
}

func (m *Memory) ListLeaveActions(ctx context.Context, leaveID string) ([]workflow.LeaveAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListLeaveActions(ctx, leaveID)
}

func (m *Memory) CreateWorkRecord(ctx context.Context, w workflow.WorkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateWorkRecord(ctx, w)
}

func (m *Memory) GetWorkRecord(ctx context.Context, id string) (*workflow.WorkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.GetWorkRecord(ctx, id)
}

func (m *Memory) ListWorkRecords(ctx context.Context, q workflow.WorkQuery) ([]workflow.WorkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListWorkRecords(ctx, q)
}

func (m *Memory) SetWorkRecordStatus(ctx context.Context, id string, from, to workflow.WorkStatus, decidedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.SetWorkRecordStatus(ctx, id, from, to, decidedBy, at)
}

func (m *Memory) AppendCredit(ctx context.Context, c workflow.Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.AppendCredit(ctx, c)
}

func (m *Memory) CreditExists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.CreditExists(ctx, key)
}

func (m *Memory) ListCredits(ctx context.Context, userID string) ([]workflow.Credit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.d.ListCredits(ctx, userID)
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(workflow.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(m.d); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.d = newTables()
	return nil
}

// =============================================================================
// TABLES - Unlocked storage, also serves as the transactional view
// =============================================================================

type tables struct {
	users         map[string]workflow.User
	substitutions map[string]workflow.Substitution
	leaves        map[string]workflow.LeaveRequest
	balances      map[string]workflow.Balance
	work          map[string]workflow.WorkRecord

	// append-only, in insertion order
	actions []workflow.LeaveAction
	credits []workflow.Credit
	keys    map[string]bool

	// insertion order, used as a tie-breaker for equal CreatedAt
	seq  map[string]int
	next int
}

func newTables() *tables {
	return &tables{
		users:         make(map[string]workflow.User),
		substitutions: make(map[string]workflow.Substitution),
		leaves:        make(map[string]workflow.LeaveRequest),
		balances:      make(map[string]workflow.Balance),
		work:          make(map[string]workflow.WorkRecord),
		keys:          make(map[string]bool),
		seq:           make(map[string]int),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.substitutions {
		c.substitutions[k] = v
	}
	for k, v := range t.leaves {
		c.leaves[k] = copyLeave(v)
	}
	for k, v := range t.balances {
		c.balances[k] = copyBalance(v)
	}
	for k, v := range t.work {
		c.work[k] = copyWork(v)
	}
	c.actions = append([]workflow.LeaveAction(nil), t.actions...)
	c.credits = append([]workflow.Credit(nil), t.credits...)
	for k := range t.keys {
		c.keys[k] = true
	}
	for k, v := range t.seq {
		c.seq[k] = v
	}
	c.next = t.next
	return c
}

func (t *tables) stamp(id string) {
	t.next++
	t.seq[id] = t.next
}

func (t *tables) SaveUser(_ context.Context, u workflow.User) error {
	t.users[u.ID] = u
	return nil
}

func (t *tables) GetUser(_ context.Context, id string) (*workflow.User, error) {
	u, ok := t.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (t *tables) SearchUsers(_ context.Context, q workflow.UserQuery) ([]workflow.User, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	var result []workflow.User
	for _, u := range t.users {
		if q.ExcludeID != "" && u.ID == q.ExcludeID {
			continue
		}
		if q.Department != "" && u.Department != q.Department {
			continue
		}
		if q.Role != "" && u.Role != q.Role {
			continue
		}
		if text != "" &&
			!strings.Contains(strings.ToLower(u.Username), text) &&
			!strings.Contains(strings.ToLower(u.Email), text) {
			continue
		}
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

func (t *tables) CreateSubstitution(_ context.Context, s workflow.Substitution) error {
	if _, exists := t.substitutions[s.ID]; exists {
		return workflow.ErrConcurrentModification
	}
	t.substitutions[s.ID] = s
	t.stamp(s.ID)
	return nil
}

func (t *tables) GetSubstitution(_ context.Context, id string) (*workflow.Substitution, error) {
	s, ok := t.substitutions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (t *tables) ListSubstitutions(_ context.Context, q workflow.SubstitutionQuery) ([]workflow.Substitution, error) {
	var result []workflow.Substitution
	for _, s := range t.substitutions {
		if q.RequestedBy != "" && s.RequestedBy != q.RequestedBy {
			continue
		}
		if q.RequestedTo != "" && s.RequestedTo != q.RequestedTo {
			continue
		}
		if len(q.Statuses) > 0 && !containsSubStatus(q.Statuses, s.Status) {
			continue
		}
		if q.DateBefore != "" && s.Details.Date >= q.DateBefore {
			continue
		}
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return t.newer(result[i].ID, result[i].CreatedAt, result[j].ID, result[j].CreatedAt)
	})
	return result, nil
}

func (t *tables) SetSubstitutionStatus(_ context.Context, id string, from, to workflow.SubstitutionStatus, at time.Time) error {
	s, ok := t.substitutions[id]
	if !ok {
		return workflow.ErrNotFound
	}
	if s.Status != from {
		return workflow.ErrConcurrentModification
	}
	s.Status = to
	s.UpdatedAt = at
	t.substitutions[id] = s
	return nil
}

func (t *tables) CreateLeave(_ context.Context, l workflow.LeaveRequest) error {
	if _, exists := t.leaves[l.ID]; exists {
		return workflow.ErrConcurrentModification
	}
	t.leaves[l.ID] = copyLeave(l)
	t.stamp(l.ID)
	return nil
}

func (t *tables) GetLeave(_ context.Context, id string) (*workflow.LeaveRequest, error) {
	l, ok := t.leaves[id]
	if !ok {
		return nil, nil
	}
	l = copyLeave(l)
	return &l, nil
}

func (t *tables) ListLeaves(_ context.Context, q workflow.LeaveQuery) ([]workflow.LeaveRequest, error) {
	var result []workflow.LeaveRequest
	for _, l := range t.leaves {
		if q.UserID != "" && l.UserID != q.UserID {
			continue
		}
		if q.Department != "" && l.Department != q.Department {
			continue
		}
		if q.AuthorRole != "" && l.AuthorRole != q.AuthorRole {
			continue
		}
		if len(q.Types) > 0 && !containsLeaveType(q.Types, l.LeaveType) {
			continue
		}
		if len(q.Statuses) > 0 && !containsLeaveStatus(q.Statuses, l.Status) {
			continue
		}
		if !q.CreatedSince.IsZero() && l.CreatedAt.Before(q.CreatedSince) {
			continue
		}
		if !q.StartFrom.IsZero() && l.StartDate.Before(q.StartFrom) {
			continue
		}
		if !q.StartBefore.IsZero() && !l.StartDate.Before(q.StartBefore) {
			continue
		}
		result = append(result, copyLeave(l))
	}
	sort.Slice(result, func(i, j int) bool {
		return t.newer(result[i].ID, result[i].CreatedAt, result[j].ID, result[j].CreatedAt)
	})
	return result, nil
}

func (t *tables) SetLeaveStatus(_ context.Context, id string, from, to workflow.LeaveStatus, decidedBy string, at time.Time) error {
	l, ok := t.leaves[id]
	if !ok {
		return workflow.ErrNotFound
	}
	if l.Status != from {
		return workflow.ErrConcurrentModification
	}
	l.Status = to
	l.DecidedBy = decidedBy
	decidedAt := at
	l.DecidedAt = &decidedAt
	l.UpdatedAt = at
	t.leaves[id] = l
	return nil
}

func (t *tables) GetBalance(_ context.Context, userID string) (*workflow.Balance, error) {
	b, ok := t.balances[userID]
	if !ok {
		return nil, nil
	}
	b = copyBalance(b)
	return &b, nil
}

func (t *tables) SaveBalance(_ context.Context, b workflow.Balance) error {
	t.balances[b.UserID] = copyBalance(b)
	return nil
}

func (t *tables) AppendLeaveAction(_ context.Context, a workflow.LeaveAction) error {
	t.actions = append(t.actions, a)
	return nil
}

func (t *tables) ListLeaveActions(_ context.Context, leaveID string) ([]workflow.LeaveAction, error) {
	var result []workflow.LeaveAction
	for _, a := range t.actions {
		if a.LeaveID == leaveID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (t *tables) CreateWorkRecord(_ context.Context, w workflow.WorkRecord) error {
	if _, exists := t.work[w.ID]; exists {
		return workflow.ErrConcurrentModification
	}
	t.work[w.ID] = copyWork(w)
	t.stamp(w.ID)
	return nil
}

func (t *tables) GetWorkRecord(_ context.Context, id string) (*workflow.WorkRecord, error) {
	w, ok := t.work[id]
	if !ok {
		return nil, nil
	}
	w = copyWork(w)
	return &w, nil
}

func (t *tables) ListWorkRecords(_ context.Context, q workflow.WorkQuery) ([]workflow.WorkRecord, error) {
	var result []workflow.WorkRecord
	for _, w := range t.work {
		if q.UserID != "" && w.UserID != q.UserID {
			continue
		}
		if q.Department != "" && w.Department != q.Department {
			continue
		}
		if len(q.Kinds) > 0 && !containsWorkKind(q.Kinds, w.Kind) {
			continue
		}
		if len(q.Statuses) > 0 && !containsWorkStatus(q.Statuses, w.Status) {
			continue
		}
		result = append(result, copyWork(w))
	}
	sort.Slice(result, func(i, j int) bool {
		return t.newer(result[i].ID, result[i].CreatedAt, result[j].ID, result[j].CreatedAt)
	})
	return result, nil
}

func (t *tables) SetWorkRecordStatus(_ context.Context, id string, from, to workflow.WorkStatus, decidedBy string, at time.Time) error {
	w, ok := t.work[id]
	if !ok {
		return workflow.ErrNotFound
	}
	if w.Status != from {
		return workflow.ErrConcurrentModification
	}
	w.Status = to
	w.DecidedBy = decidedBy
	decidedAt := at
	w.DecidedAt = &decidedAt
	t.work[id] = w
	return nil
}

func (t *tables) AppendCredit(_ context.Context, c workflow.Credit) error {
	if c.IdempotencyKey != "" {
		if t.keys[c.IdempotencyKey] {
			return workflow.ErrDuplicateCredit
		}
		t.keys[c.IdempotencyKey] = true
	}
	t.credits = append(t.credits, c)
	return nil
}

func (t *tables) CreditExists(_ context.Context, key string) (bool, error) {
	return t.keys[key], nil
}

func (t *tables) ListCredits(_ context.Context, userID string) ([]workflow.Credit, error) {
	var result []workflow.Credit
	for _, c := range t.credits {
		if c.UserID == userID {
			result = append(result, c)
		}
	}
	return result, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (t *tables) newer(idA string, a time.Time, idB string, b time.Time) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return t.seq[idA] > t.seq[idB]
}

func copyLeave(l workflow.LeaveRequest) workflow.LeaveRequest {
	if l.DecidedAt != nil {
		at := *l.DecidedAt
		l.DecidedAt = &at
	}
	return l
}

func copyWork(w workflow.WorkRecord) workflow.WorkRecord {
	if w.DecidedAt != nil {
		at := *w.DecidedAt
		w.DecidedAt = &at
	}
	return w
}

func copyBalance(b workflow.Balance) workflow.Balance {
	days := make(map[workflow.LeaveType]decimal.Decimal, len(b.Days))
	for k, v := range b.Days {
		days[k] = v
	}
	b.Days = days
	return b
}

func containsSubStatus(list []workflow.SubstitutionStatus, s workflow.SubstitutionStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsLeaveStatus(list []workflow.LeaveStatus, s workflow.LeaveStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsLeaveType(list []workflow.LeaveType, t workflow.LeaveType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func containsWorkKind(list []workflow.WorkKind, k workflow.WorkKind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}

func containsWorkStatus(list []workflow.WorkStatus, s workflow.WorkStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
