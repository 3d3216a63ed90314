package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"alarm-pipeline/internal/domain"
)

// Memory — хранилище блоков в памяти процесса. Условная запись выполняется под мьютексом.
// Используется для локального запуска (STORE_DRIVER=memory) и в тестах сценариев.
type Memory struct {
	mu     sync.Mutex
	blocks map[string]domain.ContentBlock
	audit  []domain.AuditEntry
}

var (
	_ domain.ContentRepo = (*Memory)(nil)
	_ domain.AuditRepo   = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{blocks: map[string]domain.ContentBlock{}}
}

// CreateBlock реализует domain.ContentRepo.
func (m *Memory) CreateBlock(_ context.Context, block domain.ContentBlock) (domain.ContentBlock, error) {
	if err := block.Validate(); err != nil {
		return domain.ContentBlock{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[block.ID]; ok {
		return domain.ContentBlock{}, fmt.Errorf("memory: block %s already exists", block.ID)
	}
	block = cloneBlock(block)
	m.blocks[block.ID] = block
	return cloneBlock(block), nil
}

// GetBlock реализует domain.ContentRepo.
func (m *Memory) GetBlock(_ context.Context, id string) (domain.ContentBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[id]
	if !ok {
		return domain.ContentBlock{}, domain.ErrBlockNotFound
	}
	return cloneBlock(b), nil
}

// ListStuck реализует domain.ContentRepo.
func (m *Memory) ListStuck(_ context.Context, statuses []domain.ContentStatus, olderThan time.Time, limit int) ([]domain.ContentBlock, error) {
	want := map[domain.ContentStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	return m.selectBlocks(limit, func(b domain.ContentBlock) bool {
		return want[b.Status] && b.UpdatedAt.Before(olderThan)
	}, func(a, b domain.ContentBlock) bool {
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.ID < b.ID
	}), nil
}

// ListExpired реализует domain.ContentRepo.
func (m *Memory) ListExpired(_ context.Context, before time.Time, after domain.ExpirationCursor, limit int) ([]domain.ContentBlock, error) {
	before = domain.DateOf(before)
	return m.selectBlocks(limit, func(b domain.ContentBlock) bool {
		if b.Status == domain.StatusExpired || !b.HasAudio() {
			return false
		}
		exp := domain.DateOf(b.ExpirationDate)
		if !exp.Before(before) {
			return false
		}
		if after.IsZero() {
			return true
		}
		cur := domain.DateOf(after.ExpirationDate)
		return exp.After(cur) || (exp.Equal(cur) && b.ID > after.ID)
	}, func(a, b domain.ContentBlock) bool {
		ea, eb := domain.DateOf(a.ExpirationDate), domain.DateOf(b.ExpirationDate)
		if !ea.Equal(eb) {
			return ea.Before(eb)
		}
		return a.ID < b.ID
	}), nil
}

// ListByStatus реализует domain.ContentRepo.
func (m *Memory) ListByStatus(_ context.Context, status domain.ContentStatus, limit int) ([]domain.ContentBlock, error) {
	return m.selectBlocks(limit, func(b domain.ContentBlock) bool {
		return b.Status == status
	}, byPriority), nil
}

// ListRetryPending реализует domain.ContentRepo.
func (m *Memory) ListRetryPending(_ context.Context, target domain.ContentStatus, limit int) ([]domain.ContentBlock, error) {
	return m.selectBlocks(limit, func(b domain.ContentBlock) bool {
		if b.Status != domain.StatusRetryPending {
			return false
		}
		v, _ := b.Parameters[domain.ParamRetryTarget].(string)
		return v == string(target)
	}, byPriority), nil
}

// UpdateStatus реализует domain.ContentRepo: запись применяется, только если статус равен From.
func (m *Memory) UpdateStatus(_ context.Context, u domain.StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[u.ID]
	if !ok || b.Status != u.From {
		return false, nil
	}
	m.blocks[u.ID] = applyUpdate(b, u)
	return true, nil
}

// AppendAudit реализует domain.AuditRepo.
func (m *Memory) AppendAudit(_ context.Context, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

// AuditEntries возвращает копию журнала.
func (m *Memory) AuditEntries() []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.audit...)
}

func (m *Memory) selectBlocks(limit int, match func(domain.ContentBlock) bool, less func(a, b domain.ContentBlock) bool) []domain.ContentBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ContentBlock
	for _, b := range m.blocks {
		if match(b) {
			out = append(out, cloneBlock(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func byPriority(a, b domain.ContentBlock) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}

// applyUpdate переносит поля StatusUpdate на блок; nil-поля не меняются.
func applyUpdate(b domain.ContentBlock, u domain.StatusUpdate) domain.ContentBlock {
	b.Status = u.To
	b.UpdatedAt = u.At
	if u.Script != nil {
		b.Script = *u.Script
	}
	if u.ScriptGeneratedAt != nil {
		t := *u.ScriptGeneratedAt
		b.ScriptGeneratedAt = &t
	}
	if u.ClearAudio {
		b.AudioURL = nil
	} else if u.AudioURL != nil {
		url := *u.AudioURL
		b.AudioURL = &url
	}
	if u.Voice != nil {
		b.Voice = *u.Voice
	}
	if u.DurationSeconds != nil {
		d := *u.DurationSeconds
		b.DurationSeconds = &d
	}
	if u.AudioGeneratedAt != nil {
		t := *u.AudioGeneratedAt
		b.AudioGeneratedAt = &t
	}
	switch u.Retry {
	case domain.RetryIncrement:
		b.RetryCount++
	case domain.RetryReset:
		b.RetryCount = 0
	}
	if len(u.Parameters) > 0 {
		params := make(map[string]any, len(b.Parameters)+len(u.Parameters))
		for k, v := range b.Parameters {
			params[k] = v
		}
		for k, v := range u.Parameters {
			params[k] = v
		}
		b.Parameters = params
	}
	return b
}

func cloneBlock(b domain.ContentBlock) domain.ContentBlock {
	if b.Parameters != nil {
		params := make(map[string]any, len(b.Parameters))
		for k, v := range b.Parameters {
			params[k] = v
		}
		b.Parameters = params
	}
	if b.AudioURL != nil {
		url := *b.AudioURL
		b.AudioURL = &url
	}
	if b.OwnerID != nil {
		owner := *b.OwnerID
		b.OwnerID = &owner
	}
	return b
}
