package memory

import (
	"sync"

	"github.com/maina2/MM-backend/internal/domain"
)

// branchRepositoryInMemory — in-memory реализация BranchRepository.
type branchRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Branch
}

// NewBranchRepository возвращает in-memory репозиторий филиалов.
func NewBranchRepository() *branchRepositoryInMemory {
	return &branchRepositoryInMemory{
		items: make(map[string]domain.Branch),
	}
}

// Put сохраняет или обновляет филиал (seed для dev и тестов).
func (r *branchRepositoryInMemory) Put(branch domain.Branch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[branch.ID] = branch
}

// Get возвращает филиал или ErrBranchNotFound.
func (r *branchRepositoryInMemory) Get(id string) (domain.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	branch, ok := r.items[id]
	if !ok {
		return domain.Branch{}, domain.ErrBranchNotFound
	}
	return branch, nil
}

var _ domain.BranchRepository = (*branchRepositoryInMemory)(nil)
