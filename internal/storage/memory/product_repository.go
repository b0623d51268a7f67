package memory

import (
	"sync"
	"time"

	"github.com/maina2/MM-backend/internal/domain"
)

// productRepositoryInMemory — in-memory реализация ProductRepository.
// Резерв выполняется условным декрементом под мьютексом, остаток
// никогда не уходит в минус.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory репозиторий товаров.
func NewProductRepository() *productRepositoryInMemory {
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
	}
}

// Put сохраняет или обновляет товар (seed для dev и тестов).
func (r *productRepositoryInMemory) Put(product domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[product.ID] = product
}

// Get возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// Reserve атомарно уменьшает остаток. При нехватке возвращает
// *InsufficientStockError и не меняет ничего.
func (r *productRepositoryInMemory) Reserve(productID string, qty int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if product.Stock < qty {
		return &domain.InsufficientStockError{
			ProductID: productID,
			Available: product.Stock,
			Requested: qty,
		}
	}

	product.Stock -= qty
	product.UpdatedAt = time.Now().UTC()
	r.items[productID] = product
	return nil
}

// Release возвращает qty единиц в остаток (компенсация).
func (r *productRepositoryInMemory) Release(productID string, qty int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[productID]
	if !ok {
		return domain.ErrProductNotFound
	}

	product.Stock += qty
	product.UpdatedAt = time.Now().UTC()
	r.items[productID] = product
	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
