package goroutine

import "sync"

// OwnerPool hands out owner ids for lock ownership.
//
// Ids start at 1 (0 means "no owner" in the lock table). Released ids are
// reused in FIFO order.
type OwnerPool struct {
	mu    sync.Mutex
	next  uint64
	freed []uint64
}

// NewOwnerPool returns an empty pool whose first id is 1.
func NewOwnerPool() *OwnerPool {
	return &OwnerPool{next: 1}
}

// Get returns an unused owner id.
func (p *OwnerPool) Get() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freed) > 0 {
		id := p.freed[0]
		p.freed = p.freed[1:]
		return id
	}
	id := p.next
	p.next++
	return id
}

// Put returns id to the pool. The caller must no longer use it.
func (p *OwnerPool) Put(id uint64) {
	if id == 0 {
		return
	}
	p.mu.Lock()
	p.freed = append(p.freed, id)
	p.mu.Unlock()
}

// InUse returns the number of ids currently handed out.
func (p *OwnerPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.next-1) - len(p.freed)
}
