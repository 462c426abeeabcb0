package payment

import "sync"

// orderLocks serializes work per order id inside this process. Other processes
// are held off by the order row lock taken in Repository.UpdateLocked. Entries
// are dropped once unused.
type orderLocks struct {
	mu    sync.Mutex
	locks map[int64]*orderLock
}

type orderLock struct {
	mu   sync.Mutex
	refs int
}

func newOrderLocks() *orderLocks {
	return &orderLocks{locks: make(map[int64]*orderLock)}
}

// lock blocks until orderID is free and returns the matching unlock.
func (o *orderLocks) lock(orderID int64) func() {
	o.mu.Lock()
	l, ok := o.locks[orderID]
	if !ok {
		l = &orderLock{}
		o.locks[orderID] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, orderID)
		}
		o.mu.Unlock()
	}
}
