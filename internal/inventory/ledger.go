package inventory

import (
	"sync"
	"time"

	"github.com/fjod/go_marketplace/pkg/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// ReservationTTL is how long a reservation is valid before auto-expiring
	ReservationTTL = 5 * time.Minute

	// CleanupInterval is how often the background cleanup runs
	CleanupInterval = 30 * time.Second
)

// Ledger holds listing quantities for checkouts in flight so that two buyers cannot
// pay for the same last copy. The catalog stays the source of truth for stock; the
// ledger only tracks what is held on top of it, plus the sales confirmed recently
// enough that a catalog read may not include them yet.
type Ledger struct {
	mu           sync.Mutex
	held         map[string]int          // listingID -> units held by open reservations
	reservations map[string]*Reservation // reservationID -> reservation
	sold         []soldEntry             // ordered by seq
	seq          uint64
	prunedSeq    uint64 // highest seq dropped from sold
	clock        clock.Clock
	ttl          time.Duration
	log          *zap.Logger

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

type Options struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	Clock           clock.Clock
	Logger          *zap.Logger
}

func NewLedger(opts Options) *Ledger {
	if opts.TTL <= 0 {
		opts.TTL = ReservationTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = CleanupInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	l := &Ledger{
		held:         make(map[string]int),
		reservations: make(map[string]*Reservation),
		clock:        opts.Clock,
		ttl:          opts.TTL,
		log:          opts.Logger,
		stopCleanup:  make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop(opts.CleanupInterval)

	return l
}

func (l *Ledger) cleanupLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.expireReservations(); n > 0 {
				l.log.Info("reservations expired", zap.Int("count", n))
			}
			l.pruneSold()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *Ledger) expireReservations() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	expired := 0
	for _, r := range l.reservations {
		if r.Status == StatusReserved && r.IsExpired(now) {
			r.Status = StatusExpired
			l.unhold(r)
			expired++
		}
	}
	return expired
}

// pruneSold forgets sales older than the TTL. Stock reads that old are refused by Reserve.
func (l *Ledger) pruneSold() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-l.ttl)
	i := 0
	for i < len(l.sold) && l.sold[i].at.Before(cutoff) {
		l.prunedSeq = l.sold[i].seq
		i++
	}
	if i > 0 {
		l.sold = append([]soldEntry(nil), l.sold[i:]...)
	}
}

// Mark returns the position of the sales log. Take it before reading stock from the
// catalog and pass it as ReservationItem.ReadMark; sales confirmed after the mark are
// counted against that read.
func (l *Ledger) Mark() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Held returns the units of a listing held by open reservations.
func (l *Ledger) Held(listingID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[listingID]
}

// Reserve holds every item or none of them.
func (l *Ledger) Reserve(checkoutID string, items []ReservationItem) (*Reservation, error) {
	if len(items) == 0 {
		return nil, ErrEmptyReservation
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// the same listing may appear more than once
	want := make(map[string]int, len(items))
	for _, item := range items {
		want[item.ListingID] += item.Quantity
	}
	for _, item := range items {
		if item.ReadMark < l.prunedSeq {
			return nil, ErrStaleStockRead
		}
		free := item.Available - l.held[item.ListingID] - l.soldSince(item.ListingID, item.ReadMark)
		if free < want[item.ListingID] {
			return nil, ErrInsufficientStock
		}
	}

	for _, item := range items {
		l.held[item.ListingID] += item.Quantity
	}

	now := l.clock.Now()
	r := &Reservation{
		ID:         uuid.New().String(),
		CheckoutID: checkoutID,
		Items:      append([]ReservationItem(nil), items...),
		Status:     StatusReserved,
		CreatedAt:  now,
		ExpiresAt:  now.Add(l.ttl),
	}
	l.reservations[r.ID] = r
	return r, nil
}

// Confirm closes a reservation once the sale has been written to the catalog. A
// reservation that expired meanwhile is still confirmed: the units are sold either way.
func (l *Ledger) Confirm(reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, exists := l.reservations[reservationID]
	if !exists {
		return ErrReservationNotFound
	}
	switch r.Status {
	case StatusReserved:
		l.unhold(r)
	case StatusExpired:
	default:
		return ErrInvalidStatus
	}

	r.Status = StatusConfirmed
	l.recordSold(r.Items)
	return nil
}

// RecordSold logs units written to the catalog without a live reservation, as when a
// paid checkout is finished after its reservation was lost.
func (l *Ledger) RecordSold(items []ReservationItem) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordSold(items)
}

// recordSold must be called with l.mu held.
func (l *Ledger) recordSold(items []ReservationItem) {
	now := l.clock.Now()
	for _, item := range items {
		l.seq++
		l.sold = append(l.sold, soldEntry{seq: l.seq, listingID: item.ListingID, quantity: item.Quantity, at: now})
	}
}

// soldSince must be called with l.mu held.
func (l *Ledger) soldSince(listingID string, mark uint64) int {
	n := 0
	for i := len(l.sold) - 1; i >= 0 && l.sold[i].seq > mark; i-- {
		if l.sold[i].listingID == listingID {
			n += l.sold[i].quantity
		}
	}
	return n
}

func (l *Ledger) Release(reservationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, exists := l.reservations[reservationID]
	if !exists {
		return ErrReservationNotFound
	}
	if r.Status != StatusReserved {
		return ErrInvalidStatus
	}

	l.unhold(r)
	r.Status = StatusReleased
	return nil
}

func (l *Ledger) Get(reservationID string) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, exists := l.reservations[reservationID]
	if !exists {
		return Reservation{}, ErrReservationNotFound
	}
	return *r, nil
}

// unhold must be called with l.mu held.
func (l *Ledger) unhold(r *Reservation) {
	for _, item := range r.Items {
		l.held[item.ListingID] -= item.Quantity
		if l.held[item.ListingID] <= 0 {
			delete(l.held, item.ListingID)
		}
	}
}

// Close stops the background cleanup and waits for it to finish
func (l *Ledger) Close() error {
	close(l.stopCleanup)
	l.wg.Wait()
	return nil
}
