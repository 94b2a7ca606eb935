package inventory

import (
	"errors"
	"time"
)

var (
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrInvalidStatus       = errors.New("invalid reservation status for this operation")
	ErrEmptyReservation    = errors.New("reservation has no items")
	ErrStaleStockRead      = errors.New("stock was read too long ago")
)

type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusReleased  ReservationStatus = "released"
	StatusExpired   ReservationStatus = "expired"
)

// ReservationItem holds Quantity units of a listing. Available is the listing's
// stock as read from the catalog after the ledger was at ReadMark.
type ReservationItem struct {
	ListingID string
	Quantity  int
	Available int
	ReadMark  uint64
}

type soldEntry struct {
	seq       uint64
	listingID string
	quantity  int
	at        time.Time
}

type Reservation struct {
	ID         string
	CheckoutID string
	Items      []ReservationItem
	Status     ReservationStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
