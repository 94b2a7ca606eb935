package cart

import (
	"errors"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrInvalidItem     = errors.New("line item needs a product id")
	ErrItemNotFound    = errors.New("item not found in cart")
)

// LineInput is the product or listing snapshot a line item is built from. Price,
// title and artist are copied into the line when it is first added.
type LineInput struct {
	ProductID  string
	ListingID  string
	SellerID   string
	SellerName string
	Title      string
	Artist     string
	UnitPrice  decimal.Decimal
}

func (in LineInput) Key() domain.LineKey {
	return domain.KeyFor(in.ProductID, in.ListingID)
}

// FromProduct builds a line sold by the official store at the catalog price.
func FromProduct(p domain.Product) LineInput {
	return LineInput{
		ProductID: p.ID,
		Title:     p.Title,
		Artist:    p.Artist,
		UnitPrice: p.Price,
	}
}

// FromListing builds a line bound to one seller's listing at the listing price.
func FromListing(l domain.Listing, p domain.Product, sellerName string) LineInput {
	return LineInput{
		ProductID:  p.ID,
		ListingID:  l.ID,
		SellerID:   l.SellerID,
		SellerName: sellerName,
		Title:      p.Title,
		Artist:     p.Artist,
		UnitPrice:  l.Price,
	}
}

// Cart is one buyer's cart. It is not safe for concurrent use; Service serializes
// access per user.
type Cart struct {
	items       []domain.CartLineItem
	itemCount   int
	totalAmount decimal.Decimal
	updatedAt   time.Time
}

func New() *Cart {
	return &Cart{totalAmount: decimal.Zero}
}

// FromState rebuilds a cart from a stored snapshot. Stored derived totals are ignored
// and recomputed; lines without a positive quantity are dropped and lines sharing a
// key are merged.
func FromState(s domain.CartState) *Cart {
	c := New()
	c.updatedAt = s.UpdatedAt
	for _, item := range s.Items {
		if item.Quantity < 1 || item.ProductID == "" {
			continue
		}
		item.Key = domain.KeyFor(item.ProductID, item.ListingID)
		if i := c.indexOf(item.Key); i >= 0 {
			c.items[i].Quantity += item.Quantity
			continue
		}
		c.items = append(c.items, item)
	}
	c.recalculate()
	return c
}

// Add merges qty into the line with the same key, or appends a new line.
func (c *Cart) Add(in LineInput, qty int) (domain.CartLineItem, error) {
	if qty < 1 {
		return domain.CartLineItem{}, ErrInvalidQuantity
	}
	if in.ProductID == "" {
		return domain.CartLineItem{}, ErrInvalidItem
	}

	key := in.Key()
	if i := c.indexOf(key); i >= 0 {
		c.items[i].Quantity += qty
		c.recalculate()
		return c.items[i], nil
	}

	item := domain.CartLineItem{
		Key:        key,
		ProductID:  in.ProductID,
		ListingID:  in.ListingID,
		SellerID:   in.SellerID,
		SellerName: in.SellerName,
		Title:      in.Title,
		Artist:     in.Artist,
		UnitPrice:  in.UnitPrice,
		Quantity:   qty,
	}
	c.items = append(c.items, item)
	c.recalculate()
	return item, nil
}

func (c *Cart) Remove(key domain.LineKey) error {
	i := c.indexOf(key)
	if i < 0 {
		return ErrItemNotFound
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.recalculate()
	return nil
}

// SetQuantity replaces a line's quantity. A quantity of zero or less removes the
// line, and doing so for a line that is already gone is a no-op.
func (c *Cart) SetQuantity(key domain.LineKey, qty int) error {
	i := c.indexOf(key)
	if qty <= 0 {
		if i >= 0 {
			c.items = append(c.items[:i], c.items[i+1:]...)
			c.recalculate()
		}
		return nil
	}
	if i < 0 {
		return ErrItemNotFound
	}
	c.items[i].Quantity = qty
	c.recalculate()
	return nil
}

// Settle takes paid lines off the cart. Each line loses the paid quantity and is
// dropped when nothing is left; lines and units added after the snapshot stay.
func (c *Cart) Settle(paid []domain.CartLineItem) {
	changed := false
	for _, p := range paid {
		i := c.indexOf(p.Key)
		if i < 0 {
			continue
		}
		changed = true
		if left := c.items[i].Quantity - p.Quantity; left > 0 {
			c.items[i].Quantity = left
			continue
		}
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
	if changed {
		c.recalculate()
	}
}

func (c *Cart) Clear() {
	c.items = nil
	c.recalculate()
}

// Contains reports whether the line for productID (or for listingID when set) is in the cart.
func (c *Cart) Contains(productID, listingID string) bool {
	return c.indexOf(domain.KeyFor(productID, listingID)) >= 0
}

func (c *Cart) Item(key domain.LineKey) (domain.CartLineItem, bool) {
	i := c.indexOf(key)
	if i < 0 {
		return domain.CartLineItem{}, false
	}
	return c.items[i], true
}

func (c *Cart) Items() []domain.CartLineItem {
	out := make([]domain.CartLineItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) ItemCount() int { return c.itemCount }
func (c *Cart) TotalAmount() decimal.Decimal { return c.totalAmount }
func (c *Cart) IsEmpty() bool { return len(c.items) == 0 }
func (c *Cart) UpdatedAt() time.Time { return c.updatedAt }
func (c *Cart) Touch(now time.Time) { c.updatedAt = now }

// GroupBySeller partitions lines by seller in order of first appearance. Lines
// without a seller fall in the official group.
func (c *Cart) GroupBySeller() []domain.SellerGroup {
	var groups []domain.SellerGroup
	index := map[string]int{}

	for _, item := range c.items {
		id := item.GroupID()
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, domain.SellerGroup{SellerID: id, Subtotal: decimal.Zero})
		}
		g := &groups[i]
		if g.SellerName == "" {
			g.SellerName = item.SellerName
		}
		g.Items = append(g.Items, item)
		g.Subtotal = g.Subtotal.Add(item.LineTotal())
	}

	for i := range groups {
		if groups[i].SellerName == "" && groups[i].SellerID == domain.OfficialSellerID {
			groups[i].SellerName = domain.OfficialSellerName
		}
	}
	return groups
}

// SellerSubtotal sums the lines of one seller. An empty id means the official group.
func (c *Cart) SellerSubtotal(sellerID string) decimal.Decimal {
	id := domain.NormalizeSellerID(sellerID)
	total := decimal.Zero
	for _, item := range c.items {
		if item.GroupID() == id {
			total = total.Add(item.LineTotal())
		}
	}
	return total
}

func (c *Cart) State() domain.CartState {
	return domain.CartState{
		Items:       c.Items(),
		ItemCount:   c.itemCount,
		TotalAmount: c.totalAmount,
		UpdatedAt:   c.updatedAt,
	}
}

func (c *Cart) Clone() *Cart {
	return &Cart{
		items:       c.Items(),
		itemCount:   c.itemCount,
		totalAmount: c.totalAmount,
		updatedAt:   c.updatedAt,
	}
}

func (c *Cart) indexOf(key domain.LineKey) int {
	for i := range c.items {
		if c.items[i].Key == key {
			return i
		}
	}
	return -1
}

func (c *Cart) recalculate() {
	count := 0
	total := decimal.Zero
	for _, item := range c.items {
		count += item.Quantity
		total = total.Add(item.LineTotal())
	}
	c.itemCount = count
	c.totalAmount = total
}
