package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/fjod/go_marketplace/internal/listing"
	"github.com/fjod/go_marketplace/pkg/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockStore struct {
	m         sync.Mutex
	blobs     map[string][]byte
	loadCalls int
	saveErr   error
	loadErr   error
}

func newMockStore() *mockStore {
	return &mockStore{blobs: map[string][]byte{}}
}

func (m *mockStore) Load(_ context.Context, userID string) ([]byte, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.loadCalls++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	data, ok := m.blobs[userID]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return data, nil
}

func (m *mockStore) Save(_ context.Context, userID string, snapshot []byte) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.blobs[userID] = append([]byte(nil), snapshot...)
	return nil
}

func (m *mockStore) Delete(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.blobs, userID)
	return nil
}

type mockCatalog struct {
	products map[string]domain.Product
	listings map[string]domain.Listing
	sellers  map[string]domain.SellerProfile
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		products: map[string]domain.Product{
			"p1": {ID: "p1", Title: "Kind of Blue", Artist: "Miles Davis", Price: decimal.RequireFromString("29.99")},
			"p2": {ID: "p2", Title: "Blue Train", Artist: "John Coltrane", Price: decimal.RequireFromString("27.50")},
		},
		listings: map[string]domain.Listing{
			"l1": {ID: "l1", ProductID: "p1", SellerID: "s1", Price: decimal.RequireFromString("18.50"), Quantity: 2, Status: domain.ListingStatusActive},
			"l2": {ID: "l2", ProductID: "p1", SellerID: "s2", Price: decimal.RequireFromString("12"), Quantity: 0, Status: domain.ListingStatusSold},
			"l3": {ID: "l3", ProductID: "p2", SellerID: "ghost", Price: decimal.RequireFromString("20"), Quantity: 1, Status: domain.ListingStatusActive},
		},
		sellers: map[string]domain.SellerProfile{
			"s1": {SellerID: "s1", StoreName: "Wax Trax Records"},
		},
	}
}

func (m *mockCatalog) Product(_ context.Context, productID string) (domain.Product, error) {
	p, ok := m.products[productID]
	if !ok {
		return domain.Product{}, listing.ErrProductNotFound
	}
	return p, nil
}

func (m *mockCatalog) Listing(_ context.Context, _ string, listingID string) (domain.Listing, error) {
	l, ok := m.listings[listingID]
	if !ok {
		return domain.Listing{}, listing.ErrListingNotFound
	}
	return l, nil
}

func (m *mockCatalog) SellerProfile(_ context.Context, sellerID string) (domain.SellerProfile, error) {
	p, ok := m.sellers[sellerID]
	if !ok {
		return domain.SellerProfile{}, listing.ErrSellerNotFound
	}
	return p, nil
}

func setupService(t *testing.T) (*Service, *mockStore, *clock.MockClock) {
	t.Helper()
	store := newMockStore()
	mc := clock.NewMockClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	svc := NewService(store, newMockCatalog(), Options{Clock: mc, SessionTTL: time.Minute})
	return svc, store, mc
}

func TestService_Get_EmptyForNewUser(t *testing.T) {
	svc, _, _ := setupService(t)

	c, err := svc.Get(context.Background(), "user1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestService_AddItem_ResolvesCatalog(t *testing.T) {
	svc, store, mc := setupService(t)
	ctx := context.Background()

	c, err := svc.AddItem(ctx, "user1", "p1", "l1", 2)
	require.NoError(t, err)

	item, ok := c.Item(domain.ListingKey("l1"))
	require.True(t, ok)
	assert.Equal(t, "Kind of Blue", item.Title)
	assert.Equal(t, "Wax Trax Records", item.SellerName)
	assert.Equal(t, "18.5", item.UnitPrice.String())
	assert.Equal(t, mc.Now(), c.UpdatedAt())

	saved, err := Decode(store.blobs["user1"])
	require.NoError(t, err)
	assert.Equal(t, 2, saved.ItemCount())
}

func TestService_AddItem_OfficialProduct(t *testing.T) {
	svc, _, _ := setupService(t)

	c, err := svc.AddItem(context.Background(), "user1", "p2", "", 1)
	require.NoError(t, err)

	groups := c.GroupBySeller()
	require.Len(t, groups, 1)
	assert.Equal(t, domain.OfficialSellerID, groups[0].SellerID)
	assert.Equal(t, "27.5", c.TotalAmount().String())
}

func TestService_AddItem_Rejections(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user1", "p1", "l2", 1)
	assert.ErrorIs(t, err, ErrListingUnavailable)

	_, err = svc.AddItem(ctx, "user1", "p2", "l1", 1)
	assert.ErrorIs(t, err, ErrListingMismatch)

	_, err = svc.AddItem(ctx, "user1", "p404", "", 1)
	assert.ErrorIs(t, err, listing.ErrProductNotFound)

	_, err = svc.AddItem(ctx, "user1", "p1", "nope", 1)
	assert.ErrorIs(t, err, listing.ErrListingNotFound)

	_, err = svc.AddItem(ctx, "user1", "p1", "", 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	assert.Empty(t, store.blobs)
}

func TestService_AddItem_MissingSellerProfileStillAdds(t *testing.T) {
	svc, _, _ := setupService(t)

	c, err := svc.AddItem(context.Background(), "user1", "p2", "l3", 1)
	require.NoError(t, err)

	item, ok := c.Item(domain.ListingKey("l3"))
	require.True(t, ok)
	assert.Equal(t, "ghost", item.SellerID)
	assert.Empty(t, item.SellerName)
}

func TestService_SaveFailureLeavesCartUnchanged(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user1", "p1", "", 1)
	require.NoError(t, err)

	store.saveErr = errors.New("mongo down")
	_, err = svc.AddItem(ctx, "user1", "p1", "", 5)
	require.Error(t, err)

	c, err := svc.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ItemCount())
}

func TestService_SetQuantityRemoveClear(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user1", "p1", "l1", 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "user1", "p2", "", 1)
	require.NoError(t, err)

	c, err := svc.SetQuantity(ctx, "user1", domain.ListingKey("l1"), 3)
	require.NoError(t, err)
	assert.Equal(t, 4, c.ItemCount())

	c, err = svc.Remove(ctx, "user1", domain.ProductKey("p2"))
	require.NoError(t, err)
	assert.Equal(t, 3, c.ItemCount())

	_, err = svc.Remove(ctx, "user1", domain.ProductKey("p2"))
	assert.ErrorIs(t, err, ErrItemNotFound)

	c, err = svc.Clear(ctx, "user1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())

	saved, err := Decode(store.blobs["user1"])
	require.NoError(t, err)
	assert.True(t, saved.IsEmpty())
}

func TestService_SettleLeavesLinesAddedMeanwhile(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	c, err := svc.AddItem(ctx, "user1", "p1", "l1", 1)
	require.NoError(t, err)
	paid := c.Items()

	_, err = svc.AddItem(ctx, "user1", "p2", "", 1)
	require.NoError(t, err)

	c, err = svc.Settle(ctx, "user1", paid)
	require.NoError(t, err)
	assert.False(t, c.Contains("p1", "l1"))
	assert.True(t, c.Contains("p2", ""))

	saved, err := Decode(store.blobs["user1"])
	require.NoError(t, err)
	assert.Equal(t, 1, saved.ItemCount())
}

func TestService_ContainsAndGroups(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "user1", "p1", "l1", 1)
	require.NoError(t, err)

	ok, err := svc.Contains(ctx, "user1", "p1", "l1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Contains(ctx, "user1", "p1", "")
	require.NoError(t, err)
	assert.False(t, ok)

	groups, err := svc.GroupBySeller(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "s1", groups[0].SellerID)
}

func TestService_DecodesOncePerSession(t *testing.T) {
	svc, store, mc := setupService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Get(ctx, "user1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, store.loadCalls)

	mc.Advance(2 * time.Minute)
	_, err := svc.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.loadCalls)
}

func TestService_CorruptSnapshotResetsToEmpty(t *testing.T) {
	store := newMockStore()
	store.blobs["user1"] = []byte("{{{garbage")
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewService(store, newMockCatalog(), Options{Logger: zap.New(core)})

	c, err := svc.Get(context.Background(), "user1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Equal(t, 1, logs.FilterMessage("discarding unreadable cart snapshot").Len())

	c, err = svc.AddItem(context.Background(), "user1", "p1", "", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ItemCount())
}

func TestService_StoreLoadErrorSurfaces(t *testing.T) {
	svc, store, _ := setupService(t)
	store.loadErr = errors.New("connection refused")

	_, err := svc.Get(context.Background(), "user1")
	assert.ErrorContains(t, err, "connection refused")
}

func TestService_ConcurrentAddsSameUser(t *testing.T) {
	svc, store, _ := setupService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(ctx, "user1", "p1", "", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := svc.Get(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 20, c.ItemCount())
	require.Len(t, c.Items(), 1)

	saved, err := Decode(store.blobs["user1"])
	require.NoError(t, err)
	assert.Equal(t, 20, saved.ItemCount())
}

func TestService_UsersDoNotShareCarts(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AddItem(ctx, fmt.Sprintf("user%d", i), "p1", "", i+1)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		c, err := svc.Get(ctx, fmt.Sprintf("user%d", i))
		require.NoError(t, err)
		assert.Equal(t, i+1, c.ItemCount())
	}
	svc.mu.Lock()
	assert.Empty(t, svc.locks, "idle user locks are released")
	svc.mu.Unlock()
}
