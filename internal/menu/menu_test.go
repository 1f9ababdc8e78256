package menu_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/mschirtzinger/menuboard/internal/db"
	"github.com/mschirtzinger/menuboard/internal/kvstore"
	"github.com/mschirtzinger/menuboard/internal/menu"
	"github.com/mschirtzinger/menuboard/internal/pubsub"
	"github.com/mschirtzinger/menuboard/internal/storage"
)

func newRepo(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "menu.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.InitSchema())
	_, err = menu.Seed(context.Background(), d)
	require.NoError(t, err)
	return d
}

func newAPI(t *testing.T) (*menu.API, *db.DB) {
	t.Helper()
	repo := newRepo(t)
	admin, err := menu.NewAdmin("owner@example.com", "tandoori-nights")
	require.NoError(t, err)
	require.NoError(t, repo.SaveAdmin(context.Background(), admin))
	return menu.NewAPI(repo, log.New(io.Discard, "", 0)), repo
}

func do(t *testing.T, h http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if auth {
		req.SetBasicAuth("owner@example.com", "tandoori-nights")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in   string
		want menu.Tier
	}{
		{"", menu.TierAC},
		{"AC", menu.TierAC},
		{"non-ac", menu.TierNonAC},
		{"takeaway", menu.TierTakeaway},
	}
	for _, tt := range tests {
		got, err := menu.ParseTier(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := menu.ParseTier("rooftop")
	assert.ErrorIs(t, err, menu.ErrInvalid)

	p := menu.Prices{AC: 3, NonAC: 2, Takeaway: 1}
	assert.Equal(t, 2.0, p.For(menu.TierNonAC))
	assert.Equal(t, 1.0, p.For(menu.TierTakeaway))
}

func TestAPI_Menu(t *testing.T) {
	api, _ := newAPI(t)

	rec := do(t, api, http.MethodGet, "/api/menu?tier=takeaway", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp menu.MenuResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, menu.TierTakeaway, resp.Tier)

	var names []string
	for _, c := range resp.Categories {
		names = append(names, c.Name)
		for _, it := range c.Items {
			assert.True(t, it.Available, "unavailable item %s listed", it.ID)
		}
	}
	assert.Equal(t, []string{"Breads", "Main Course", "Starters"}, names)

	rec = do(t, api, http.MethodGet, "/api/menu?tier=rooftop", "", false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Offers(t *testing.T) {
	api, repo := newAPI(t)
	require.NoError(t, repo.SaveOffer(context.Background(), &menu.Offer{ID: "old", Title: "Old", Active: false}))

	rec := do(t, api, http.MethodGet, "/api/offers", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	var offers []menu.Offer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &offers))
	require.Len(t, offers, 1)
	assert.Equal(t, "weekday-lunch", offers[0].ID)
}

func TestAPI_AdminRequiresAuth(t *testing.T) {
	api, _ := newAPI(t)

	rec := do(t, api, http.MethodGet, "/api/admin/items", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/items", nil)
	req.SetBasicAuth("owner@example.com", "wrong-password")
	rec = httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, api, http.MethodGet, "/api/admin/items", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_AdminItemCRUD(t *testing.T) {
	api, repo := newAPI(t)
	ctx := context.Background()

	body := `{"name":"Masala Dosa","category":"South Indian","prices":{"ac":150,"nonAc":140,"takeaway":130},"veg":true,"available":true}`
	rec := do(t, api, http.MethodPut, "/api/admin/items/masala-dosa", body, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	it, err := repo.MenuItem(ctx, "masala-dosa")
	require.NoError(t, err)
	assert.Equal(t, 140.0, it.Prices.NonAC)

	rec = do(t, api, http.MethodPut, "/api/admin/items/bad", `{"name":""}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodDelete, "/api/admin/items/masala-dosa", "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, api, http.MethodDelete, "/api/admin/items/masala-dosa", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_AdminUsers(t *testing.T) {
	api, repo := newAPI(t)

	rec := do(t, api, http.MethodPost, "/api/admin/users", `{"email":"Chef@Example.com","password":"biryani-2024"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "biryani")

	admins, err := repo.ListAdmins(context.Background())
	require.NoError(t, err)
	assert.Len(t, admins, 2)

	rec = do(t, api, http.MethodPost, "/api/admin/users", `{"email":"x@example.com","password":"short"}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodDelete, "/api/admin/users/owner@example.com", "", true)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, api, http.MethodDelete, "/api/admin/users/chef@example.com", "", true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCart(t *testing.T) {
	ctx := context.Background()
	logger := log.New(io.Discard, "", 0)
	area := storage.NewMemory()
	bus := pubsub.NewLocal(logger)
	defer bus.Close()

	tabA := kvstore.New(area, bus, &kvstore.Config{Logger: logger})
	tabB := kvstore.New(area, bus, &kvstore.Config{Logger: logger})
	defer tabA.Close()
	defer tabB.Close()

	a := menu.OpenCart(ctx, tabA)
	b := menu.OpenCart(ctx, tabB)

	items := menu.SampleItems()
	a.Add(ctx, items[0], 2)
	a.Add(ctx, items[3], 1)
	a.Add(ctx, items[0], 1)

	require.Len(t, a.Items(), 2)
	assert.Equal(t, 3, a.Items()[0].Quantity)
	assert.Equal(t, 3*280.0+60.0, a.Total(menu.TierAC))
	assert.Equal(t, 3*250.0+50.0, b.Total(menu.TierTakeaway), "other context should follow")

	a.Remove(ctx, items[0].ID)
	require.Len(t, a.Items(), 1)
	assert.Equal(t, items[3].ID, a.Items()[0].ID)

	a.Clear(ctx)
	assert.Empty(t, a.Items())
	_, ok, _ := area.GetItem(ctx, tabA.Key(menu.CartKey))
	assert.False(t, ok, "cleared cart should be removed from storage")
}

func TestFormatPrice(t *testing.T) {
	s := menu.FormatPrice(1250, "INR", language.MustParse("en-IN"))
	assert.True(t, strings.HasPrefix(s, "₹"), s)
	assert.Contains(t, s, "1,250.00")

	s = menu.FormatPrice(9.5, "bogus", language.English)
	assert.Contains(t, s, "9.50")
}
