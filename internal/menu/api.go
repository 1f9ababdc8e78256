package menu

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"
)

// API serves the menu over HTTP.
//
//	GET    /api/menu[?tier=]            categorised menu, available items only
//	GET    /api/offers                  active offers
//	GET    /api/admin/items             all items (admin)
//	PUT    /api/admin/items/{id}        create or replace an item (admin)
//	DELETE /api/admin/items/{id}        (admin)
//	GET    /api/admin/offers            all offers (admin)
//	PUT    /api/admin/offers/{id}       (admin)
//	DELETE /api/admin/offers/{id}       (admin)
//	GET    /api/admin/users             admin emails (admin)
//	POST   /api/admin/users             {"email","password"} (admin)
//	DELETE /api/admin/users/{email}     (admin)
//
// Admin routes use HTTP basic auth checked against the admin list.
type API struct {
	repo   Repository
	logger *log.Logger
	mux    *http.ServeMux
}

// NewAPI creates the HTTP API over repo.
func NewAPI(repo Repository, logger *log.Logger) *API {
	if logger == nil {
		logger = log.Default()
	}
	a := &API{repo: repo, logger: logger, mux: http.NewServeMux()}

	a.mux.HandleFunc("GET /api/menu", a.handleMenu)
	a.mux.HandleFunc("GET /api/offers", a.handleOffers)

	a.mux.HandleFunc("GET /api/admin/items", a.admin(a.handleListItems))
	a.mux.HandleFunc("PUT /api/admin/items/{id}", a.admin(a.handlePutItem))
	a.mux.HandleFunc("DELETE /api/admin/items/{id}", a.admin(a.handleDeleteItem))
	a.mux.HandleFunc("GET /api/admin/offers", a.admin(a.handleListOffers))
	a.mux.HandleFunc("PUT /api/admin/offers/{id}", a.admin(a.handlePutOffer))
	a.mux.HandleFunc("DELETE /api/admin/offers/{id}", a.admin(a.handleDeleteOffer))
	a.mux.HandleFunc("GET /api/admin/users", a.admin(a.handleListAdmins))
	a.mux.HandleFunc("POST /api/admin/users", a.admin(a.handleAddAdmin))
	a.mux.HandleFunc("DELETE /api/admin/users/{email}", a.admin(a.handleDeleteAdmin))
	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// MenuResponse is the body of GET /api/menu.
type MenuResponse struct {
	Tier       Tier       `json:"tier"`
	Categories []Category `json:"categories"`
}

func (a *API) handleMenu(w http.ResponseWriter, r *http.Request) {
	tier, err := ParseTier(r.URL.Query().Get("tier"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	items, err := a.repo.ListItems(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	available := items[:0]
	for _, it := range items {
		if it.Available {
			available = append(available, it)
		}
	}
	writeJSON(w, http.StatusOK, MenuResponse{Tier: tier, Categories: Group(available)})
}

func (a *API) handleOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := a.repo.ListOffers(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	active := make([]Offer, 0, len(offers))
	for _, o := range offers {
		if o.Active {
			active = append(active, o)
		}
	}
	writeJSON(w, http.StatusOK, active)
}

func (a *API) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.repo.ListItems(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handlePutItem(w http.ResponseWriter, r *http.Request) {
	var item Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	item.ID = r.PathValue("id")
	item.UpdatedAt = time.Now().UTC()
	if err := item.Validate(); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.repo.SaveItem(r.Context(), &item); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.DeleteMenuItem(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := a.repo.ListOffers(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

func (a *API) handlePutOffer(w http.ResponseWriter, r *http.Request) {
	var offer Offer
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	offer.ID = r.PathValue("id")
	if err := offer.Validate(); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.repo.SaveOffer(r.Context(), &offer); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

func (a *API) handleDeleteOffer(w http.ResponseWriter, r *http.Request) {
	if err := a.repo.DeleteOffer(r.Context(), r.PathValue("id")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := a.repo.ListAdmins(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, admins)
}

func (a *API) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	admin, err := NewAdmin(body.Email, body.Password)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.repo.SaveAdmin(r.Context(), admin); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, admin)
}

func (a *API) handleDeleteAdmin(w http.ResponseWriter, r *http.Request) {
	email := normalizeEmail(r.PathValue("email"))
	if user, ok := r.Context().Value(adminKey{}).(*AdminUser); ok && user.Email == email {
		http.Error(w, "cannot remove yourself", http.StatusConflict)
		return
	}
	if err := a.repo.DeleteAdmin(r.Context(), email); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adminKey struct{}

// admin wraps h with basic auth against the admin list.
func (a *API) admin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="menuboard"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := Authenticate(r.Context(), a.repo, email, password)
		if err != nil {
			if !errors.Is(err, ErrUnauthorized) {
				a.logger.Printf("Warning: admin lookup failed: %v", err)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="menuboard"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r.WithContext(contextWithAdmin(r, user)))
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		a.logger.Printf("Warning: request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func contextWithAdmin(r *http.Request, user *AdminUser) context.Context {
	return context.WithValue(r.Context(), adminKey{}, user)
}

// IsAdminPath reports whether path belongs to the admin API.
func IsAdminPath(path string) bool {
	return strings.HasPrefix(path, "/api/admin/")
}
