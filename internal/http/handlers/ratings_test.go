package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/geocoder89/learnhub/internal/authz"
	"github.com/geocoder89/learnhub/internal/domain/rating"
	"github.com/geocoder89/learnhub/internal/domain/role"
	"github.com/geocoder89/learnhub/internal/http/handlers"
	"github.com/geocoder89/learnhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type fakeRatings struct {
	forModuleFn func(ctx context.Context, moduleID string) (rating.ModuleRatings, error)
	createFn    func(ctx context.Context, moduleID, userID string, req rating.CreateRequest) (rating.Rating, error)
	getFn       func(ctx context.Context, id string) (rating.Rating, error)
	deleteFn    func(ctx context.Context, id string) error
}

func (f *fakeRatings) ForModule(ctx context.Context, moduleID string) (rating.ModuleRatings, error) {
	if f.forModuleFn != nil {
		return f.forModuleFn(ctx, moduleID)
	}
	return rating.ModuleRatings{}, nil
}

func (f *fakeRatings) Create(ctx context.Context, moduleID, userID string, req rating.CreateRequest) (rating.Rating, error) {
	if f.createFn != nil {
		return f.createFn(ctx, moduleID, userID, req)
	}
	return rating.Rating{ID: newUUID(), ModuleID: moduleID, UserID: userID, Rating: req.Rating}, nil
}

func (f *fakeRatings) GetByID(ctx context.Context, id string) (rating.Rating, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return rating.Rating{}, rating.ErrNotFound
}

func (f *fakeRatings) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

func ratingsRouter(store handlers.RatingStore, modules handlers.ModuleReader, p *authz.Principal) *gin.Engine {
	h := handlers.NewRatingsHandler(store, modules)

	r := gin.New()
	r.Use(as(p))
	r.GET("/ratings/module/:moduleId", h.ForModule)
	r.POST("/ratings/module/:moduleId", h.Create)
	r.DELETE("/ratings/:id",
		middlewares.GuardResource(authz.AnyOf(authz.OwnerOnly(), authz.Permission(role.PermRatingsModerate)), h.Owner),
		h.Delete,
	)
	return r
}

func TestRatingsHandler_Create(t *testing.T) {
	f := newModulesFixture()
	uploader := principal(newUUID(), role.RoleContributor)
	moderator := principal(newUUID(), role.RoleModerator)
	viewer := principal(newUUID(), role.RoleViewer)

	pending := f.upload(t, uploader)
	approved := f.upload(t, uploader)
	if w := do(f.router(moderator), http.MethodPost, "/modules/"+approved.ID+"/approve", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("approve: got %d", w.Code)
	}

	tests := []struct {
		name     string
		caller   *authz.Principal
		moduleID string
		body     string
		createFn func(ctx context.Context, moduleID, userID string, req rating.CreateRequest) (rating.Rating, error)
		wantCode int
		wantErr  string
	}{
		{"success", viewer, approved.ID, `{"rating":5,"review":"clear"}`, nil, http.StatusCreated, ""},
		{"pending module", uploader, pending.ID, `{"rating":5}`, nil, http.StatusConflict, "module_not_approved"},
		{"out of range", viewer, approved.ID, `{"rating":6}`, nil, http.StatusBadRequest, "invalid_request"},
		{"unknown module", viewer, newUUID(), `{"rating":3}`, nil, http.StatusNotFound, "not_found"},
		{"anonymous", nil, approved.ID, `{"rating":3}`, nil, http.StatusUnauthorized, "unauthorized"},
		{
			name:     "already rated",
			caller:   viewer,
			moduleID: approved.ID,
			body:     `{"rating":4}`,
			createFn: func(context.Context, string, string, rating.CreateRequest) (rating.Rating, error) {
				return rating.Rating{}, rating.ErrAlreadyRated
			},
			wantCode: http.StatusConflict,
			wantErr:  "already_rated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeRatings{createFn: tt.createFn}
			w := doJSON(ratingsRouter(store, f.svc, tt.caller), http.MethodPost, "/ratings/module/"+tt.moduleID, tt.body)

			if w.Code != tt.wantCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantErr != "" {
				if env := decodeEnvelope(t, w); env.Code != tt.wantErr {
					t.Fatalf("got code %q, want %q", env.Code, tt.wantErr)
				}
			}
		})
	}
}

func TestRatingsHandler_DeleteGuard(t *testing.T) {
	f := newModulesFixture()
	author := newUUID()
	ratingID := newUUID()

	store := &fakeRatings{
		getFn: func(_ context.Context, id string) (rating.Rating, error) {
			if id == ratingID {
				return rating.Rating{ID: id, UserID: author}, nil
			}
			return rating.Rating{}, rating.ErrNotFound
		},
	}

	tests := []struct {
		name     string
		caller   *authz.Principal
		id       string
		wantCode int
	}{
		{"author", principal(author, role.RoleViewer), ratingID, http.StatusOK},
		{"moderator", principal(newUUID(), role.RoleModerator), ratingID, http.StatusOK},
		{"contributor is not a bypass", principal(newUUID(), role.RoleContributor), ratingID, http.StatusForbidden},
		{"unknown rating", principal(author, role.RoleViewer), newUUID(), http.StatusNotFound},
		{"malformed id", principal(author, role.RoleViewer), "xyz", http.StatusBadRequest},
		{"anonymous", nil, ratingID, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(ratingsRouter(store, f.svc, tt.caller), http.MethodDelete, "/ratings/"+tt.id, "")
			if w.Code != tt.wantCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestRatingsHandler_ForModuleEmpty(t *testing.T) {
	f := newModulesFixture()
	uploader := principal(newUUID(), role.RoleContributor)
	m := f.upload(t, uploader)

	w := doJSON(ratingsRouter(&fakeRatings{}, f.svc, uploader), http.MethodGet, "/ratings/module/"+m.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", w.Code, w.Body.String())
	}

	var out rating.ModuleRatings
	decodeData(t, w, &out)
	if out.Ratings == nil || len(out.Ratings) != 0 || out.Statistics.TotalRatings != 0 {
		t.Fatalf("expected an empty list, got %+v", out)
	}

	w = doJSON(ratingsRouter(&fakeRatings{}, f.svc, nil), http.MethodGet, "/ratings/module/"+m.ID, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("anonymous on pending module: got %d, want 403", w.Code)
	}
}
