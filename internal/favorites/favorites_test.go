package favorites

import (
	"context"
	"errors"
	"testing"

	"github.com/weatherdash/weather-dashboard/internal/store"
)

func ptr(f float64) *float64 { return &f }

// TestAdd_WithCoordinates verifies the straightforward add path.
func TestAdd_WithCoordinates(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), "", nil)
	ctx := context.Background()

	fav, err := svc.Add(ctx, AddRequest{Name: "London", Country: "GB", Lat: ptr(51.5), Lon: ptr(-0.12)})
	if err != nil {
		t.Fatalf("Add() error = %v, want nil", err)
	}
	if fav.ID == "" {
		t.Error("Add() assigned no ID")
	}
	if fav.Lat != 51.5 || fav.Lon != -0.12 {
		t.Errorf("Add() coords = %v,%v, want 51.5,-0.12", fav.Lat, fav.Lon)
	}

	favs, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v, want nil", err)
	}
	if len(favs) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(favs))
	}
}

// TestAdd_NoCoordinatesNoGeocoder verifies that adding by name alone fails
// when no geocoder is configured.
func TestAdd_NoCoordinatesNoGeocoder(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), "", nil)

	_, err := svc.Add(context.Background(), AddRequest{Name: "London"})
	if !errors.Is(err, ErrNoCoordinates) {
		t.Fatalf("Add() error = %v, want ErrNoCoordinates", err)
	}
}

// TestAdd_DedupesByName verifies that re-adding a city keeps one favorite and
// that the returned favorite carries the stored identity, so its ID works for
// a subsequent removal.
func TestAdd_DedupesByName(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), "", nil)
	ctx := context.Background()

	first, err := svc.Add(ctx, AddRequest{Name: "London", Lat: ptr(51.5), Lon: ptr(-0.12)})
	if err != nil {
		t.Fatalf("Add() error = %v, want nil", err)
	}
	second, err := svc.Add(ctx, AddRequest{Name: "LONDON", Lat: ptr(51.51), Lon: ptr(-0.13)})
	if err != nil {
		t.Fatalf("Add() error = %v, want nil", err)
	}

	favs, _ := svc.List(ctx)
	if len(favs) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(favs))
	}
	if favs[0].Lat != 51.51 {
		t.Errorf("favorite Lat = %v, want refreshed coordinates", favs[0].Lat)
	}

	if second.ID != first.ID {
		t.Errorf("re-add returned ID %q, want original %q", second.ID, first.ID)
	}
	if err := svc.Remove(ctx, second.ID); err != nil {
		t.Fatalf("Remove(returned ID) error = %v, want nil", err)
	}
	if favs, _ := svc.List(ctx); len(favs) != 0 {
		t.Errorf("len(List()) after Remove = %d, want 0", len(favs))
	}
}

// TestRemove verifies removal by ID and that an unknown ID is a no-op.
func TestRemove(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), "", nil)
	ctx := context.Background()

	fav, err := svc.Add(ctx, AddRequest{Name: "London", Lat: ptr(51.5), Lon: ptr(-0.12)})
	if err != nil {
		t.Fatalf("Add() error = %v, want nil", err)
	}

	if err := svc.Remove(ctx, fav.ID); err != nil {
		t.Fatalf("Remove() error = %v, want nil", err)
	}
	if err := svc.Remove(ctx, "no-such-id"); err != nil {
		t.Fatalf("Remove(unknown) error = %v, want nil", err)
	}

	favs, _ := svc.List(ctx)
	if len(favs) != 0 {
		t.Errorf("len(List()) = %d, want 0", len(favs))
	}
}

// TestIsFavorite verifies the case-insensitive membership check.
func TestIsFavorite(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), "", nil)
	ctx := context.Background()

	if _, err := svc.Add(ctx, AddRequest{Name: "London", Lat: ptr(51.5), Lon: ptr(-0.12)}); err != nil {
		t.Fatalf("Add() error = %v, want nil", err)
	}

	for _, query := range []string{"london", "LONDON", " London "} {
		ok, err := svc.IsFavorite(ctx, query)
		if err != nil {
			t.Fatalf("IsFavorite(%q) error = %v, want nil", query, err)
		}
		if !ok {
			t.Errorf("IsFavorite(%q) = false, want true", query)
		}
	}

	ok, err := svc.IsFavorite(ctx, "Paris")
	if err != nil {
		t.Fatalf("IsFavorite(Paris) error = %v, want nil", err)
	}
	if ok {
		t.Error("IsFavorite(Paris) = true, want false")
	}
}
