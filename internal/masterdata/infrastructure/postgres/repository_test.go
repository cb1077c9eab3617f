package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	masterdata "building-cloud/internal/masterdata/domain"
)

func TestTenantRepositoryGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	created := time.Date(2023, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FROM tenants t").WithArgs("tenant-a").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "currency", "created_at", "count"}).
			AddRow("tenant-a", "Lale Apartments", "TRY", created, 49),
	)

	tenant, err := NewTenantRepository(db).Get(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tenant == nil || tenant.ApartmentCount != 49 || tenant.Currency != "TRY" {
		t.Fatalf("unexpected tenant: %+v", tenant)
	}
}

func TestTenantRepositoryGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM tenants t").WithArgs("nope").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "currency", "created_at", "count"}),
	)
	tenant, err := NewTenantRepository(db).Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tenant != nil {
		t.Fatalf("expected nil tenant, got %+v", tenant)
	}
}

func TestDeviceRepositorySaveRejectsInvalidToken(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	err = NewDeviceRepository(db).Save(context.Background(), &masterdata.PushDevice{
		ID: "d-1", TenantID: "t", ResidentID: "r", Token: "garbage", Platform: masterdata.PlatformExpo,
	})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestResidentRepositoryListActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM residents").WithArgs("tenant-a").WillReturnRows(
		sqlmock.NewRows([]string{"id", "tenant_id", "apartment_id", "full_name", "email", "phone", "is_active"}).
			AddRow("r-1", "tenant-a", "apt-1", "Ayse Demir", "ayse@example.com", "+90 532 000 00 00", true).
			AddRow("r-2", "tenant-a", "", "Mehmet Kaya", "", "", true),
	)
	residents, err := NewResidentRepository(db).ListActive(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(residents) != 2 || residents[0].Email != "ayse@example.com" {
		t.Fatalf("unexpected residents: %+v", residents)
	}
}
