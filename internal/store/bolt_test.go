package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-faster/errors"
)

func newTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "test.bbolt"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestBoltSessionRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestBolt(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "+79001234567"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get of unknown phone: want ErrNotFound, got %v", err)
	}

	sess := AuthSession{
		PhoneNumber:     "+79001234567",
		APIID:           12345,
		APIHash:         "0123456789abcdef0123456789abcdef",
		CodeHash:        "hash-1",
		CodeRequestedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		PhoneRegistered: true,
	}
	if err := s.Upsert(ctx, sess); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, sess.PhoneNumber)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CodeHash != "hash-1" || !got.HasPendingCode() {
		t.Errorf("got %+v, want pending code hash-1", got)
	}

	// Upsert перезаписывает запись целиком: одна запись на номер.
	sess.SessionToken = "token"
	sess.ClearCode()
	if err := s.Upsert(ctx, sess); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, err = s.Get(ctx, sess.PhoneNumber)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.HasPendingCode() || got.SessionToken != "token" {
		t.Errorf("got %+v, want consumed code and token", got)
	}
}

func TestBoltClearAuth(t *testing.T) {
	t.Parallel()

	s := newTestBolt(t)
	ctx := context.Background()

	sess := AuthSession{
		PhoneNumber:     "+79001234567",
		APIID:           12345,
		APIHash:         "0123456789abcdef0123456789abcdef",
		CodeHash:        "hash-1",
		CodeRequestedAt: time.Now().UTC(),
		SessionToken:    "token",
	}
	if err := s.Upsert(ctx, sess); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := s.ClearAuth(ctx, sess.PhoneNumber); err != nil {
		t.Fatalf("ClearAuth: %v", err)
	}
	got, err := s.Get(ctx, sess.PhoneNumber)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.HasSession() || got.HasPendingCode() {
		t.Errorf("got %+v, want cleared auth", got)
	}
	// Креденшалы переживают logout.
	if got.APIID != 12345 {
		t.Errorf("APIID = %d, want 12345", got.APIID)
	}

	// Идемпотентность: неизвестный номер — не ошибка.
	if err := s.ClearAuth(ctx, "+15550000000"); err != nil {
		t.Fatalf("ClearAuth of unknown phone: %v", err)
	}
}

func TestBoltRecordsDedup(t *testing.T) {
	t.Parallel()

	s := newTestBolt(t)
	ctx := context.Background()
	extractedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	groups := []Group{
		{OwnerPhone: "+7900", GroupID: 2, Title: "Beta", ExtractedAt: extractedAt},
		{OwnerPhone: "+7900", GroupID: 1, Title: "Alpha", ExtractedAt: extractedAt},
	}
	if err := s.UpsertGroups(ctx, groups); err != nil {
		t.Fatalf("UpsertGroups: %v", err)
	}
	// Повторная выгрузка того же id обновляет запись, а не дублирует её.
	if err := s.UpsertGroups(ctx, []Group{
		{OwnerPhone: "+7900", GroupID: 1, Title: "Alpha Renamed", ExtractedAt: extractedAt},
	}); err != nil {
		t.Fatalf("repeat UpsertGroups: %v", err)
	}

	got, err := s.Groups(ctx, "+7900")
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d groups, want 2", len(got))
	}
	// Ключи big-endian: обход идёт по возрастанию id.
	if got[0].GroupID != 1 || got[0].Title != "Alpha Renamed" {
		t.Errorf("got[0] = %+v, want updated Alpha", got[0])
	}
	if got[1].GroupID != 2 {
		t.Errorf("got[1] = %+v, want Beta", got[1])
	}

	// Чужой владелец не видит записей.
	other, err := s.Groups(ctx, "+1555")
	if err != nil {
		t.Fatalf("Groups of other owner: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("got %d groups for other owner, want 0", len(other))
	}
}

func TestBoltContacts(t *testing.T) {
	t.Parallel()

	s := newTestBolt(t)
	ctx := context.Background()

	contacts := []Contact{
		{OwnerPhone: "+7900", UserID: 7, FirstName: "Alice", Username: "alice"},
		{OwnerPhone: "+7900", UserID: 8, FirstName: "Bob"},
	}
	if err := s.UpsertContacts(ctx, contacts); err != nil {
		t.Fatalf("UpsertContacts: %v", err)
	}

	got, err := s.Contacts(ctx, "+7900")
	if err != nil {
		t.Fatalf("Contacts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d contacts, want 2", len(got))
	}
	if got[0].UserID != 7 || got[0].Username != "alice" {
		t.Errorf("got[0] = %+v, want alice", got[0])
	}
}
