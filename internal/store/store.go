// Package store — хранилище учётных записей авторизации и выгруженных данных.
// Запись AuthSession живёт по одной на номер телефона (upsert-семантика);
// выгруженные группы/контакты дедуплицируются по ключу (владелец, удалённый id).
// Реализации: Postgres (lib/pq) для продакшена и bbolt для локального запуска.
package store

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound возвращается, когда записи для номера нет.
var ErrNotFound = errors.New("auth session not found")

// AuthSession — состояние авторизации одного номера телефона.
// Инварианты:
//   - CodeHash и CodeRequestedAt либо оба заданы, либо оба пусты;
//   - SessionToken появляется только после полного успеха входа (включая 2FA).
type AuthSession struct {
	PhoneNumber     string    `json:"phone_number"`
	APIID           int       `json:"api_id"`
	APIHash         string    `json:"api_hash"`
	CodeHash        string    `json:"code_hash,omitempty"`
	CodeRequestedAt time.Time `json:"code_requested_at,omitempty"` // нулевое время = кода нет
	PhoneRegistered bool      `json:"phone_registered"`
	SessionToken    string    `json:"session_token,omitempty"`
}

// HasPendingCode сообщает, есть ли неиспользованный код подтверждения.
func (s AuthSession) HasPendingCode() bool {
	return s.CodeHash != "" && !s.CodeRequestedAt.IsZero()
}

// HasSession сообщает, авторизован ли номер (есть сериализованная сессия).
func (s AuthSession) HasSession() bool {
	return s.SessionToken != ""
}

// ClearCode сбрасывает поля кода подтверждения. Вызывается после успешного
// (или истёкшего) погашения кода — код одноразовый.
func (s *AuthSession) ClearCode() {
	s.CodeHash = ""
	s.CodeRequestedAt = time.Time{}
}

// SessionStore персистит AuthSession по номеру телефона.
type SessionStore interface {
	// Get возвращает запись или ErrNotFound.
	Get(ctx context.Context, phone string) (AuthSession, error)
	// Upsert вставляет либо обновляет запись целиком (одна запись на номер).
	Upsert(ctx context.Context, sess AuthSession) error
	// ClearAuth обнуляет sessionToken и поля кода. Идемпотентен: отсутствие
	// записи не является ошибкой.
	ClearAuth(ctx context.Context, phone string) error
}

// Group — нормализованная запись группы/канала, принадлежащая номеру-владельцу.
type Group struct {
	OwnerPhone        string    `json:"owner_phone"`
	GroupID           int64     `json:"group_id"`
	Title             string    `json:"group_name"`
	ParticipantsCount int       `json:"participants_count"`
	Type              string    `json:"type"` // group | channel
	IsPublic          bool      `json:"is_public"`
	Description       string    `json:"description"`
	InviteLink        string    `json:"invite_link"`
	ExtractedAt       time.Time `json:"extracted_at"`
}

// Contact — нормализованная запись контакта, принадлежащая номеру-владельцу.
type Contact struct {
	OwnerPhone  string    `json:"owner_phone"`
	UserID      int64     `json:"user_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Username    string    `json:"username"`
	PhoneNumber string    `json:"phone_number"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// RecordStore персистит выгруженные записи с дедупликацией по (владелец, id).
type RecordStore interface {
	UpsertGroups(ctx context.Context, groups []Group) error
	UpsertContacts(ctx context.Context, contacts []Contact) error
	Groups(ctx context.Context, ownerPhone string) ([]Group, error)
	Contacts(ctx context.Context, ownerPhone string) ([]Contact, error)
}
