// Пакет telegram — адаптер поверх gotd: пул подключений по номеру телефона,
// сериализация MTProto-сессии в строковый токен и операции авторизации
// (send code / sign in / sign up / 2FA password).
package telegram

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"
)

// tokenStorage реализует tdsession.Storage поверх байтового буфера в памяти.
// Сессия приходит и уходит строковым токеном (base64), который персистится
// во внешнем хранилище учётных записей, а не на диске. Обновление буфера
// выполняется самим gotd при логине/реавторизации.
type tokenStorage struct {
	mu   sync.Mutex
	data []byte
}

// Компиляторная проверка соответствия интерфейсу tdsession.Storage.
var _ tdsession.Storage = (*tokenStorage)(nil)

// newTokenStorage создаёт storage, опционально наполняя его из токена.
// Пустой токен означает «сессии ещё нет» — gotd начнёт с чистого состояния.
func newTokenStorage(token string) (*tokenStorage, error) {
	s := &tokenStorage{}
	if token == "" {
		return s, nil
	}
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.Wrap(err, "decode session token")
	}
	s.data = data
	return s, nil
}

// LoadSession отдаёт текущие байты сессии или tdsession.ErrNotFound.
func (s *tokenStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, tdsession.ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

// StoreSession запоминает свежие байты сессии.
func (s *tokenStorage) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make([]byte, len(data))
	copy(s.data, data)
	return nil
}

// Token возвращает сериализованную сессию в base64 и признак её наличия.
func (s *tokenStorage) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return "", false
	}
	return base64.StdEncoding.EncodeToString(s.data), true
}
