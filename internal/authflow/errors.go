package authflow

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"
)

// maxRetryAfter ограничивает подсказку повтора сверху: FLOOD_WAIT от Telegram
// может прийти на часы, но клиенту нет смысла транслировать больше минуты.
const maxRetryAfter = 60 * time.Second

// Сентинели состояний авторизации. Хендлеры веб-слоя различают их через
// errors.Is и переводят в конкретные HTTP-ответы.
var (
	// ErrNoCodeRequested — погашение кода без предшествующего запроса кода.
	ErrNoCodeRequested = errors.New("no verification code requested")
	// ErrCodeExpired — код просрочен (локальный TTL или ответ Telegram).
	ErrCodeExpired = errors.New("verification code expired")
	// ErrInvalidCode — код не подошёл; попытку можно повторить тем же кодом.
	ErrInvalidCode = errors.New("invalid verification code")
	// ErrInvalidPassword — облачный пароль (2FA) не подошёл.
	ErrInvalidPassword = errors.New("invalid 2FA password")
	// ErrAlreadyAuthenticated — номер уже авторизован, повторный вход не нужен.
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	// ErrNoPendingTwoFactor — пароль прислан, но шаг 2FA не ожидается.
	ErrNoPendingTwoFactor = errors.New("no pending 2FA step")
	// ErrNotAuthenticated — операция требует авторизованного номера.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// InputError — фатально некорректный вход: повтор с теми же данными бессмыслен.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RetryAfterError — временный отказ Telegram (FLOOD_WAIT): повтор имеет смысл
// после паузы Wait.
type RetryAfterError struct {
	Wait time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited by telegram, retry after %s", e.Wait)
}

// ConnectError — не удалось поднять подключение к Telegram. Веб-слой отвечает 503.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("telegram connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Classify переводит ошибки Telegram в доменные. Порядок важен: сначала
// FLOOD_WAIT (ретраибельно), затем фатальные ошибки входа, затем состояния
// кода/пароля. Всё нераспознанное уходит наверх как есть (Unexpected).
func Classify(err error) error {
	if err == nil {
		return nil
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		if wait > maxRetryAfter {
			wait = maxRetryAfter
		}
		return &RetryAfterError{Wait: wait}
	}

	switch {
	case tgerr.Is(err, "PHONE_NUMBER_INVALID"):
		return &InputError{Field: "phoneNumber", Reason: "rejected by telegram"}
	case tgerr.Is(err, "PHONE_NUMBER_BANNED"):
		return &InputError{Field: "phoneNumber", Reason: "banned by telegram"}
	case tgerr.Is(err, "API_ID_INVALID", "API_ID_PUBLISHED_FLOOD"):
		return &InputError{Field: "apiId", Reason: "rejected by telegram"}
	case tgerr.Is(err, "PHONE_CODE_INVALID"):
		return ErrInvalidCode
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return ErrCodeExpired
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "USER_DEACTIVATED"):
		return ErrNotAuthenticated
	case tgerr.Is(err, "PASSWORD_HASH_INVALID"), errors.Is(err, auth.ErrPasswordInvalid):
		return ErrInvalidPassword
	}

	return err
}
