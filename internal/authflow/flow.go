// Пакет authflow — машина состояний авторизации Telegram-аккаунтов:
// запрос кода, погашение кода, опциональный шаг 2FA, проверка сессии и logout.
// Все операции по одному номеру сериализуются, состояние персистится
// в SessionStore после каждого внешнего вызова.
package authflow

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"telegram-extractor/internal/infra/logger"
	"telegram-extractor/internal/infra/ratelimit"
	"telegram-extractor/internal/store"
)

// CodeTTL — срок жизни кода подтверждения. Код старше не гасится, даже если
// Telegram его ещё принимает: клиент обязан запросить новый.
const CodeTTL = 30 * time.Minute

// pendingTwoFactorTTL — срок жизни ожидающего шага 2FA. Совпадает с CodeTTL:
// пароль, не присланный за полчаса, означает брошенный вход.
const pendingTwoFactorTTL = CodeTTL

// Имена по умолчанию при регистрации номера, на котором ещё нет аккаунта.
const (
	signUpFirstName = "New"
	signUpLastName  = "User"
)

// Валидация входа. Телефон — E.164 с ведущим плюсом, api_hash — 32 hex-символа
// в нижнем регистре.
var (
	phoneRe   = regexp.MustCompile(`^\+[0-9]{2,15}$`)
	apiHashRe = regexp.MustCompile(`^[a-f0-9]{32}$`)
	codeRe    = regexp.MustCompile(`^[0-9]{3,8}$`)
)

// Conn — операции одного MTProto-подключения, нужные машине состояний.
// Реализуется пулом из internal/telegram; в тестах подменяется фейком.
type Conn interface {
	SendCode(ctx context.Context, phone string) (codeHash string, err error)
	SignIn(ctx context.Context, phone, code, codeHash string) error
	SignUp(ctx context.Context, phone, codeHash, firstName, lastName string) error
	CheckPassword(ctx context.Context, password string) error
	Authorized(ctx context.Context) (bool, error)
	SessionToken() (string, bool)
	API() *tg.Client
}

// Connector выдаёт подключения по номеру и выбрасывает их при logout.
type Connector interface {
	Acquire(ctx context.Context, phone string, apiID int, apiHash, sessionToken string) (Conn, error)
	Drop(phone string)
}

// CodeSent — исход успешного запроса кода.
type CodeSent struct {
	// PhoneRegistered — числится ли номер зарегистрированным по данным записи.
	// Современный send code регистрацию не сообщает, поэтому до первой попытки
	// входа значение берётся из хранилища (по умолчанию true).
	PhoneRegistered bool
}

// Result — исход шага входа.
type Result struct {
	// Authenticated выставляется после полного успеха (включая 2FA, если была).
	Authenticated bool
	// Requires2FA означает: код погашен, аккаунт ждёт облачный пароль.
	Requires2FA bool
}

// Flow — машина состояний авторизации. Потокобезопасна: операции по разным
// номерам идут параллельно, по одному номеру — строго по очереди.
type Flow struct {
	store   store.SessionStore
	tg      Connector
	limiter *ratelimit.Limiter
	now     func() time.Time

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	pending map[string]time.Time // номера, ожидающие шаг 2FA (код уже погашен)
}

// New создаёт машину состояний поверх хранилища, пула подключений и лимитера.
func New(sessions store.SessionStore, connector Connector, limiter *ratelimit.Limiter) *Flow {
	return &Flow{
		store:   sessions,
		tg:      connector,
		limiter: limiter,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
		pending: make(map[string]time.Time),
	}
}

// phoneLock возвращает мьютекс номера, создавая его при первом обращении.
// Мьютексы не удаляются: номеров конечное число, а снос под конкуренцией
// дороже пары десятков байт.
func (f *Flow) phoneLock(phone string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[phone]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[phone] = lock
	}
	return lock
}

// RequestCode просит Telegram отправить код подтверждения на номер.
// Последовательность фиксирована: валидация, лимитер, подключение, send code,
// и только после успеха внешнего вызова — персист code_hash.
func (f *Flow) RequestCode(ctx context.Context, phone string, apiID int, apiHash string) (CodeSent, error) {
	if err := validateCredentials(phone, apiID, apiHash); err != nil {
		return CodeSent{}, err
	}
	if err := f.limiter.Check(); err != nil {
		return CodeSent{}, err
	}

	lock := f.phoneLock(phone)
	lock.Lock()
	defer lock.Unlock()

	sess, err := f.loadOrInit(ctx, phone, apiID, apiHash)
	if err != nil {
		return CodeSent{}, err
	}
	if sess.HasSession() {
		return CodeSent{}, ErrAlreadyAuthenticated
	}

	conn, err := f.tg.Acquire(ctx, phone, apiID, apiHash, sess.SessionToken)
	if err != nil {
		return CodeSent{}, &ConnectError{Err: err}
	}

	codeHash, err := conn.SendCode(ctx, phone)
	if err != nil {
		return CodeSent{}, Classify(err)
	}

	// Новый код перечёркивает брошенный на полпути шаг 2FA: вход начинается заново.
	f.clearPending(phone)

	sess.APIID = apiID
	sess.APIHash = apiHash
	sess.CodeHash = codeHash
	sess.CodeRequestedAt = f.now()
	if err := f.store.Upsert(ctx, sess); err != nil {
		return CodeSent{}, errors.Wrap(err, "persist code hash")
	}

	logger.Infof("auth: code requested for %s", phone)
	return CodeSent{PhoneRegistered: sess.PhoneRegistered}, nil
}

// VerifyCode гасит код подтверждения. Код одноразовый: успех и истечение
// срока сбрасывают его, неверный код оставляет попытку в силе.
func (f *Flow) VerifyCode(ctx context.Context, phone, code string) (Result, error) {
	if !phoneRe.MatchString(phone) {
		return Result{}, &InputError{Field: "phoneNumber", Reason: "must be E.164 with leading +"}
	}
	if !codeRe.MatchString(code) {
		return Result{}, &InputError{Field: "code", Reason: "must be 3-8 digits"}
	}

	lock := f.phoneLock(phone)
	lock.Lock()
	defer lock.Unlock()

	sess, err := f.store.Get(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, ErrNoCodeRequested
	}
	if err != nil {
		return Result{}, errors.Wrap(err, "load auth session")
	}
	if sess.HasSession() {
		return Result{}, ErrAlreadyAuthenticated
	}
	if !sess.HasPendingCode() {
		// Сюда же попадает повторный verify после погашения кода на шаге 2FA.
		return Result{}, ErrNoCodeRequested
	}

	if f.now().Sub(sess.CodeRequestedAt) > CodeTTL {
		sess.ClearCode()
		if err := f.store.Upsert(ctx, sess); err != nil {
			return Result{}, errors.Wrap(err, "clear expired code")
		}
		return Result{}, ErrCodeExpired
	}

	conn, err := f.tg.Acquire(ctx, phone, sess.APIID, sess.APIHash, sess.SessionToken)
	if err != nil {
		return Result{}, &ConnectError{Err: err}
	}

	signInErr := conn.SignIn(ctx, phone, code, sess.CodeHash)
	if signInErr != nil && tgerr.Is(signInErr, "PHONE_NUMBER_UNOCCUPIED") {
		// На номере нет аккаунта — регистрируем с именами-заглушками.
		logger.Infof("auth: signing up unoccupied number %s", phone)
		signInErr = conn.SignUp(ctx, phone, sess.CodeHash, signUpFirstName, signUpLastName)
	}
	if signInErr != nil {
		if errors.Is(signInErr, auth.ErrPasswordAuthNeeded) {
			// Код погашен, аккаунт защищён облачным паролем.
			sess.ClearCode()
			if err := f.store.Upsert(ctx, sess); err != nil {
				return Result{}, errors.Wrap(err, "persist consumed code")
			}
			f.markPending(phone)
			logger.Infof("auth: 2FA required for %s", phone)
			return Result{Requires2FA: true}, nil
		}
		classified := Classify(signInErr)
		if errors.Is(classified, ErrCodeExpired) {
			sess.ClearCode()
			if err := f.store.Upsert(ctx, sess); err != nil {
				return Result{}, errors.Wrap(err, "clear expired code")
			}
		}
		return Result{}, classified
	}

	return f.finishLogin(ctx, phone, sess, conn)
}

// VerifyTwoFactor завершает вход облачным паролем. Допустим только после
// VerifyCode, вернувшего Requires2FA; неверный пароль оставляет шаг в силе.
func (f *Flow) VerifyTwoFactor(ctx context.Context, phone, password string) (Result, error) {
	if !phoneRe.MatchString(phone) {
		return Result{}, &InputError{Field: "phoneNumber", Reason: "must be E.164 with leading +"}
	}
	if password == "" {
		return Result{}, &InputError{Field: "password", Reason: "must not be empty"}
	}

	lock := f.phoneLock(phone)
	lock.Lock()
	defer lock.Unlock()

	if !f.isPending(phone) {
		return Result{}, ErrNoPendingTwoFactor
	}

	sess, err := f.store.Get(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, ErrNoPendingTwoFactor
	}
	if err != nil {
		return Result{}, errors.Wrap(err, "load auth session")
	}

	conn, err := f.tg.Acquire(ctx, phone, sess.APIID, sess.APIHash, sess.SessionToken)
	if err != nil {
		return Result{}, &ConnectError{Err: err}
	}

	if err := conn.CheckPassword(ctx, password); err != nil {
		return Result{}, Classify(err)
	}

	f.clearPending(phone)
	return f.finishLogin(ctx, phone, sess, conn)
}

// finishLogin снимает у подключения свежую сессию и персистит её.
// Вызывается под мьютексом номера.
func (f *Flow) finishLogin(ctx context.Context, phone string, sess store.AuthSession, conn Conn) (Result, error) {
	token, ok := conn.SessionToken()
	if !ok {
		// Авторизация прошла, но gotd не сбросил сессию в storage — повторный
		// вход возможен, терять состояние нельзя.
		return Result{}, errors.New("authorized but session token is empty")
	}

	sess.SessionToken = token
	sess.PhoneRegistered = true
	sess.ClearCode()
	if err := f.store.Upsert(ctx, sess); err != nil {
		return Result{}, errors.Wrap(err, "persist session token")
	}

	logger.Infof("auth: %s authenticated", phone)
	return Result{Authenticated: true}, nil
}

// CheckSession сообщает, авторизован ли номер, по данным хранилища.
func (f *Flow) CheckSession(ctx context.Context, phone string) (bool, error) {
	if !phoneRe.MatchString(phone) {
		return false, &InputError{Field: "phoneNumber", Reason: "must be E.164 with leading +"}
	}

	sess, err := f.store.Get(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "load auth session")
	}
	return sess.HasSession(), nil
}

// Logout сбрасывает сессию и код номера и закрывает его подключение.
// Идемпотентен: logout неизвестного номера успешен.
func (f *Flow) Logout(ctx context.Context, phone string) error {
	if !phoneRe.MatchString(phone) {
		return &InputError{Field: "phoneNumber", Reason: "must be E.164 with leading +"}
	}

	lock := f.phoneLock(phone)
	lock.Lock()
	defer lock.Unlock()

	if err := f.store.ClearAuth(ctx, phone); err != nil {
		return errors.Wrap(err, "clear auth session")
	}
	f.clearPending(phone)
	f.tg.Drop(phone)

	logger.Infof("auth: %s logged out", phone)
	return nil
}

// AuthorizedConn возвращает живое авторизованное подключение номера.
// Обнаружив отозванную сессию, сбрасывает её в хранилище.
func (f *Flow) AuthorizedConn(ctx context.Context, phone string) (Conn, error) {
	if !phoneRe.MatchString(phone) {
		return nil, &InputError{Field: "phoneNumber", Reason: "must be E.164 with leading +"}
	}

	lock := f.phoneLock(phone)
	lock.Lock()
	defer lock.Unlock()

	sess, err := f.store.Get(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, errors.Wrap(err, "load auth session")
	}
	if !sess.HasSession() {
		return nil, ErrNotAuthenticated
	}

	conn, err := f.tg.Acquire(ctx, phone, sess.APIID, sess.APIHash, sess.SessionToken)
	if err != nil {
		return nil, &ConnectError{Err: err}
	}

	authorized, err := conn.Authorized(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	if !authorized {
		// Сессию отозвали с другого устройства: чистим хранилище, чтобы
		// следующий запрос кода начал с нуля.
		logger.Warnf("auth: stored session for %s is revoked, clearing", phone)
		if err := f.store.ClearAuth(ctx, phone); err != nil {
			return nil, errors.Wrap(err, "clear revoked session")
		}
		f.tg.Drop(phone)
		return nil, ErrNotAuthenticated
	}
	return conn, nil
}

func (f *Flow) markPending(phone string) {
	f.mu.Lock()
	f.pending[phone] = f.now()
	f.mu.Unlock()
}

// isPending сообщает, ждёт ли номер шаг 2FA. Просроченные записи вычищаются
// лениво: брошенный на полпути вход не должен держать шаг открытым вечно.
func (f *Flow) isPending(phone string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.pending[phone]
	if !ok {
		return false
	}
	if f.now().Sub(at) > pendingTwoFactorTTL {
		delete(f.pending, phone)
		return false
	}
	return true
}

func (f *Flow) clearPending(phone string) {
	f.mu.Lock()
	delete(f.pending, phone)
	f.mu.Unlock()
}

// loadOrInit возвращает запись номера, создавая пустую, если её ещё нет.
func (f *Flow) loadOrInit(ctx context.Context, phone string, apiID int, apiHash string) (store.AuthSession, error) {
	sess, err := f.store.Get(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return store.AuthSession{
			PhoneNumber: phone,
			APIID:       apiID,
			APIHash:     apiHash,
			// Регистрацию номера современный MTProto при send code не сообщает;
			// фактическая проверка происходит при sign in (PHONE_NUMBER_UNOCCUPIED).
			PhoneRegistered: true,
		}, nil
	}
	if err != nil {
		return store.AuthSession{}, errors.Wrap(err, "load auth session")
	}
	return sess, nil
}

// validateCredentials проверяет тройку (телефон, api_id, api_hash) до любых
// внешних вызовов.
func validateCredentials(phone string, apiID int, apiHash string) error {
	if !phoneRe.MatchString(phone) {
		return &InputError{Field: "phoneNumber", Reason: "must be E.164 with leading +"}
	}
	if apiID <= 0 {
		return &InputError{Field: "apiId", Reason: "must be a positive integer"}
	}
	if !apiHashRe.MatchString(apiHash) {
		return &InputError{Field: "apiHash", Reason: "must be 32 lowercase hex characters"}
	}
	return nil
}
