package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"github.com/gotd/contrib/bg"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"

	"telegram-extractor/internal/infra/logger"
)

// janitorPeriod — шаг фонового обхода пула для закрытия простаивающих подключений.
const janitorPeriod = time.Minute

// Options — параметры пула подключений.
type Options struct {
	// ThrottleRPS ограничивает частоту MTProto-запросов каждого подключения.
	ThrottleRPS int
	// TestDC переключает подключения на тестовый стенд Telegram.
	TestDC bool
	// IdleTimeout — сколько подключение живёт без обращений до закрытия.
	IdleTimeout time.Duration
	// AppVersion попадает в паспорт устройства MTProto.
	AppVersion string
}

// Pool держит по одному живому MTProto-подключению на номер телефона.
// Подключение создаётся лениво при первом обращении и закрывается янитором
// после IdleTimeout простоя либо явным Drop (logout). Повторное использование
// критично: авторизация кодом и последующая выгрузка должны идти через один
// и тот же клиент, иначе phone_code_hash теряет силу.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*Conn
	opts    Options

	// runCtx переживает запросные контексты: им управляется фоновый цикл gotd.
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPool создаёт пул и запускает янитор простаивающих подключений.
func NewPool(opts Options) *Pool {
	runCtx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		entries: make(map[string]*Conn),
		opts:    opts,
		runCtx:  runCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.janitor()
	return p
}

// Acquire возвращает живое подключение для номера, создавая его при необходимости.
// sessionToken — сериализованная сессия из хранилища (пустая строка допустима).
// Смена api_id/api_hash для номера приводит к пересозданию подключения.
func (p *Pool) Acquire(ctx context.Context, phone string, apiID int, apiHash, sessionToken string) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.entries[phone]; ok {
		if conn.apiID == apiID && conn.apiHash == apiHash {
			conn.touch()
			return conn, nil
		}
		// Креденшалы сменились — старое подключение больше не валидно.
		logger.Debugf("telegram: credentials changed for %s, reconnecting", phone)
		conn.stopLocked()
		delete(p.entries, phone)
	}

	conn, err := p.dial(phone, apiID, apiHash, sessionToken)
	if err != nil {
		return nil, err
	}
	p.entries[phone] = conn

	// bg.Connect уже дождался готовности клиента, но авторизованность
	// проверяет вызывающая сторона.
	return conn, nil
}

// dial собирает клиента gotd и поднимает фоновое подключение.
// Вызывается под мьютексом пула.
func (p *Pool) dial(phone string, apiID int, apiHash, sessionToken string) (*Conn, error) {
	sess, err := newTokenStorage(sessionToken)
	if err != nil {
		return nil, err
	}

	options := telegram.Options{
		SessionStorage: sess,
		NoUpdates:      true,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
			ratelimit.New(
				rate.Limit(p.opts.ThrottleRPS),
				p.opts.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    p.opts.AppVersion,
		},
	}
	// Для тестовых окружений используем DC тестового стенда Telegram.
	if p.opts.TestDC {
		options.DCList = dcs.Test()
	}

	client := telegram.NewClient(apiID, apiHash, options)

	stop, err := bg.Connect(client, bg.WithContext(p.runCtx))
	if err != nil {
		return nil, errors.Wrap(err, "connect telegram client")
	}
	logger.Debugf("telegram: connection established for %s", phone)

	return &Conn{
		phone:    phone,
		apiID:    apiID,
		apiHash:  apiHash,
		client:   client,
		sess:     sess,
		stop:     stop,
		lastUsed: time.Now(),
	}, nil
}

// Drop закрывает и выбрасывает подключение номера. Отсутствие подключения — не ошибка.
func (p *Pool) Drop(phone string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.entries[phone]; ok {
		conn.stopLocked()
		delete(p.entries, phone)
		logger.Debugf("telegram: connection dropped for %s", phone)
	}
}

// Close останавливает янитор и закрывает все подключения.
func (p *Pool) Close() {
	p.cancel()
	<-p.done

	p.mu.Lock()
	defer p.mu.Unlock()
	for phone, conn := range p.entries {
		conn.stopLocked()
		delete(p.entries, phone)
	}
}

// janitor периодически закрывает подключения, простоявшие дольше IdleTimeout.
func (p *Pool) janitor() {
	defer close(p.done)

	ticker := time.NewTicker(janitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.runCtx.Done():
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	if p.opts.IdleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-p.opts.IdleTimeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	for phone, conn := range p.entries {
		if conn.idleSince().Before(cutoff) {
			conn.stopLocked()
			delete(p.entries, phone)
			logger.Debugf("telegram: idle connection reaped for %s", phone)
		}
	}
}

// Conn — одно живое MTProto-подключение, привязанное к номеру телефона.
type Conn struct {
	phone   string
	apiID   int
	apiHash string
	client  *telegram.Client
	sess    *tokenStorage
	stop    bg.StopFunc

	usedMu   sync.Mutex
	lastUsed time.Time
}

func (c *Conn) touch() {
	c.usedMu.Lock()
	c.lastUsed = time.Now()
	c.usedMu.Unlock()
}

func (c *Conn) idleSince() time.Time {
	c.usedMu.Lock()
	defer c.usedMu.Unlock()
	return c.lastUsed
}

// stopLocked гасит фоновый цикл клиента. Имя напоминает, что вызовы идут
// только под мьютексом пула.
func (c *Conn) stopLocked() {
	if err := c.stop(); err != nil {
		logger.Debugf("telegram: stop client for %s: %v", c.phone, err)
	}
}

// SendCode запрашивает у Telegram код подтверждения для номера.
func (c *Conn) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", err
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", errors.Errorf("unexpected sent code type %T", sent)
	}
	return code.PhoneCodeHash, nil
}

// SignIn гасит код подтверждения. Возвращает auth.ErrPasswordAuthNeeded,
// если на аккаунте включена 2FA.
func (c *Conn) SignIn(ctx context.Context, phone, code, codeHash string) error {
	_, err := c.client.Auth().SignIn(ctx, phone, code, codeHash)
	return err
}

// SignUp регистрирует номер, на котором ещё нет аккаунта.
func (c *Conn) SignUp(ctx context.Context, phone, codeHash, firstName, lastName string) error {
	_, err := c.client.Auth().SignUp(ctx, auth.SignUp{
		PhoneNumber:   phone,
		PhoneCodeHash: codeHash,
		FirstName:     firstName,
		LastName:      lastName,
	})
	return err
}

// CheckPassword завершает вход облачным паролем (2FA).
func (c *Conn) CheckPassword(ctx context.Context, password string) error {
	_, err := c.client.Auth().Password(ctx, password)
	return err
}

// Authorized сообщает, авторизован ли клиент на этом подключении.
func (c *Conn) Authorized(ctx context.Context) (bool, error) {
	status, err := c.client.Auth().Status(ctx)
	if err != nil {
		return false, errors.Wrap(err, "auth status")
	}
	return status.Authorized, nil
}

// SessionToken возвращает сериализованную сессию подключения, если она есть.
// Токен появляется после успешной авторизации: gotd сам сбрасывает состояние
// в SessionStorage.
func (c *Conn) SessionToken() (string, bool) {
	return c.sess.Token()
}

// API отдаёт низкоуровневый RPC-клиент для запросов данных.
func (c *Conn) API() *tg.Client {
	return c.client.API()
}
