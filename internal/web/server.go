// Пакет web — HTTP-поверхность сервиса: мультиплексированный вход
// авторизации и выгрузки, logout, чтение сохранённых данных и CSV-экспорт.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"telegram-extractor/internal/authflow"
	"telegram-extractor/internal/extract"
	"telegram-extractor/internal/infra/logger"
)

const (
	readTimeout = 15 * time.Second
	// Погашение кода с последующей выгрузкой ходит в Telegram несколько раз,
	// поэтому таймаут записи заметно больше таймаута чтения.
	writeTimeout = 120 * time.Second
	idleTimeout  = 60 * time.Second

	maxBodyBytes = 1 << 20 // 1 MiB, входные тела крошечные
)

// AuthFlow — операции машины состояний авторизации, нужные хендлерам.
type AuthFlow interface {
	RequestCode(ctx context.Context, phone string, apiID int, apiHash string) (authflow.CodeSent, error)
	VerifyCode(ctx context.Context, phone, code string) (authflow.Result, error)
	VerifyTwoFactor(ctx context.Context, phone, password string) (authflow.Result, error)
	CheckSession(ctx context.Context, phone string) (bool, error)
	Logout(ctx context.Context, phone string) error
}

// Extractor — операции выгрузки данных. kind — вид записей (extract.Kind*).
type Extractor interface {
	Extract(ctx context.Context, phone, kind string) (extract.Result, error)
	Stored(ctx context.Context, phone string) (extract.Result, error)
}

// Server — HTTP-сервер сервиса.
type Server struct {
	srv       *http.Server
	flow      AuthFlow
	extractor Extractor
}

// NewServer собирает сервер с роутингом и middleware.
func NewServer(addr string, flow AuthFlow, extractor Extractor) *Server {
	s := &Server{
		flow:      flow,
		extractor: extractor,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/extract-data", s.handleExtractData)
	mux.HandleFunc("/auth/logout", s.handleLogout)
	mux.HandleFunc("/fetch-data", s.handleFetchData)
	mux.HandleFunc("/export-csv", s.handleExportCSV)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Start запускает сервер и блокируется до его остановки.
func (s *Server) Start() error {
	logger.Info("Starting web server", zap.String("address", s.srv.Addr))

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "web server")
	}
	return nil
}

// Shutdown корректно останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down web server...")
	return s.srv.Shutdown(ctx)
}
