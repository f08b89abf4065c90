// Пакет config отвечает за сбор и предоставление конфигурации сервиса выгрузки.
// Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. накапливает предупреждения о подставленных дефолтах,
//  4. фиксирует результат в singleton с потокобезопасным доступом.
//
// Бизнес-контекст: сервис принимает учётные данные Telegram API от пользователя
// per-request, поэтому API_ID/API_HASH в окружении не живут. Здесь только
// «операционные» ручки: адрес HTTP-сервера, подключение к хранилищу учётных
// записей (Postgres или bbolt), лимиты скорости и логирование.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env).
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	ListenAddr   string
	LogLevel     string
	StoreBackend string // postgres | bolt
	DatabaseURL  string
	BoltFile     string
	// Telegram-клиент
	ThrottleRPS   int
	TestDC        bool
	ClientIdleSec int
	// Лимитер исходящих auth-запросов
	RateLimitMax       int
	RateLimitWindowSec int
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock; после Load структура
// не мутируется.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения.
const (
	defaultListenAddr   = "127.0.0.1:8080"
	defaultLogLevel     = "info"
	defaultStoreBackend = backendPostgres
	defaultBoltFile     = "data/extractor.bbolt"

	defaultThrottleRPS   = 1
	defaultClientIdleSec = 300

	defaultRateLimitMax       = 20
	defaultRateLimitWindowSec = 60

	// Файловое логирование (LOG_FILE не имеет дефолта — должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

const (
	backendPostgres = "postgres"
	backendBolt     = "bolt"
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации.
// При первом вызове читает .env, формирует EnvConfig и фиксирует результат
// в singleton cfgInstance. Повторный вызов запрещён (возвращается ошибка),
// чтобы избежать гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	loadDotenv(envPath)

	var warnings []string

	listenAddr := sanitizeValue("LISTEN_ADDR", os.Getenv("LISTEN_ADDR"), defaultListenAddr, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	storeBackend := sanitizeStoreBackend(os.Getenv("STORE_BACKEND"), &warnings)
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	boltFile := sanitizeValue("BOLT_FILE", os.Getenv("BOLT_FILE"), defaultBoltFile, &warnings)

	if storeBackend == backendPostgres && databaseURL == "" {
		return nil, errors.New("env DATABASE_URL must be set when STORE_BACKEND is postgres")
	}

	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")
	clientIdleSec := parseIntDefault("CLIENT_IDLE_SEC", defaultClientIdleSec, greaterThanZero, &warnings)

	rateLimitMax := parseIntDefault("RATE_LIMIT_MAX", defaultRateLimitMax, greaterThanZero, &warnings)
	rateLimitWindowSec := parseIntDefault("RATE_LIMIT_WINDOW_SEC", defaultRateLimitWindowSec,
		greaterThanZero, &warnings)

	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	env := EnvConfig{
		ListenAddr:         listenAddr,
		LogLevel:           logLevel,
		StoreBackend:       storeBackend,
		DatabaseURL:        databaseURL,
		BoltFile:           boltFile,
		ThrottleRPS:        throttleRPS,
		TestDC:             testDC,
		ClientIdleSec:      clientIdleSec,
		RateLimitMax:       rateLimitMax,
		RateLimitWindowSec: rateLimitWindowSec,
		LogFile:            logFile,
		LogFileLevel:       logFileLevel,
		LogFileMaxSize:     logFileMaxSize,
		LogFileMaxBackups:  logFileMaxBackups,
		LogFileMaxAge:      logFileMaxAge,
		LogFileCompress:    logFileCompress,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// loadDotenv подхватывает .env по указанному пути. Отсутствие файла не фатально:
// в контейнерных окружениях переменные приходят напрямую из окружения процесса.
func loadDotenv(envPath string) {
	if strings.TrimSpace(envPath) == "" {
		return
	}
	// Переменные окружения процесса имеют приоритет над файлом — поведение godotenv.Load.
	_ = godotenv.Load(envPath)
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// IsPostgres сообщает, выбран ли Postgres как хранилище учётных записей.
func (e EnvConfig) IsPostgres() bool { return e.StoreBackend == backendPostgres }

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// sanitizeLogLevel нормализует уровень логирования и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeStoreBackend выбирает бэкенд хранилища (postgres|bolt). Некорректные
// значения приводятся к defaultStoreBackend с записью предупреждения.
func sanitizeStoreBackend(value string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		appendWarningf(warnings, "env STORE_BACKEND is not set; using default %q", defaultStoreBackend)
		return defaultStoreBackend
	}
	if v == backendPostgres || v == backendBolt {
		return v
	}
	appendWarningf(warnings, "env STORE_BACKEND value %q is invalid; using default %q", value, defaultStoreBackend)
	return defaultStoreBackend
}

// sanitizeValue возвращает значение переменной или fallback с предупреждением.
func sanitizeValue(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}
