package logging

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	OFF
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case OFF:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из строки конфигурации ("debug", "INFO", ...)
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "", "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "OFF", "NONE":
		return OFF, nil
	default:
		return INFO, fmt.Errorf("неизвестный уровень логирования %q", s)
	}
}

// Logger пишет сообщения компонента в консоль и (опционально) в файл.
// Консоль получает сообщения от minConsoleLevel, файл от minFileLevel.
type Logger struct {
	mu              sync.Mutex
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            *os.File
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
}

// LogDir каталог для файловых логов.
var LogDir = "logs"

var (
	defaultMu     sync.RWMutex
	defaultLogger = newConsoleLogger("default", os.Stdout)
)

func newConsoleLogger(component string, w io.Writer) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   log.New(w, "", log.LstdFlags),
		minConsoleLevel: INFO,
		minFileLevel:    OFF,
	}
}

// NewLogger создаёт логгер компонента с файлом logs/<component>_<timestamp>.log
func NewLogger(component string) (*Logger, error) {
	if err := os.MkdirAll(LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", LogDir, err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(LogDir, fmt.Sprintf("%s_%s.log", component, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	return &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		fileLogger:      log.New(file, "", log.LstdFlags),
		file:            file,
		minConsoleLevel: INFO,
		minFileLevel:    DEBUG,
	}, nil
}

// NewWriterLogger создаёт логгер без файла, пишущий в w
func NewWriterLogger(component string, w io.Writer, level LogLevel) *Logger {
	l := newConsoleLogger(component, w)
	l.minConsoleLevel = level
	return l
}

// NewNopLogger возвращает логгер, который ничего не пишет (для тестов)
func NewNopLogger() *Logger {
	l := newConsoleLogger("nop", io.Discard)
	l.minConsoleLevel = OFF
	return l
}

// Component возвращает имя компонента
func (l *Logger) Component() string {
	return l.component
}

// SetLevel меняет минимальные уровни консоли и файла
func (l *Logger) SetLevel(console, file LogLevel) {
	l.mu.Lock()
	l.minConsoleLevel = console
	l.minFileLevel = file
	l.mu.Unlock()
}

// Close закрывает файл логов, если он открыт
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	toConsole := l.consoleLogger != nil && level >= l.minConsoleLevel && l.minConsoleLevel != OFF
	toFile := l.fileLogger != nil && level >= l.minFileLevel && l.minFileLevel != OFF
	if !toConsole && !toFile {
		return
	}

	message := fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, fmt.Sprintf(format, args...))
	if toFile {
		l.fileLogger.Println(message)
	}
	if toConsole {
		l.consoleLogger.Println(message)
	}
}

func (l *Logger) Trace(format string, args ...interface{}) { l.logf(TRACE, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.logf(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.logf(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.logf(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.logf(ERROR, format, args...) }

// InitDefaultLogger заменяет глобальный логгер файловым логгером компонента
func InitDefaultLogger(component string) error {
	logger, err := NewLogger(component)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	defaultLogger = logger
	defaultMu.Unlock()
	return nil
}

// SetDefaultLogger устанавливает глобальный логгер
func SetDefaultLogger(l *Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// SetDefaultLevel меняет уровни глобального логгера
func SetDefaultLevel(console, file LogLevel) {
	current().SetLevel(console, file)
}

// CloseDefaultLogger закрывает глобальный логгер
func CloseDefaultLogger() {
	_ = current().Close()
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Trace логирует сообщение уровня TRACE через глобальный логгер
func Trace(format string, args ...interface{}) { current().logf(TRACE, format, args...) }

// Debug логирует сообщение уровня DEBUG через глобальный логгер
func Debug(format string, args ...interface{}) { current().logf(DEBUG, format, args...) }

// Info логирует сообщение уровня INFO через глобальный логгер
func Info(format string, args ...interface{}) { current().logf(INFO, format, args...) }

// Warn логирует сообщение уровня WARN через глобальный логгер
func Warn(format string, args ...interface{}) { current().logf(WARN, format, args...) }

// Error логирует сообщение уровня ERROR через глобальный логгер
func Error(format string, args ...interface{}) { current().logf(ERROR, format, args...) }

// HexDump создает hex дамп данных (не более 256 байт)
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}
	size := len(data)
	if size > 256 {
		size = 256
	}
	return hex.Dump(data[:size])
}

// LogProtocolError логирует ошибку разбора входящего сообщения
func LogProtocolError(source string, err error, data []byte) {
	Warn("Ошибка протокола от %s: %v", source, err)
	if len(data) > 0 {
		Debug("Сырые данные (%d байт):\n%s", len(data), HexDump(data))
	}
}
