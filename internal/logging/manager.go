package logging

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// LoggerManager управляет логгерами разных компонентов
type LoggerManager struct {
	mu       sync.RWMutex
	loggers  map[string]*Logger
	useFiles bool

	// уровни для вновь создаваемых логгеров, если заданы
	levelsSet    bool
	consoleLevel LogLevel
	fileLevel    LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{
			loggers: make(map[string]*Logger),
		}
	})
	return globalManager
}

// EnableFiles включает файловые логи для вновь создаваемых логгеров
func (lm *LoggerManager) EnableFiles(enabled bool) {
	lm.mu.Lock()
	lm.useFiles = enabled
	lm.mu.Unlock()
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	// Проверяем еще раз на случай race condition
	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	var logger *Logger
	if lm.useFiles {
		var err error
		logger, err = NewLogger(component)
		if err != nil {
			return nil, fmt.Errorf("не удалось создать логгер %s: %w", component, err)
		}
	} else {
		logger = newConsoleLogger(component, os.Stdout)
	}
	if lm.levelsSet {
		logger.SetLevel(lm.consoleLevel, lm.fileLevel)
	}

	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или консольный fallback при ошибке
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		Warn("Логгер %s работает без файла: %v", component, err)
		fallback := newConsoleLogger(component, os.Stdout)
		lm.mu.Lock()
		lm.loggers[component] = fallback
		lm.mu.Unlock()
		return fallback
	}
	return logger
}

// CloseAll закрывает все логгеры
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("не удалось закрыть логгер %s: %w", component, err)
		}
	}

	lm.loggers = make(map[string]*Logger)
	return lastErr
}

// ListComponents возвращает отсортированный список компонентов
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	components := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		components = append(components, component)
	}
	sort.Strings(components)
	return components
}

// SetLogLevel устанавливает уровень логирования для компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("логгер компонента %s не найден", component)
	}

	logger.SetLevel(consoleLevel, fileLevel)
	return nil
}

// SetAllLevels меняет уровни всех логгеров, включая будущие
func (lm *LoggerManager) SetAllLevels(consoleLevel, fileLevel LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.levelsSet = true
	lm.consoleLevel, lm.fileLevel = consoleLevel, fileLevel
	for _, logger := range lm.loggers {
		logger.SetLevel(consoleLevel, fileLevel)
	}
}

// Удобные функции для получения логгеров
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetNetworkLogger() *Logger {
	return GetComponentLogger("network")
}

func GetServerLogger() *Logger {
	return GetComponentLogger("server")
}

func GetClientLogger() *Logger {
	return GetComponentLogger("client")
}

func GetPeerLogger() *Logger {
	return GetComponentLogger("peer")
}

func GetReplayLogger() *Logger {
	return GetComponentLogger("replay")
}

func GetEngineLogger() *Logger {
	return GetComponentLogger("engine")
}
