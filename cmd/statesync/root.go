package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/annel0/statesync/internal/config"
	"github.com/annel0/statesync/internal/logging"
)

// rootOptions общие флаги всех подкоманд
type rootOptions struct {
	ConfigPath string
	LogLevel   string

	cfg   *config.Config
	level logging.LogLevel
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "statesync",
		Short: "Синхронизация авторитетного состояния в реальном времени",
		Long: `statesync запускает авторитетный сервер, клиентов, точку встречи
и пиров, а также работает с сохранёнными записями.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.GetLoggerManager().CloseAll()
			logging.CloseDefaultLogger()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "путь к YAML конфигурации (или STATESYNC_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "уровень логирования: trace|debug|info|warn|error")

	cmd.AddCommand(newServerCommand(opts))
	cmd.AddCommand(newClientCommand(opts))
	cmd.AddCommand(newRendezvousCommand(opts))
	cmd.AddCommand(newPeerCommand(opts))
	cmd.AddCommand(newRecordingsCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))
	cmd.AddCommand(newAdminCommand())
	return cmd
}

// init загружает конфигурацию и настраивает логирование
func (o *rootOptions) init() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	o.cfg = cfg

	levelName := cfg.Log.Level
	if o.LogLevel != "" {
		levelName = o.LogLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	o.level = level

	lm := logging.GetLoggerManager()
	lm.EnableFiles(cfg.Log.Files)
	if cfg.Log.Files {
		if err := logging.InitDefaultLogger("statesync"); err != nil {
			return fmt.Errorf("ошибка инициализации логирования: %w", err)
		}
	}
	logging.SetDefaultLevel(level, level)
	lm.SetAllLevels(level, level)
	return nil
}

// quietConsole переводит логи в файлы, пока терминал занят отрисовкой.
// Вызывать до создания компонентов.
func (o *rootOptions) quietConsole() error {
	lm := logging.GetLoggerManager()
	lm.EnableFiles(true)
	if !o.cfg.Log.Files {
		if err := logging.InitDefaultLogger("statesync"); err != nil {
			return fmt.Errorf("ошибка инициализации логирования: %w", err)
		}
	}
	logging.SetDefaultLevel(logging.OFF, o.level)
	lm.SetAllLevels(logging.OFF, o.level)
	return nil
}

// signalContext отменяется по SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
