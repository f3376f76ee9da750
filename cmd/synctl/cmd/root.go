package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"possync/cmd/synctl/cmd/outbox"
	"possync/cmd/synctl/cmd/sync"
	"possync/cmd/synctl/cmd/view"
	"possync/internal/app/client"
	"possync/internal/app/client/config"
	"possync/internal/utils/logger"
)

var (
	cfgFile    string
	serverAddr string
	shopID     int64
	userID     int64
	deviceID   string
	jsonOutput bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "synctl",
	Short: "synctl - клиент офлайн-синхронизации кассы",
	Long: `synctl записывает изменения кассы в локальный outbox, пока нет связи,
и обменивается ими с сервером синхронизации магазина.

Конфигурация читается из ~/.synctl/config.yaml и переменных SYNCTL_*,
флаги командной строки имеют приоритет.`,
	PersistentPreRunE:  setupApp,
	PersistentPostRunE: closeApp,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		view.Error(os.Stderr, err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if serverAddr != "" {
		cfg.ServerAddress = serverAddr
	}
	if shopID != 0 {
		cfg.ShopID = shopID
	}
	if userID != 0 {
		cfg.UserID = userID
	}
	if deviceID != "" {
		cfg.DeviceID = deviceID
	}

	view.Setup(jsonOutput, noColor)

	log := logger.New(cfg.Env)

	app, err := client.New(cfg, log)
	if err != nil {
		return fmt.Errorf("init client: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(client.WithApp(ctx, app))
	return nil
}

func closeApp(cmd *cobra.Command, _ []string) error {
	if app, ok := client.FromContext(cmd.Context()); ok {
		return app.Close()
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "адрес сервера синхронизации")
	rootCmd.PersistentFlags().Int64Var(&shopID, "shop", 0, "ID магазина")
	rootCmd.PersistentFlags().Int64Var(&userID, "user", 0, "ID пользователя")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device", "", "ID устройства (по умолчанию имя хоста)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "вывод в формате JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "отключить цветной вывод")

	rootCmd.AddCommand(outbox.RecordCmd, outbox.OutboxCmd)
	rootCmd.AddCommand(
		sync.PushCmd,
		sync.PullCmd,
		sync.SyncCmd,
		sync.StatusCmd,
		sync.PendingCmd,
		sync.ConflictsCmd,
		sync.ResolveCmd,
		sync.HistoryCmd,
		sync.DevicesCmd,
	)
}
