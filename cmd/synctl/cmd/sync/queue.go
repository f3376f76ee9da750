package sync

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"possync/cmd/synctl/cmd/view"
	"possync/internal/app/client"
	domain "possync/internal/domain/sync"
)

var (
	listLimit     int
	listOffset    int
	historyStatus string
	resolveData   string
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние синхронизации магазина и устройства",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		local, err := app.LocalStatus(ctx)
		if err != nil {
			return err
		}
		server, serverErr := app.ServerStatus(ctx)

		if view.JSONMode() {
			return view.JSON(out, struct {
				Local  *client.LocalStatus  `json:"local"`
				Server *domain.StatusResult `json:"server,omitempty"`
			}{local, server})
		}

		cfg := app.Config()
		view.Title(out, "Устройство %s, магазин %d", cfg.DeviceID, cfg.ShopID)
		fmt.Fprintf(out, "  outbox: %d ожидают, %d отправлено, %d отклонено\n",
			local.Outbox[client.OutboxPending], local.Outbox[client.OutboxSent], local.Outbox[client.OutboxRejected])
		fmt.Fprintf(out, "  сущностей в кэше: %d\n", local.Entities)
		fmt.Fprintf(out, "  контрольная точка: %s\n", view.TimePtr(local.Checkpoint))

		view.Title(out, "Сервер %s", cfg.BaseURL())
		if serverErr != nil {
			view.Warn(out, "  недоступен: %v", serverErr)
			return nil
		}
		fmt.Fprintf(out, "  ожидают применения: %d\n", server.Pending)
		fmt.Fprintf(out, "  конфликтов: %d\n", server.Conflicts)
		fmt.Fprintf(out, "  ошибок: %d\n", server.Failed)
		fmt.Fprintf(out, "  последнее применение: %s\n", view.TimePtr(server.LastSyncAt))
		if server.HasIssues {
			view.Warn(out, "  требуется внимание оператора")
		} else {
			view.OK(out, "  проблем нет")
		}
		return nil
	},
}

var PendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Изменения магазина, ожидающие применения",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}
		items, err := app.Pending(cmd.Context(), listLimit)
		if err != nil {
			return err
		}
		return view.Items(cmd.OutOrStdout(), items)
	},
}

var ConflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Неразрешенные конфликты магазина",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}
		items, err := app.Conflicts(cmd.Context(), client.Page{Limit: listLimit, Offset: listOffset})
		if err != nil {
			return err
		}
		return view.Items(cmd.OutOrStdout(), items)
	},
}

var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Журнал изменений магазина",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}

		var status domain.Status
		if historyStatus != "" {
			if status, err = domain.ParseStatus(historyStatus); err != nil {
				return err
			}
		}

		items, err := app.History(cmd.Context(), status, client.Page{Limit: listLimit, Offset: listOffset})
		if err != nil {
			return err
		}
		return view.Items(cmd.OutOrStdout(), items)
	},
}

var ResolveCmd = &cobra.Command{
	Use:   "resolve <item_id> <client_wins|server_wins|merge|manual>",
	Short: "Разрешить конфликт",
	Long: `Разрешает конфликт элемента очереди.

  client_wins  применить данные устройства поверх серверной версии
  server_wins  оставить серверную версию
  merge        применить итоговые данные из --data
  manual       закрыть конфликт, ничего не меняя`,
	Example: `  synctl resolve 0b6f... merge --data '{"price":"38.00"}'`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid item id: %w", err)
		}
		resolution, err := domain.ParseResolution(args[1])
		if err != nil {
			return err
		}

		var data json.RawMessage
		if resolveData != "" {
			data = json.RawMessage(resolveData)
		}

		item, err := app.Resolve(cmd.Context(), id, resolution, data)
		if err != nil {
			return err
		}
		return view.Item(cmd.OutOrStdout(), item)
	},
}

var DevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Устройства магазина",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}
		devices, err := app.Devices(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if view.JSONMode() {
			return view.JSON(out, devices)
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DEVICE\tUSER\tLAST PUSH\tLAST PULL")
		for _, d := range devices {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", d.DeviceID, d.UserID, view.TimePtr(d.LastPushAt), view.TimePtr(d.LastPullAt))
		}
		return tw.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{PendingCmd, ConflictsCmd, HistoryCmd} {
		c.Flags().IntVar(&listLimit, "limit", 50, "сколько элементов показать")
	}
	for _, c := range []*cobra.Command{ConflictsCmd, HistoryCmd} {
		c.Flags().IntVar(&listOffset, "offset", 0, "сколько элементов пропустить")
	}
	HistoryCmd.Flags().StringVar(&historyStatus, "status", "", "фильтр по статусу")
	ResolveCmd.Flags().StringVarP(&resolveData, "data", "d", "", "итоговые данные для merge (JSON-объект)")
}
