package sync

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"possync/cmd/synctl/cmd/view"
	"possync/internal/app/client"
	domain "possync/internal/domain/sync"
)

var (
	pullTypes    []string
	syncInterval time.Duration
)

func appFrom(cmd *cobra.Command) (*client.App, error) {
	app, ok := client.FromContext(cmd.Context())
	if !ok {
		return nil, errors.New("client is not initialized")
	}
	return app, nil
}

var PushCmd = &cobra.Command{
	Use:   "push",
	Short: "Отправить outbox на сервер",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}

		report, err := app.Push(cmd.Context())
		if report != nil && (err == nil || report.Sent > 0) {
			printPush(cmd.OutOrStdout(), report)
		}
		return err
	},
}

var PullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Получить изменения сервера в локальный кэш",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}

		types := make([]domain.EntityType, 0, len(pullTypes))
		for _, raw := range pullTypes {
			t, err := domain.ParseEntityType(raw)
			if err != nil {
				return err
			}
			types = append(types, t)
		}

		report, err := app.Pull(cmd.Context(), types)
		if err != nil {
			return err
		}
		printPull(cmd.OutOrStdout(), report)
		return nil
	},
}

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Выполнить push и pull",
	Long: `Отправляет outbox, затем забирает изменения сервера.

С флагом --interval повторяет обмен до Ctrl+C.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if syncInterval <= 0 {
			res, err := app.Sync(cmd.Context())
			if err != nil {
				return err
			}
			printSync(out, res)
			return nil
		}

		view.Title(out, "Синхронизация каждые %s, Ctrl+C для остановки", syncInterval)
		app.RunSyncLoop(cmd.Context(), syncInterval, func(res *client.SyncResult, err error) {
			if err != nil {
				view.Error(cmd.ErrOrStderr(), err)
				return
			}
			printSync(out, res)
		})
		return nil
	},
}

func printSync(w io.Writer, res *client.SyncResult) {
	if view.JSONMode() {
		_ = view.JSON(w, res)
		return
	}
	printPush(w, res.Push)
	printPull(w, res.Pull)
	fmt.Fprintf(w, "Длительность: %s\n", res.Duration.Round(time.Millisecond))
}

func printPush(w io.Writer, r *client.PushReport) {
	if view.JSONMode() {
		_ = view.JSON(w, r)
		return
	}
	if r.Sent == 0 {
		fmt.Fprintln(w, "Outbox пуст, отправлять нечего")
		return
	}

	view.OK(w, "Отправлено изменений: %d", r.Sent)
	fmt.Fprintf(w, "  в очереди: %d, повторы: %d\n", r.Enqueued, r.Duplicates)
	if r.Conflicts > 0 {
		view.Warn(w, "  конфликтов: %d (см. synctl conflicts)", r.Conflicts)
	}
	for _, c := range r.Rejected {
		view.Warn(w, "  отклонено %s/%s: %s", c.EntityType, c.EntityID, c.Error)
	}
}

func printPull(w io.Writer, r *client.PullReport) {
	if view.JSONMode() {
		_ = view.JSON(w, r)
		return
	}
	view.OK(w, "Получено изменений: %d (страниц: %d)", r.Entities, r.Pages)
	if r.Partial {
		view.Warn(w, "Выборочный pull: контрольная точка не сохранена")
		return
	}
	fmt.Fprintf(w, "Контрольная точка: %s\n", view.Time(r.Checkpoint))
}

func init() {
	PullCmd.Flags().StringSliceVarP(&pullTypes, "type", "t", nil, "ограничить типами сущностей")
	SyncCmd.Flags().DurationVar(&syncInterval, "interval", 0, "повторять обмен с интервалом")
}
