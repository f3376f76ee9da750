// Package view форматирует вывод synctl: таблицы для терминала или JSON.
package view

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"possync/internal/domain/sync"
)

var jsonMode bool

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed, color.Bold)
	titleColor = color.New(color.FgCyan, color.Bold)
)

// Setup выбирает формат вывода; цвета включаются только в терминале.
func Setup(asJSON, noColor bool) {
	jsonMode = asJSON
	color.NoColor = noColor || asJSON || !term.IsTerminal(int(os.Stdout.Fd()))
}

func JSONMode() bool {
	return jsonMode
}

func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func Title(w io.Writer, format string, args ...any) {
	titleColor.Fprintf(w, format+"\n", args...)
}

func OK(w io.Writer, format string, args ...any) {
	okColor.Fprintf(w, format+"\n", args...)
}

func Warn(w io.Writer, format string, args ...any) {
	warnColor.Fprintf(w, format+"\n", args...)
}

func Error(w io.Writer, err error) {
	errColor.Fprintf(w, "Ошибка: %v\n", err)
}

// StatusColor раскрашивает статус элемента очереди.
func StatusColor(s sync.Status) string {
	switch s {
	case sync.StatusCompleted:
		return okColor.Sprint(s)
	case sync.StatusConflict, sync.StatusProcessing:
		return warnColor.Sprint(s)
	case sync.StatusFailed:
		return errColor.Sprint(s)
	}
	return string(s)
}

// Items печатает элементы очереди таблицей.
func Items(w io.Writer, items []*sync.QueueItem) error {
	if jsonMode {
		return JSON(w, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "Элементы не найдены")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENTITY\tACTION\tDEVICE\tSTATUS\tATTEMPTS\tPRIORITY\tCLIENT TIME\tERROR")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			it.ID, it.EntityType, it.EntityID, it.Action, it.DeviceID, StatusColor(it.Status),
			it.Attempts, it.Priority, Time(it.ClientTimestamp), truncate(it.ErrorMessage, 60))
	}
	return tw.Flush()
}

// Item печатает один элемент очереди подробно.
func Item(w io.Writer, it *sync.QueueItem) error {
	if jsonMode {
		return JSON(w, it)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", it.ID)
	fmt.Fprintf(tw, "Сущность:\t%s/%s\n", it.EntityType, it.EntityID)
	fmt.Fprintf(tw, "Действие:\t%s\n", it.Action)
	fmt.Fprintf(tw, "Статус:\t%s\n", StatusColor(it.Status))
	fmt.Fprintf(tw, "Попыток:\t%d\n", it.Attempts)
	switch {
	case it.Status.Terminal():
		fmt.Fprintf(tw, "Обработано:\t%s\n", TimePtr(it.ProcessedAt))
	case it.Status == sync.StatusPending && it.Attempts > 0:
		fmt.Fprintf(tw, "Следующая попытка:\t%s\n", Time(it.NextAttemptAt))
	}
	if it.Resolution != nil {
		fmt.Fprintf(tw, "Разрешение:\t%s\n", *it.Resolution)
	}
	if it.ErrorMessage != "" {
		fmt.Fprintf(tw, "Ошибка:\t%s\n", it.ErrorMessage)
	}
	if len(it.Data) > 0 {
		fmt.Fprintf(tw, "Данные клиента:\t%s\n", it.Data)
	}
	if len(it.ConflictData) > 0 {
		fmt.Fprintf(tw, "Версия сервера:\t%s\n", it.ConflictData)
	}
	return tw.Flush()
}

func Time(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func TimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return Time(*t)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
