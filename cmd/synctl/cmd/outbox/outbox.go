package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"possync/cmd/synctl/cmd/view"
	"possync/internal/app/client"
)

var (
	recordData     string
	recordDataFile string
	recordPriority int
	recordBaseRev  int64

	outboxState string
	outboxLimit int
)

// RecordCmd записывает изменение в локальный outbox без обращения к серверу.
var RecordCmd = &cobra.Command{
	Use:   "record <entity_type> <entity_id> <create|update|delete>",
	Short: "Записать изменение в локальный outbox",
	Long: `Записывает изменение сущности в локальный outbox. Сеть не нужна:
изменение уйдет на сервер при следующем push.

Данные передаются JSON-объектом через --data, --data-file или stdin (--data -).
Если --base-revision не указан, берется ревизия из локального кэша после pull.`,
	Example: `  synctl record product p-100 update --data '{"price":"35.00"}'
  synctl record sale s-1 create --data-file sale.json --priority 9
  synctl record customer c-7 delete`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := client.FromContext(cmd.Context())
		if !ok {
			return errors.New("client is not initialized")
		}

		data, err := readData(cmd.InOrStdin())
		if err != nil {
			return err
		}

		in := client.RecordInput{
			EntityType: args[0],
			EntityID:   args[1],
			Action:     args[2],
			Data:       data,
		}
		if cmd.Flags().Changed("priority") {
			in.Priority = &recordPriority
		}
		if cmd.Flags().Changed("base-revision") {
			in.BaseRevision = &recordBaseRev
		}

		change, err := app.Record(cmd.Context(), in)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if view.JSONMode() {
			return view.JSON(out, change)
		}
		view.OK(out, "Изменение %s записано в outbox", change.ID)
		if change.BaseRevision != nil {
			fmt.Fprintf(out, "Базовая ревизия: %d\n", *change.BaseRevision)
		}
		return nil
	},
}

// OutboxCmd показывает локальный outbox.
var OutboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Показать локальный outbox",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, ok := client.FromContext(cmd.Context())
		if !ok {
			return errors.New("client is not initialized")
		}

		state := client.OutboxState(outboxState)
		switch state {
		case "", client.OutboxPending, client.OutboxSent, client.OutboxRejected:
		default:
			return fmt.Errorf("unknown outbox state %q", outboxState)
		}

		changes, err := app.Outbox(cmd.Context(), state, outboxLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if view.JSONMode() {
			return view.JSON(out, changes)
		}
		if len(changes) == 0 {
			fmt.Fprintln(out, "Outbox пуст")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tENTITY\tACTION\tSTATE\tOUTCOME\tRECORDED\tERROR")
		for _, c := range changes {
			fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%s\t%s\t%s\n",
				c.ID, c.EntityType, c.EntityID, c.Action, c.State, c.Outcome, view.Time(c.CreatedAt), c.Error)
		}
		return tw.Flush()
	},
}

func readData(stdin io.Reader) (json.RawMessage, error) {
	var raw []byte
	switch {
	case recordDataFile != "":
		b, err := os.ReadFile(recordDataFile)
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		raw = b
	case recordData == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = b
	default:
		raw = []byte(recordData)
	}

	if strings.TrimSpace(string(raw)) == "" {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

func init() {
	RecordCmd.Flags().StringVarP(&recordData, "data", "d", "", "данные изменения (JSON-объект, - для stdin)")
	RecordCmd.Flags().StringVar(&recordDataFile, "data-file", "", "файл с данными изменения")
	RecordCmd.Flags().IntVarP(&recordPriority, "priority", "p", 5, "приоритет 1..10")
	RecordCmd.Flags().Int64Var(&recordBaseRev, "base-revision", 0, "ревизия сущности, от которой построено изменение")
	RecordCmd.MarkFlagsMutuallyExclusive("data", "data-file")

	OutboxCmd.Flags().StringVar(&outboxState, "state", "", "фильтр: pending, sent или rejected")
	OutboxCmd.Flags().IntVar(&outboxLimit, "limit", 50, "сколько изменений показать")
}
