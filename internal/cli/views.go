package cli

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/invsync/internal/model"
	"github.com/roach88/invsync/internal/queue"
	"github.com/roach88/invsync/internal/service"
	"github.com/roach88/invsync/internal/syncer"
)

// table renders rows through tabwriter, under header unless it is empty.
func table(header string, rows [][]string) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	if header != "" {
		fmt.Fprintln(w, header)
	}
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

type mutationView struct {
	message  string
	Result   any      `json:"result,omitempty"`
	Queued   bool     `json:"queued"`
	QueueID  int64    `json:"queue_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func newMutationView(message string, result any, out service.Outcome) mutationView {
	return mutationView{
		message:  message,
		Result:   result,
		Queued:   out.Queued,
		QueueID:  out.QueueID,
		Warnings: out.Warnings,
	}
}

func (v mutationView) String() string {
	var b strings.Builder
	b.WriteString(v.message)
	if v.Queued {
		fmt.Fprintf(&b, " (queued for sync as #%d)", v.QueueID)
	}
	for _, w := range v.Warnings {
		fmt.Fprintf(&b, "\nwarning: %s", w)
	}
	return b.String()
}

type productRow struct {
	model.Product
	Remaining int64 `json:"remaining"`
}

type productsView []productRow

func (v productsView) String() string {
	rows := make([][]string, len(v))
	for i, p := range v {
		rows[i] = []string{p.ID, p.Name, p.Price.StringFixed(2), fmt.Sprint(p.Stock), fmt.Sprint(p.Remaining)}
	}
	return table("ID\tNAME\tPRICE\tSTOCK\tREMAINING", rows)
}

type invoicesView []service.InvoiceDetail

func (v invoicesView) String() string {
	rows := make([][]string, len(v))
	for i, d := range v {
		rows[i] = []string{
			d.Invoice.ID,
			d.Invoice.CustomerName,
			formatTime(d.Invoice.CreatedAt),
			fmt.Sprint(len(d.Items)),
			d.Total.StringFixed(2),
		}
	}
	return table("ID\tCUSTOMER\tCREATED\tITEMS\tTOTAL", rows)
}

type queueView []queue.Item

func (v queueView) String() string {
	rows := make([][]string, len(v))
	for i, it := range v {
		rows[i] = []string{fmt.Sprint(it.ID), string(it.Kind), fmt.Sprint(it.RetryCount), formatTime(it.Timestamp)}
	}
	return table("ID\tKIND\tRETRIES\tENQUEUED", rows)
}

type deadLettersView []queue.DeadLetter

func (v deadLettersView) String() string {
	rows := make([][]string, len(v))
	for i, d := range v {
		rows[i] = []string{fmt.Sprint(d.ID), string(d.Kind), fmt.Sprint(d.Attempts), formatTime(d.FailedAt), d.LastError}
	}
	return table("ID\tKIND\tATTEMPTS\tFAILED\tLAST ERROR", rows)
}

type queueStatusView queue.Status

func (v queueStatusView) String() string {
	return fmt.Sprintf("total %d, pending %d, retrying %d, failed %d", v.Total, v.Pending, v.Retrying, v.Failed)
}

type statusView struct {
	Sync  syncer.Status   `json:"sync"`
	Queue queueStatusView `json:"queue"`
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (v statusView) String() string {
	lastErr := v.Sync.LastError
	if lastErr == "" {
		lastErr = "-"
	}
	return table("", [][]string{
		{"Online:", yesNo(v.Sync.IsOnline)},
		{"Syncing:", yesNo(v.Sync.IsSyncing)},
		{"Pending:", fmt.Sprint(v.Sync.PendingCount)},
		{"Last sync:", formatTime(v.Sync.LastSync)},
		{"Last error:", lastErr},
		{"Queue:", v.Queue.String()},
	})
}

type drainView syncer.DrainReport

func (v drainView) String() string {
	if v.Skipped {
		return "Sync already in progress"
	}
	return fmt.Sprintf("Synced %d of %d (failed %d, quarantined %d)", v.Succeeded, v.Attempted, v.Failed, v.Quarantined)
}

type stockRow struct {
	ProductID string `json:"product_id"`
	Remaining int64  `json:"remaining"`
}

type stockView []stockRow

func newStockView(m map[string]int64) stockView {
	v := make(stockView, 0, len(m))
	for id, n := range m {
		v = append(v, stockRow{ProductID: id, Remaining: n})
	}
	sort.Slice(v, func(i, j int) bool { return v[i].ProductID < v[j].ProductID })
	return v
}

func (v stockView) String() string {
	rows := make([][]string, len(v))
	for i, r := range v {
		rows[i] = []string{r.ProductID, fmt.Sprint(r.Remaining)}
	}
	return table("PRODUCT\tREMAINING", rows)
}
