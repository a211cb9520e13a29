package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/core/limiter"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatResult renders a call result as a two-column table.
func (f *TableFormatter) FormatResult(result *core.CallResult) (string, error) {
	if result == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Field", "Value"})

	t.AppendRow(table.Row{"Call ID", result.Provenance.CallID})
	t.AppendRow(table.Row{"Endpoint", result.Provenance.Endpoint})
	t.AppendRow(table.Row{"Outcome", result.Outcome.String()})
	if result.StatusCode != 0 {
		t.AppendRow(table.Row{"Status", result.StatusCode})
	}
	t.AppendRow(table.Row{"Attempts", result.Attempts})
	t.AppendRow(table.Row{"Elapsed", result.Elapsed.Round(time.Millisecond)})
	if result.Reason != "" {
		t.AppendRow(table.Row{"Reason", result.Reason})
	}

	rendered := t.Render()
	if len(result.Payload) > 0 {
		rendered += "\n" + string(result.Payload)
	}
	return rendered, nil
}

// FormatEndpoints renders the endpoint table with limiter state.
func (f *TableFormatter) FormatEndpoints(configs []core.EndpointConfig, statuses []limiter.Status) (string, error) {
	byName := make(map[string]limiter.Status, len(statuses))
	for _, status := range statuses {
		byName[status.Endpoint] = status
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Endpoint", "Protocol", "Rate/s", "Concurrency", "Attempts", "Idempotent", "State"})

	for _, cfg := range configs {
		state := "-"
		concurrency := fmt.Sprintf("0/%d", cfg.MaxConcurrency)
		if status, ok := byName[cfg.Name]; ok {
			concurrency = fmt.Sprintf("%d/%d", status.InFlight, status.MaxConcurrency)
			if status.CoolingDown {
				state = "cooling down until " + status.CooldownUntil.Format(time.RFC3339)
			} else {
				state = "ready"
			}
		}

		t.AppendRow(table.Row{
			cfg.Name,
			string(cfg.Protocol),
			strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", cfg.RatePerSecond), "0"), "."),
			concurrency,
			cfg.MaxAttempts,
			cfg.Idempotent,
			state,
		})
	}

	return t.Render(), nil
}
