package output

import (
	"encoding/json"

	"github.com/relaycall/relaycall/internal/core"
	"github.com/relaycall/relaycall/internal/core/limiter"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatResult renders a call result as JSON.
func (f *JSONFormatter) FormatResult(result *core.CallResult) (string, error) {
	if result == nil {
		return "", nil
	}
	return f.marshal(result)
}

// FormatEndpoints renders the endpoint table as JSON.
func (f *JSONFormatter) FormatEndpoints(configs []core.EndpointConfig, statuses []limiter.Status) (string, error) {
	byName := make(map[string]limiter.Status, len(statuses))
	for _, status := range statuses {
		byName[status.Endpoint] = status
	}

	type entry struct {
		core.EndpointConfig
		Limiter *limiter.Status `json:"limiter,omitempty"`
	}

	entries := make([]entry, 0, len(configs))
	for _, cfg := range configs {
		e := entry{EndpointConfig: cfg}
		if status, ok := byName[cfg.Name]; ok {
			status := status
			e.Limiter = &status
		}
		entries = append(entries, e)
	}

	return f.marshal(entries)
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
