package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FunctionCall is one call requested by the database manager model.
type FunctionCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// String renders the call as name(k=v, ...) with sorted keys.
func (c FunctionCall) String() string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c.Params[k]))
	}
	return fmt.Sprintf("%s(%s)", c.Name, strings.Join(parts, ", "))
}

// CallResult is one executed call as returned by the database manager.
type CallResult struct {
	CallID string       `json:"call_id"`
	Call   FunctionCall `json:"call"`
	Domain string       `json:"domain"`
	Result string       `json:"result"`
}

// FunctionCallRecord is the audit entry kept in the session's function-call log.
type FunctionCallRecord struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
	Domain string         `json:"domain"`
	Result string         `json:"result"`
}

// Record converts a CallResult into its audit form.
func (r CallResult) Record() FunctionCallRecord {
	return FunctionCallRecord{
		ID:     r.CallID,
		Name:   r.Call.Name,
		Params: r.Call.Params,
		Domain: r.Domain,
		Result: r.Result,
	}
}

// HistoryJSON renders prior calls (without results) for the database manager prompt.
func HistoryJSON(records []FunctionCallRecord) string {
	if len(records) == 0 {
		return "[]"
	}
	calls := make([]FunctionCall, 0, len(records))
	for _, r := range records {
		calls = append(calls, FunctionCall{Name: r.Name, Params: r.Params})
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return "[]"
	}
	return string(b)
}
