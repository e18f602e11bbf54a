package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/aide/internal/llm"
	"github.com/nextlevelbuilder/aide/internal/store"
)

// check runs one job's check_config. The bool is the check outcome; the
// string carries failure detail for logs.
func (w *Worker) check(ctx context.Context, j *store.ScheduledJob) (bool, string) {
	switch j.JobType {
	case store.JobDelay:
		return w.checkDelay(j)
	case store.JobPollURL:
		return w.checkPollURL(ctx, j)
	case store.JobPollModule:
		return w.checkPollModule(ctx, j)
	default:
		return false, fmt.Sprintf("unknown job type %q", j.JobType)
	}
}

// checkDelay succeeds once the job has been attempted the configured
// number of times; a fixed wait expressed in ticks.
func (w *Worker) checkDelay(j *store.ScheduledJob) (bool, string) {
	need := configInt(j.CheckConfig, "attempts", 1)
	if j.Attempts >= need {
		return true, ""
	}
	return false, fmt.Sprintf("delay %d/%d", j.Attempts, need)
}

// checkPollURL succeeds on a 2xx response whose body contains the
// optional "contains" substring.
func (w *Worker) checkPollURL(ctx context.Context, j *store.ScheduledJob) (bool, string) {
	url, _ := j.CheckConfig["url"].(string)
	if url == "" {
		return false, "poll_url: missing url"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Sprintf("poll_url: build request: %v", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("poll_url: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Sprintf("poll_url: read body: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Sprintf("poll_url: status %d", resp.StatusCode)
	}
	if want, _ := j.CheckConfig["contains"].(string); want != "" && !strings.Contains(string(body), want) {
		return false, "poll_url: body predicate not satisfied"
	}
	return true, ""
}

// checkPollModule dispatches a tool call and evaluates the optional
// predicate over its result.
func (w *Worker) checkPollModule(ctx context.Context, j *store.ScheduledJob) (bool, string) {
	toolName, _ := j.CheckConfig["tool_name"].(string)
	if toolName == "" {
		return false, "poll_module: missing tool_name"
	}
	args, _ := j.CheckConfig["arguments"].(map[string]any)

	userID := j.UserID
	res := w.exec.Execute(ctx, llm.ToolCall{
		ToolName:  toolName,
		Arguments: args,
		ToolUseID: "job-" + j.ID.String(),
	}, &userID)
	if !res.Success {
		return false, fmt.Sprintf("poll_module: %s", res.Error)
	}
	return evalResultPredicate(j.CheckConfig, res.Result)
}

// evalResultPredicate checks the optional "contains" substring and
// "field"/"equals" comparison against the tool result. No predicate means
// tool success is enough.
func evalResultPredicate(cfg map[string]any, result any) (bool, string) {
	if want, _ := cfg["contains"].(string); want != "" {
		raw, err := json.Marshal(result)
		if err != nil || !strings.Contains(string(raw), want) {
			return false, "poll_module: result predicate not satisfied"
		}
	}
	if field, _ := cfg["field"].(string); field != "" {
		obj, ok := result.(map[string]any)
		if !ok {
			return false, "poll_module: result is not an object"
		}
		got := fmt.Sprint(obj[field])
		want := fmt.Sprint(cfg["equals"])
		if got != want {
			return false, fmt.Sprintf("poll_module: %s=%q, want %q", field, got, want)
		}
	}
	return true, ""
}

func configInt(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return fallback
}
