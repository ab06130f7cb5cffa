package pipeline

import (
	"fmt"
	"regexp"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"routecodex-go/internal/config"
)

// workflowStage is stage 2: rule-based request shaping on the hub-dialect
// body. Rules are compiled once at assembly; an uncompilable rule fails
// the whole pipeline construction.
type workflowStage struct {
	stripNonFinalToolCalls bool
	injectClockScope       bool
	rules                  []compiledRule
	now                    func() time.Time
}

type compiledRule struct {
	name    string
	path    string
	re      *regexp.Regexp
	replace string
}

func newWorkflowStage(cfg config.WorkflowConfig) (*workflowStage, error) {
	st := &workflowStage{
		stripNonFinalToolCalls: cfg.StripNonFinalToolCalls,
		injectClockScope:       cfg.InjectClockScope,
		now:                    time.Now,
	}
	for _, r := range cfg.Rules {
		if r.Path == "" || r.Pattern == "" {
			return nil, fmt.Errorf("rule %q: path and pattern are required", r.Name)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		st.rules = append(st.rules, compiledRule{name: r.Name, path: r.Path, re: re, replace: r.Replace})
	}
	return st, nil
}

func (s *workflowStage) apply(body []byte) []byte {
	if s.stripNonFinalToolCalls {
		body = stripNonFinalToolCalls(body)
	}
	if s.injectClockScope {
		body = injectClockScope(body, s.now().UTC())
	}
	for _, r := range s.rules {
		body = r.apply(body)
	}
	return body
}

func (r compiledRule) apply(body []byte) []byte {
	v := gjson.GetBytes(body, r.path)
	if !v.Exists() || v.Type != gjson.String {
		return body
	}
	rewritten := r.re.ReplaceAllString(v.String(), r.replace)
	if rewritten == v.String() {
		return body
	}
	out, err := sjson.SetBytes(body, r.path, rewritten)
	if err != nil {
		return body
	}
	return out
}

// stripNonFinalToolCalls removes tool_calls from every assistant message
// except the last one, then drops tool-result messages orphaned by the
// removal. Some upstreams reject histories where earlier assistant turns
// still carry tool invocations.
func stripNonFinalToolCalls(body []byte) []byte {
	msgs := gjson.GetBytes(body, "messages").Array()
	if len(msgs) == 0 {
		return body
	}

	lastAssistant := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Get("role").String() == "assistant" {
			lastAssistant = i
			break
		}
	}

	changed := false
	keptCallIDs := map[string]bool{}
	rebuilt := make([]interface{}, 0, len(msgs))
	for i, m := range msgs {
		role := m.Get("role").String()
		if role == "assistant" && i != lastAssistant && m.Get("tool_calls").Exists() {
			raw, err := sjson.Delete(m.Raw, "tool_calls")
			if err == nil {
				// Keep the turn only if it still says something.
				if gjson.Get(raw, "content").String() != "" {
					rebuilt = append(rebuilt, gjson.Parse(raw).Value())
				}
				changed = true
				continue
			}
		}
		if role == "assistant" {
			for _, call := range m.Get("tool_calls").Array() {
				keptCallIDs[call.Get("id").String()] = true
			}
		}
		if role == "tool" {
			if id := m.Get("tool_call_id").String(); id != "" && !keptCallIDs[id] {
				changed = true
				continue
			}
		}
		rebuilt = append(rebuilt, m.Value())
	}
	if !changed {
		return body
	}
	out, err := sjson.SetBytes(body, "messages", rebuilt)
	if err != nil {
		return body
	}
	return out
}

// injectClockScope appends the wall-clock to the system message so models
// with stale training cutoffs answer date questions correctly.
func injectClockScope(body []byte, now time.Time) []byte {
	line := "Current time: " + now.Format(time.RFC3339)
	msgs := gjson.GetBytes(body, "messages")
	for i, m := range msgs.Array() {
		if m.Get("role").String() == "system" {
			content := m.Get("content")
			if content.Type != gjson.String {
				return body
			}
			out, err := sjson.SetBytes(body, fmt.Sprintf("messages.%d.content", i), content.String()+"\n\n"+line)
			if err != nil {
				return body
			}
			return out
		}
	}
	rebuilt := []interface{}{map[string]interface{}{"role": "system", "content": line}}
	for _, m := range msgs.Array() {
		rebuilt = append(rebuilt, m.Value())
	}
	out, err := sjson.SetBytes(body, "messages", rebuilt)
	if err != nil {
		return body
	}
	return out
}
