package router

import (
	"regexp"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"routecodex-go/internal/config"
	"routecodex-go/internal/pipeline"
)

// classifier walks the snapshot's ordered rule list and returns the
// first matching category. A request carrying an explicit category
// hint bypasses the rules when the hint names a declared pool. Rules
// whose category has no pool fall through to default rather than
// admission-failing a request the operator never meant to strand.
type classifier struct {
	est *Estimator

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

func newClassifier(est *Estimator) *classifier {
	return &classifier{est: est, patterns: make(map[string]*regexp.Regexp)}
}

func (c *classifier) classify(rc *config.RuntimeConfig, req *pipeline.Request) (string, bodyProbes) {
	probes := newBodyProbes(req.Body)

	// 显式 category 提示直接越过规则匹配
	hint := req.Category
	if hint == "" {
		hint = gjson.GetBytes(req.Body, "category").String()
	}
	if hint != "" && rc.HasCategory(hint) {
		return hint, probes
	}

	tokens := -1 // lazily computed, at most once per request
	for _, rule := range rc.Classify {
		if !c.matches(rule, req, probes, &tokens) {
			continue
		}
		if !rc.HasCategory(rule.Category) {
			continue
		}
		return rule.Category, probes
	}
	return config.CategoryDefault, probes
}

func (c *classifier) matches(rule config.ClassifyRule, req *pipeline.Request, probes bodyProbes, tokens *int) bool {
	if rule.Dialect != "" && string(rule.Dialect) != string(req.Dialect) {
		return false
	}
	if rule.ModelPattern != "" {
		re := c.pattern(rule.ModelPattern)
		if re == nil || !re.MatchString(req.Model) {
			return false
		}
	}
	if rule.ToolsPresent != nil && probes.toolsPresent != *rule.ToolsPresent {
		return false
	}
	if rule.HasVision != nil && probes.hasVision != *rule.HasVision {
		return false
	}
	if rule.Thinking != nil && probes.thinking != *rule.Thinking {
		return false
	}
	if rule.Background != nil && probes.background != *rule.Background {
		return false
	}
	if rule.WebSearch != nil && probes.webSearch != *rule.WebSearch {
		return false
	}
	if rule.MinTokens > 0 || rule.MaxTokens > 0 {
		if *tokens < 0 {
			*tokens = c.est.EstimateRequest(req.Model, req.Body)
		}
		if rule.MinTokens > 0 && *tokens < rule.MinTokens {
			return false
		}
		if rule.MaxTokens > 0 && *tokens > rule.MaxTokens {
			return false
		}
	}
	return true
}

// pattern compiles and caches a rule regex. Validation rejects broken
// patterns at resolve time; anything that still slips through skips
// the rule instead of failing the request.
func (c *classifier) pattern(expr string) *regexp.Regexp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.patterns[expr]; ok {
		return re
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		log.WithFields(log.Fields{"pattern": expr, "error": err.Error()}).Warn("classify rule pattern does not compile, rule skipped")
		re = nil
	}
	c.patterns[expr] = re
	return re
}

// bodyProbes holds the payload predicates every rule shares. Probed
// once per request across all three client dialects.
type bodyProbes struct {
	toolsPresent bool
	hasVision    bool
	thinking     bool
	background   bool
	webSearch    bool
}

func newBodyProbes(body []byte) bodyProbes {
	var p bodyProbes

	tools := gjson.GetBytes(body, "tools")
	tools.ForEach(func(_, t gjson.Result) bool {
		p.toolsPresent = true
		typ := t.Get("type").String()
		if strings.HasPrefix(typ, "web_search") ||
			t.Get("function.name").String() == "web_search" ||
			t.Get("name").String() == "web_search" {
			p.webSearch = true
			return false
		}
		return true
	})

	p.hasVision = probeVision(body, "messages") || probeVision(body, "input")

	if th := gjson.GetBytes(body, "thinking"); th.Exists() {
		p.thinking = th.Get("type").String() != "disabled"
	} else if gjson.GetBytes(body, "reasoning_effort").Exists() {
		p.thinking = true
	} else if gjson.GetBytes(body, "reasoning").IsObject() {
		p.thinking = true
	}

	p.background = gjson.GetBytes(body, "background").Bool()
	return p
}

// probeVision reports whether any content part under path carries an
// image. Covers the OpenAI (image_url), Anthropic (image + source) and
// Codex (input_image) part shapes.
func probeVision(body []byte, path string) bool {
	found := false
	gjson.GetBytes(body, path).ForEach(func(_, m gjson.Result) bool {
		content := m.Get("content")
		if !content.IsArray() {
			return true
		}
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "image_url", "image", "input_image":
				found = true
				return false
			}
			return true
		})
		return !found
	})
	return found
}
