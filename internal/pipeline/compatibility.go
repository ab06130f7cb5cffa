package pipeline

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"routecodex-go/internal/config"
)

// compatStage is stage 3's field-level adaptation applied after the
// dialect translation: renames and drops requested by the provider's
// compatibility profile. Renames are inverted on the response so clients
// always see canonical field names.
type compatStage struct {
	profile string
	renames map[string]string
	drops   []string
}

func newCompatStage(cfg config.CompatibilityConfig) *compatStage {
	return &compatStage{profile: cfg.Profile, renames: cfg.FieldRenames, drops: cfg.DropFields}
}

func (s *compatStage) applyRequest(body []byte) []byte {
	for from, to := range s.renames {
		body = moveField(body, from, to)
	}
	for _, path := range s.drops {
		if out, err := sjson.DeleteBytes(body, path); err == nil {
			body = out
		}
	}
	return body
}

// applyResponse undoes request-side renames for fields the upstream
// echoes back under its own names.
func (s *compatStage) applyResponse(body []byte) []byte {
	for from, to := range s.renames {
		body = moveField(body, to, from)
	}
	return body
}

func moveField(body []byte, from, to string) []byte {
	v := gjson.GetBytes(body, from)
	if !v.Exists() || from == to {
		return body
	}
	out, err := sjson.SetRawBytes(body, to, []byte(v.Raw))
	if err != nil {
		return body
	}
	out, err = sjson.DeleteBytes(out, from)
	if err != nil {
		return body
	}
	return out
}
