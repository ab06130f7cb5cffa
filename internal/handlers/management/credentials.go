package management

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"routecodex-go/internal/credential"
	"routecodex-go/internal/health"
)

// credentialView is the redacted wire shape: state and lifecycle, never
// the secret.
type credentialView struct {
	ID              string     `json:"id"`
	ProviderID      string     `json:"provider_id"`
	Alias           string     `json:"alias"`
	AuthKind        string     `json:"auth_kind"`
	State           string     `json:"state"`
	Disabled        bool       `json:"disabled"`
	BlockReason     string     `json:"block_reason,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastRefreshAt   *time.Time `json:"last_refresh_at,omitempty"`
	RefreshFailures int        `json:"refresh_failures,omitempty"`

	HealthBlock *health.BlockInfo `json:"health_block,omitempty"`
}

// GET /v0/management/credentials
func (h *Handler) ListCredentials(c *gin.Context) {
	blocks := make(map[string]*health.BlockInfo)
	for _, e := range h.health.Snapshot() {
		if e.Block != nil {
			blocks[e.Key] = e.Block
		}
	}

	snaps := h.credentials.List()
	views := make([]credentialView, 0, len(snaps))
	for _, s := range snaps {
		v := credentialView{
			ID:              s.ID,
			ProviderID:      s.ProviderID,
			Alias:           s.Alias,
			AuthKind:        string(s.AuthKind),
			State:           string(s.State),
			Disabled:        s.Disabled,
			BlockReason:     s.BlockReason,
			RefreshFailures: s.RefreshFailures,
			HealthBlock:     blocks[health.Key(s.ProviderID, s.ID)],
		}
		if !s.ExpiresAt.IsZero() {
			exp := s.ExpiresAt
			v.ExpiresAt = &exp
		}
		if !s.LastRefreshAt.IsZero() {
			ts := s.LastRefreshAt
			v.LastRefreshAt = &ts
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	c.JSON(http.StatusOK, gin.H{"credentials": views, "count": len(views)})
}

// POST /v0/management/credentials/:id/enable
func (h *Handler) EnableCredential(c *gin.Context) {
	h.setDisabled(c, false)
}

// POST /v0/management/credentials/:id/disable
func (h *Handler) DisableCredential(c *gin.Context) {
	h.setDisabled(c, true)
}

func (h *Handler) setDisabled(c *gin.Context, disabled bool) {
	id := c.Param("id")
	if err := h.credentials.SetDisabled(id, disabled); err != nil {
		writeCredentialErr(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "disabled": disabled})
}

// POST /v0/management/credentials/:id/reset
//
// Clears store-level failure state and the health block in one go, so an
// operator fixing an upstream key gets traffic flowing again without
// waiting for the recovery sweep.
func (h *Handler) ResetCredential(c *gin.Context) {
	id := c.Param("id")
	snap, ok := h.credentials.Get(id)
	if !ok {
		writeCredentialErr(c, id, credential.ErrUnknownCredential)
		return
	}
	if err := h.credentials.ResetState(id); err != nil {
		writeCredentialErr(c, id, err)
		return
	}
	h.health.Clear(health.Key(snap.ProviderID, id))
	c.JSON(http.StatusOK, gin.H{"id": id, "reset": true})
}

func writeCredentialErr(c *gin.Context, id string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, credential.ErrUnknownCredential) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{
		"error": gin.H{"message": err.Error(), "credential_id": id},
	})
}
