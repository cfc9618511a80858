package renewals

import (
	"context"
	"errors"
	"time"

	"go_certagent/internal/httpx"
	"go_certagent/internal/plugin"
	"go_certagent/internal/renewal"

	"github.com/gin-gonic/gin"
)

// Store is the part of the renewal store the API reads and cancels through
type Store interface {
	List(ctx context.Context) ([]*renewal.Renewal, error)
	Get(ctx context.Context, id string) (*renewal.Renewal, error)
	Cancel(ctx context.Context, r *renewal.Renewal) error
}

// Runner runs one renewal on demand
type Runner interface {
	RunByID(ctx context.Context, id string, args plugin.Args) (*renewal.Renewal, renewal.RenewResult, error)
}

// Handler serves the renewal endpoints
type Handler struct {
	store  Store
	runner Runner
	reg    *plugin.Registry
	now    func() time.Time
}

// NewHandler creates a new renewals handler
func NewHandler(store Store, runner Runner, reg *plugin.Registry) *Handler {
	return &Handler{store: store, runner: runner, reg: reg, now: time.Now}
}

// RenewalItem is the API view of a renewal
type RenewalItem struct {
	ID           string                    `json:"id"`
	FriendlyName string                    `json:"friendlyName"`
	NextDueDate  *time.Time                `json:"nextDueDate"`
	Due          bool                      `json:"due"`
	Plugins      map[plugin.Stage][]string `json:"plugins"`
	LastResult   *renewal.RenewResult      `json:"lastResult,omitempty"`
	LastSuccess  *time.Time                `json:"lastSuccess,omitempty"`
}

// RenewalDetail adds the full history to RenewalItem
type RenewalDetail struct {
	RenewalItem
	History []renewal.RenewResult `json:"history"`
}

func (h *Handler) item(r *renewal.Renewal) RenewalItem {
	it := RenewalItem{
		ID:           r.ID,
		FriendlyName: r.FriendlyName,
		Due:          r.IsDue(h.now()),
		Plugins:      renewal.Snapshot(h.reg, r.Options),
	}
	if !r.NextDueDate.IsZero() {
		due := r.NextDueDate
		it.NextDueDate = &due
	}
	if last, ok := r.Last(); ok {
		it.LastResult = &last
	}
	if ok, found := r.LastSuccess(); found {
		it.LastSuccess = &ok.Date
	}
	return it
}

// List GET /api/v1/renewals
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.List(c.Request.Context())
	if err != nil {
		httpx.FailErr(c, httpx.ErrStoreError("failed to list renewals", err))
		return
	}

	items := make([]RenewalItem, 0, len(list))
	for _, r := range list {
		items = append(items, h.item(r))
	}
	httpx.OKItems(c, items, len(items))
}

// Get GET /api/v1/renewals/:id
func (h *Handler) Get(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	history := r.History
	if history == nil {
		history = []renewal.RenewResult{}
	}
	httpx.OK(c, RenewalDetail{RenewalItem: h.item(r), History: history})
}

// RunRequest is the optional body of a run request
type RunRequest struct {
	Args map[string]string `json:"args"`
}

// Run POST /api/v1/renewals/:id/run
func (h *Handler) Run(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
			return
		}
	}

	r, res, err := h.runner.RunByID(c.Request.Context(), c.Param("id"), plugin.Args(req.Args))
	switch {
	case errors.Is(err, renewal.ErrNotFound):
		httpx.FailErr(c, httpx.ErrNotFound(""))
	case errors.Is(err, renewal.ErrLocked):
		httpx.FailErr(c, httpx.ErrStateConflict("renewal is already running"))
	case err != nil:
		httpx.FailErr(c, httpx.ErrRenewalFailed("", err).WithData(res))
	default:
		httpx.OKMsg(c, "renewal succeeded", h.item(r))
	}
}

// Cancel POST /api/v1/renewals/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	r, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.store.Cancel(c.Request.Context(), r); err != nil {
		if errors.Is(err, renewal.ErrNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound(""))
			return
		}
		httpx.FailErr(c, httpx.ErrStoreError("failed to cancel renewal", err))
		return
	}
	httpx.OKMsg(c, "renewal cancelled", gin.H{"id": r.ID})
}

func (h *Handler) load(c *gin.Context) (*renewal.Renewal, bool) {
	r, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, renewal.ErrNotFound) {
		httpx.FailErr(c, httpx.ErrNotFound(""))
		return nil, false
	}
	if err != nil {
		httpx.FailErr(c, httpx.ErrStoreError("failed to load renewal", err))
		return nil, false
	}
	return r, true
}
