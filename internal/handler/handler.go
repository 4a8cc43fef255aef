package handler

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/pagecrowd/pagecrowd/internal/annot"
	"github.com/pagecrowd/pagecrowd/internal/config"
	"github.com/pagecrowd/pagecrowd/internal/model"
	"github.com/pagecrowd/pagecrowd/internal/review"
	"github.com/pagecrowd/pagecrowd/internal/store"
	"github.com/pagecrowd/pagecrowd/internal/ws"
)

// rejectAction is the assignment-id placeholder that turns the decision
// endpoint into a page rejection.
const rejectAction = "REJECT"

const distributionBuckets = 10

// Handler holds the review web surface endpoints.
type Handler struct {
	store    *store.Store
	review   *review.Service
	comparer *annot.Comparer
	hub      *ws.Hub
	cfg      *config.Config
	upgrader websocket.Upgrader
}

// NewHandler creates the handler set.
func NewHandler(st *store.Store, rev *review.Service, comparer *annot.Comparer, hub *ws.Hub, cfg *config.Config) *Handler {
	return &Handler{
		store:    st,
		review:   rev,
		comparer: comparer,
		hub:      hub,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers all routes on the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/v1/health", h.Health)
	r.GET("/ws", h.WebSocket)

	r.GET("/", h.Dashboard)
	r.GET("/review", h.ReviewRandom)
	r.GET("/review/:page_id", h.ReviewPage)
	r.GET("/assignment/:page_id/:assignment_id", h.GetAssignment)
	r.POST("/assignment/:page_id/:assignment_id", h.DecideAssignment)
}

// ─────────────────────────────────────────────
// GET /  (dashboard)
// ─────────────────────────────────────────────

// Dashboard returns the per-status page counts and the worker point
// distribution.
func (h *Handler) Dashboard(c *gin.Context) {
	counts, err := h.store.StatusCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var total int64
	for _, sc := range counts {
		total += sc.Count
	}
	distribution, err := h.store.WorkerPointsDistribution(c.Request.Context(), distributionBuckets)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"environment":         h.cfg.EnvName,
		"active_page_groups":  h.cfg.ActivePageGroups,
		"status_counts":       counts,
		"total_pages":         total,
		"worker_distribution": distribution,
	})
}

// ─────────────────────────────────────────────
// GET /review  (random page by status)
// ─────────────────────────────────────────────

// ReviewRandom redirects to a random page of the requested status,
// DEFERRED by default.
func (h *Handler) ReviewRandom(c *gin.Context) {
	statusParam := c.DefaultQuery("page_status", string(model.PageStatusDeferred))
	status, err := model.ParsePageStatus(statusParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pages, err := h.store.RandomPagesByStatus(c.Request.Context(), []model.PageStatus{status}, 1)
	if err != nil {
		if errors.Is(err, store.ErrNoPages) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no pages with status " + string(status)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Redirect(http.StatusFound, "/review/"+pages[0].ID)
}

// ─────────────────────────────────────────────
// GET /review/:page_id
// ─────────────────────────────────────────────

// ReviewPage returns the page with the up-to-two assignments a reviewer
// compares.
func (h *Handler) ReviewPage(c *gin.Context) {
	page, err := h.store.PageByID(c.Request.Context(), c.Param("page_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"page_id":                page.ID,
		"status":                 page.Status,
		"qualification_page":     page.QualificationPage,
		"accepted_assignment_id": page.AcceptedAssignmentID,
		"image_url":              h.cfg.ImageURLBase + page.ID + h.cfg.ImageExtension,
		"assignments":            page.LastAssignments(2),
	})
}

// ─────────────────────────────────────────────
// GET /assignment/:page_id/:assignment_id
// ─────────────────────────────────────────────

// GetAssignment returns one assignment, optionally with its answer cropped
// to visible content (?crop_whitespace=true).
func (h *Handler) GetAssignment(c *gin.Context) {
	pageID := c.Param("page_id")
	assignment, err := h.store.Assignment(c.Request.Context(), pageID, c.Param("assignment_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	if c.Query("crop_whitespace") == "true" {
		cropped, err := h.comparer.CropAnswer(c.Request.Context(), pageID, assignment.Answer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		assignment.Answer = cropped
	}
	c.JSON(http.StatusOK, assignment)
}

// ─────────────────────────────────────────────
// POST /assignment/:page_id/:assignment_id
// ─────────────────────────────────────────────

// decisionRequest is the reviewer's verdict. A non-nil answer means the
// reviewer edited the annotations before accepting.
type decisionRequest struct {
	Answer   *model.Answer `json:"answer"`
	Feedback string        `json:"feedback"`
}

// DecideAssignment applies a review decision: accept as-is, accept an
// edited answer, or, with the REJECT placeholder id, reject the page.
func (h *Handler) DecideAssignment(c *gin.Context) {
	pageID := c.Param("page_id")
	assignmentID := c.Param("assignment_id")

	// An empty body is a plain accept-as-is.
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	switch {
	case assignmentID == rejectAction:
		err = h.review.Reject(c.Request.Context(), pageID, req.Feedback)
	case req.Answer != nil:
		err = h.review.AcceptEdited(c.Request.Context(), pageID, assignmentID, *req.Answer)
	default:
		err = h.review.AcceptAsIs(c.Request.Context(), pageID, assignmentID)
	}
	if err != nil {
		h.renderError(c, err)
		return
	}

	h.broadcastStatus(c)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// broadcastStatus pushes refreshed status counts to connected dashboards.
func (h *Handler) broadcastStatus(c *gin.Context) {
	counts, err := h.store.StatusCounts(c.Request.Context())
	if err != nil {
		log.Printf("[handler] status counts for broadcast: %v", err)
		return
	}
	h.hub.BroadcastStatusSnapshot(counts)
}

// renderError maps domain errors onto HTTP statuses.
func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNoPages):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrQualTypesMissing):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ─────────────────────────────────────────────
// GET /ws  (dashboard feed)
// ─────────────────────────────────────────────

// WebSocket upgrades the connection and streams status snapshots.
func (h *Handler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[handler] websocket upgrade error: %v", err)
		return
	}
	client := ws.NewClient(conn, h.hub)
	client.Run()
}

// ─────────────────────────────────────────────
// GET /api/v1/health
// ─────────────────────────────────────────────

// Health returns basic server health info.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":               "ok",
		"connected_dashboards": h.hub.ClientCount(),
	})
}
