package api

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/loom/internal/model"
	"github.com/roach88/loom/internal/rulefile"
	"github.com/roach88/loom/internal/service"
)

// maxRuleFile bounds an uploaded rule file.
const maxRuleFile = 4 << 20

type windowRequest struct {
	Weeks int `json:"weeks" binding:"required"`
}

type reprojectQuery struct {
	Full bool `form:"full"`
}

type rangeQuery struct {
	Start string `form:"start" binding:"required"`
	End   string `form:"end" binding:"required"`
}

type cancelRequest struct {
	Type model.CancellationType `json:"type" binding:"required,oneof=normal short_notice"`
}

type statusRequest struct {
	Status model.AttendanceStatus `json:"status" binding:"required"`
}

type paymentsQuery struct {
	Status model.PaymentStatus `form:"status"`
}

type billRequest struct {
	IDs []string `json:"ids" binding:"required,min=1,dive,required"`
}

// GenerateWindow handles POST /v1/window.
func (h *Handlers) GenerateWindow(c *gin.Context) {
	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	res, err := h.svc.GenerateWindow(c.Request.Context(), req.Weeks)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ResizeWindow handles PUT /v1/window.
func (h *Handlers) ResizeWindow(c *gin.Context) {
	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	res, err := h.svc.ResizeWindow(c.Request.Context(), req.Weeks)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetWindow handles GET /v1/window.
func (h *Handlers) GetWindow(c *gin.Context) {
	win, err := h.svc.GetWindow(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, win)
}

// RollNow handles POST /v1/window/roll.
func (h *Handlers) RollNow(c *gin.Context) {
	res, err := h.svc.RollNow(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Reproject handles POST /v1/window/reproject; ?full=true rebuilds.
func (h *Handlers) Reproject(c *gin.Context) {
	var q reprojectQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	stats, err := h.svc.Reproject(c.Request.Context(), q.Full)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetInstances handles GET /v1/instances?start=&end=.
func (h *Handlers) GetInstances(c *gin.Context) {
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	start, err := model.ParseDate(q.Start)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	end, err := model.ParseDate(q.End)
	if err != nil {
		h.badRequest(c, err)
		return
	}
	insts, err := h.svc.GetInstances(c.Request.Context(), start, end)
	if err != nil {
		h.fail(c, err)
		return
	}
	if insts == nil {
		insts = []model.Instance{}
	}
	c.JSON(http.StatusOK, insts)
}

// GetInstance handles GET /v1/instances/:id.
func (h *Handlers) GetInstance(c *gin.Context) {
	inst, err := h.svc.GetInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// EditInstance handles PATCH /v1/instances/:id.
func (h *Handlers) EditInstance(c *gin.Context) {
	var edit service.InstanceEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		h.badRequest(c, err)
		return
	}
	inst, err := h.svc.EditInstance(c.Request.Context(), c.Param("id"), edit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// ClearOverride handles DELETE /v1/instances/:id/override.
func (h *Handlers) ClearOverride(c *gin.Context) {
	inst, err := h.svc.ClearOverride(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// AllocateParticipants handles POST /v1/instances/:id/participants.
func (h *Handlers) AllocateParticipants(c *gin.Context) {
	res, err := h.svc.AllocateParticipants(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AssignStaff handles POST /v1/instances/:id/staff.
func (h *Handlers) AssignStaff(c *gin.Context) {
	res, err := h.svc.AssignStaff(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AssignVehicles handles POST /v1/instances/:id/vehicles.
func (h *Handlers) AssignVehicles(c *gin.Context) {
	res, err := h.svc.AssignVehicles(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ReoptimizeInstance handles POST /v1/instances/:id/reoptimize.
func (h *Handlers) ReoptimizeInstance(c *gin.Context) {
	res, err := h.svc.ReoptimizeInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CancelParticipant handles POST /v1/attendance/:id/cancel.
func (h *Handlers) CancelParticipant(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	res, err := h.svc.CancelParticipant(c.Request.Context(), c.Param("id"), req.Type)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SetAttendanceStatus handles PUT /v1/attendance/:id/status.
func (h *Handlers) SetAttendanceStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	att, err := h.svc.SetAttendanceStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, att)
}

// ReportStaffSickness answers 200 whether or not a substitute was found;
// an unfilled shift is reported in the body.
func (h *Handlers) ReportStaffSickness(c *gin.Context) {
	res, err := h.svc.ReportStaffSickness(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListPayments handles GET /v1/payments; ?status= filters.
func (h *Handlers) ListPayments(c *gin.Context) {
	var q paymentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, err)
		return
	}
	ds, err := h.svc.ListPayments(c.Request.Context(), q.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	if ds == nil {
		ds = []model.PaymentDiamond{}
	}
	c.JSON(http.StatusOK, ds)
}

// MarkBilled handles POST /v1/payments/billed.
func (h *Handlers) MarkBilled(c *gin.Context) {
	var req billRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	ds, err := h.svc.MarkBilled(c.Request.Context(), req.IDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

// ImportRules accepts a rule file body. The format follows Content-Type:
// application/json, application/yaml (or text/yaml) and text/x-cue.
func (h *Handlers) ImportRules(c *gin.Context) {
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRuleFile))
	if err != nil {
		h.badRequest(c, err)
		return
	}
	f, err := parseRuleFile(c.GetHeader("Content-Type"), data)
	if err != nil {
		if model.CodeOf(err) == "" {
			h.badRequest(c, err)
		} else {
			h.fail(c, err)
		}
		return
	}
	sum, err := h.svc.ImportRules(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

var errUnsupportedMedia = errors.New("unsupported rule file content type")

func parseRuleFile(contentType string, data []byte) (*rulefile.File, error) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, errUnsupportedMedia
	}
	switch mt {
	case "application/json":
		return rulefile.ParseJSON(data)
	case "application/yaml", "application/x-yaml", "text/yaml":
		return rulefile.ParseYAML(data)
	case "text/x-cue", "application/cue":
		return rulefile.ParseCUE(data, "upload.cue")
	}
	return nil, errUnsupportedMedia
}
