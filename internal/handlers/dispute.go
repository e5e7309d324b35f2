// internal/handlers/dispute.go
package handlers

import (
	"mime/multipart"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/handoff-backend/internal/i18n"
	"github.com/javajoker/handoff-backend/internal/services"
	"github.com/javajoker/handoff-backend/internal/utils"
)

const maxEvidenceFiles = 5

type DisputeHandler struct {
	disputeService *services.DisputeService
}

func NewDisputeHandler(disputeService *services.DisputeService) *DisputeHandler {
	return &DisputeHandler{
		disputeService: disputeService,
	}
}

type DisputeMessageRequest struct {
	Body string `json:"body" validate:"required,min=1,max=4000"`
}

// POST /orders/:id/disputes
func (h *DisputeHandler) OpenDispute(c *gin.Context) {
	reporterID, ok := caller(c)
	if !ok {
		return
	}
	orderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.OpenDisputeRequest
	if !bindJSON(c, &req) {
		return
	}

	dispute, err := h.disputeService.OpenDispute(c.Request.Context(), orderID, reporterID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, dispute)
}

// GET /disputes/:id
func (h *DisputeHandler) GetDispute(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	disputeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.disputeService.GetDispute(c.Request.Context(), disputeID, userID, utils.IsAdmin(c))
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, dispute)
}

// POST /disputes/:id/evidence
// multipart/form-data: description plus up to five files under "files".
func (h *DisputeHandler) AddEvidence(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, ok := caller(c)
	if !ok {
		return
	}
	disputeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "form"), nil)
		return
	}

	description := c.PostForm("description")
	headers := form.File["files"]
	if description == "" && len(headers) == 0 {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationRequired, "description"), nil)
		return
	}
	if len(headers) > maxEvidenceFiles {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "files"), gin.H{"max_files": maxEvidenceFiles})
		return
	}

	files := make([]services.EvidenceFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyFileUploadFailed), nil)
			return
		}
		opened = append(opened, f)
		files = append(files, services.EvidenceFile{Name: header.Filename, Size: header.Size, Reader: f})
	}

	evidence, err := h.disputeService.AddEvidence(c.Request.Context(), disputeID, userID, utils.IsAdmin(c), description, files)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, evidence)
}

// POST /disputes/:id/messages
func (h *DisputeHandler) AddMessage(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	disputeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req DisputeMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	message, err := h.disputeService.AddMessage(c.Request.Context(), disputeID, userID, utils.IsAdmin(c), req.Body)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, message)
}

// PUT /disputes/:id/investigate
func (h *DisputeHandler) StartInvestigation(c *gin.Context) {
	adminID, ok := caller(c)
	if !ok {
		return
	}
	disputeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.disputeService.StartInvestigation(c.Request.Context(), disputeID, adminID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, dispute)
}

// PUT /disputes/:id/resolve
func (h *DisputeHandler) ResolveDispute(c *gin.Context) {
	adminID, ok := caller(c)
	if !ok {
		return
	}
	disputeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req services.ResolveDisputeRequest
	if !bindJSON(c, &req) {
		return
	}

	resolution, err := h.disputeService.ResolveDispute(c.Request.Context(), disputeID, adminID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, resolution)
}

// PUT /disputes/:id/close
func (h *DisputeHandler) CloseDispute(c *gin.Context) {
	disputeID, ok := paramID(c, "id")
	if !ok {
		return
	}

	dispute, err := h.disputeService.CloseDispute(c.Request.Context(), disputeID)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, dispute)
}
