package handlers

import (
	"net/http"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/utils"
)

// POST /api/v1/files
// UploadFile godoc
// @Summary Upload a file
// @Description Stores one file and records it. The stored name is generated; the uploaded name is kept for display only.
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File to upload"
// @Param declaredMimeType formData string false "MIME type of the file"
// @Param originalFilename formData string false "File name to record"
// @Success 201 {object} utils.Payload
// @Failure 401 {object} utils.Payload
// @Failure 422 {object} utils.Payload
// @Failure 503 {object} utils.Payload
// @Router /api/v1/files [post]
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	if err := h.parseMultipart(w, r); err != nil {
		h.writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	upload, err := h.readUpload(r, "file")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if upload == nil {
		h.writeError(w, r, apperrors.NewValidationError(map[string]string{"file": "is required"}))
		return
	}

	file, err := h.files.Ingest(ctx, *upload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	utils.JSONResponse(w, http.StatusCreated, utils.Payload{
		Success: true,
		Message: "File uploaded successfully",
		Data: map[string]any{
			"id":           file.ID,
			"modifiedName": file.ModifiedName,
			"originalName": file.OriginalName,
			"type":         file.Type,
		},
	})
}
