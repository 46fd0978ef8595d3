package handlers

import (
	"net/http"

	"github.com/rohits-web03/enrollr/internal/api/middleware"
	"github.com/rohits-web03/enrollr/internal/services"
	"github.com/rohits-web03/enrollr/internal/utils"
)

// POST /api/v1/auth/sign-up
// SignUp godoc
// @Summary Register a new account
// @Description Self sign-up with a profile image. The account is created active with the user role.
// @Tags Auth
// @Accept multipart/form-data
// @Produce json
// @Param name formData string true "Full name"
// @Param email formData string true "Email address"
// @Param password formData string true "Password"
// @Param profileImage formData file true "Profile image"
// @Param declaredMimeType formData string false "MIME type of the image"
// @Param originalFilename formData string false "File name to record for the image"
// @Success 201 {object} utils.Payload
// @Failure 400 {object} utils.Payload
// @Failure 409 {object} utils.Payload
// @Failure 422 {object} utils.Payload
// @Failure 503 {object} utils.Payload
// @Router /api/v1/auth/sign-up [post]
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.register(w, r)
}

// POST /api/v1/users
// CreateUser godoc
// @Summary Create a user as an admin
// @Description Admin-only account creation. The acting admin is recorded as creator.
// @Tags Users
// @Accept multipart/form-data
// @Produce json
// @Param name formData string true "Full name"
// @Param email formData string true "Email address"
// @Param password formData string true "Password"
// @Param role formData string false "admin or user" Enums(admin, user)
// @Param profileImage formData file true "Profile image"
// @Success 201 {object} utils.Payload
// @Failure 401 {object} utils.Payload
// @Failure 403 {object} utils.Payload
// @Failure 409 {object} utils.Payload
// @Failure 422 {object} utils.Payload
// @Router /api/v1/users [post]
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	h.register(w, r)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()

	if err := h.parseMultipart(w, r); err != nil {
		h.writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	image, err := h.readUpload(r, "profileImage", "profile_image")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	in := services.RegisterInput{
		Profile: services.Profile{
			Name:     r.FormValue("name"),
			Email:    r.FormValue("email"),
			Password: r.FormValue("password"),
			Role:     r.FormValue("role"),
		},
		Image: image,
	}

	user, err := h.registrar.Register(ctx, in, middleware.PrincipalFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	utils.JSONResponse(w, http.StatusCreated, utils.Payload{
		Success: true,
		Message: "User registered successfully",
		Data:    user.View(),
	})
}

// GET /api/v1/users/me
// Me godoc
// @Summary Current user
// @Tags Users
// @Produce json
// @Success 200 {object} utils.Payload
// @Failure 401 {object} utils.Payload
// @Router /api/v1/users/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFrom(r.Context())

	user, err := h.users.FindUserByID(r.Context(), principal.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "User fetched successfully",
		Data:    user.View(),
	})
}
