package patient

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/httperr"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	front := api.Group("/patients", auth.RequireRole("admin", "reception"))
	front.POST("", h.RegisterPatient)

	read := api.Group("/patients", auth.RequireRole("superadmin", "admin", "reception", "doctor", "nurse"))
	read.GET("", h.SearchPatients)
	read.GET("/:id", h.GetPatient)
}

func respond(c echo.Context, err error) error {
	kind := ""
	if errors.Is(err, ErrValidation) {
		kind = httperr.KindValidation
	}
	return httperr.Respond(c, kind, err)
}

// registerRequest takes date_of_birth as YYYY-MM-DD.
type registerRequest struct {
	Patient
	DateOfBirth string `json:"date_of_birth"`
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return httperr.New(httperr.KindValidation, "invalid request body")
	}
	p := req.Patient
	if req.DateOfBirth != "" {
		dob, err := time.Parse(time.DateOnly, req.DateOfBirth)
		if err != nil {
			return httperr.New(httperr.KindValidation, "date_of_birth must be YYYY-MM-DD")
		}
		p.DateOfBirth = &dob
	}
	ctx := c.Request().Context()
	if err := h.svc.Register(ctx, db.TenantFromContext(ctx), &p); err != nil {
		return respond(c, err)
	}
	c.Set(middleware.AuditRecordKey, p.ID.String())
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return httperr.New(httperr.KindValidation, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.Get(ctx, db.TenantFromContext(ctx), id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	patients, total, err := h.svc.Search(ctx, db.TenantFromContext(ctx), c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg))
}
