package clinicalrecord

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/nutrition/internal/platform/auth"
	"github.com/ehr/nutrition/pkg/pagination"
)

type Handler struct {
	svc    *Service
	access auth.PatientAccessChecker
}

func NewHandler(svc *Service, access auth.PatientAccessChecker) *Handler {
	return &Handler{svc: svc, access: access}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleNutritionist))
	g.POST("/clinical-records/detect-type", h.DetectType)
	g.POST("/clinical-records", h.CreateRecord)
	g.GET("/clinical-records/compare", h.CompareRecords)
	g.GET("/clinical-records/stats", h.GetStats)
	g.GET("/clinical-records/:id", h.GetRecord)
	g.PATCH("/clinical-records/:id", h.UpdatePayload)
	g.GET("/patients/:patient_id/previous-data", h.GetPreviousData)
	g.GET("/patients/:patient_id/clinical-records", h.ListPatientRecords)
	g.GET("/patients/:patient_id/trends", h.GetTrends)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/clinical-records/:id", h.DeleteRecord)
}

type detectTypeRequest struct {
	PatientID          uuid.UUID  `json:"patient_id"`
	ConsultationReason string     `json:"consultation_reason"`
	IsScheduled        *bool      `json:"is_scheduled"`
	RequestedType      RecordType `json:"requested_type"`
}

type createRecordRequest struct {
	PatientID          uuid.UUID        `json:"patient_id"`
	RecordDate         Date             `json:"record_date"`
	ConsultationReason string           `json:"consultation_reason"`
	IsScheduled        *bool            `json:"is_scheduled"`
	RequestedType      RecordType       `json:"requested_type"`
	Measurements       Measurements     `json:"measurements"`
	StructuredFields   StructuredFields `json:"structured_fields"`
}

type updatePayloadRequest struct {
	Measurements     *Measurements     `json:"measurements"`
	StructuredFields *StructuredFields `json:"structured_fields"`
}

func (h *Handler) DetectType(c echo.Context) error {
	var req detectTypeRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	ctx := c.Request().Context()
	if err := h.checkPatient(ctx, req.PatientID); err != nil {
		return err
	}
	cls, err := h.svc.DetectType(ctx, ClassifyInput{
		PatientID:          req.PatientID,
		ConsultationReason: req.ConsultationReason,
		IsScheduled:        req.IsScheduled != nil && *req.IsScheduled,
		RequestedType:      req.RequestedType,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cls)
}

func (h *Handler) GetPreviousData(c echo.Context) error {
	patientID, err := uuidParam(c, "patient_id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.checkPatient(ctx, patientID); err != nil {
		return err
	}
	data, err := h.svc.GetPreviousData(ctx, patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, data)
}

func (h *Handler) CreateRecord(c echo.Context) error {
	var req createRecordRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	ctx := c.Request().Context()
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing user identity")
	}
	if err := h.checkPatient(ctx, req.PatientID); err != nil {
		return err
	}
	rec, err := h.svc.CreateEvolutiveRecord(ctx, CreateRecordInput{
		PatientID:          req.PatientID,
		NutritionistID:     actor,
		RecordDate:         req.RecordDate,
		ConsultationReason: req.ConsultationReason,
		IsScheduled:        req.IsScheduled != nil && *req.IsScheduled,
		RequestedType:      req.RequestedType,
		Measurements:       req.Measurements,
		StructuredFields:   req.StructuredFields,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) CompareRecords(c echo.Context) error {
	idA, err := uuid.Parse(c.QueryParam("a"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id a")
	}
	idB, err := uuid.Parse(c.QueryParam("b"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id b")
	}
	ctx := c.Request().Context()
	a, err := h.svc.GetRecord(ctx, idA)
	if err != nil {
		return httpError(err)
	}
	if err := h.checkPatient(ctx, a.PatientID); err != nil {
		return err
	}
	diff, err := h.svc.CompareRecords(ctx, idA, idB)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, diff)
}

// GetStats defaults to the caller's own statistics. Only admins may ask for
// another nutritionist.
func (h *Handler) GetStats(c echo.Context) error {
	ctx := c.Request().Context()
	actor, _ := auth.ActorFromContext(ctx)
	nutritionistID := actor
	if raw := c.QueryParam("nutritionist_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid nutritionist_id")
		}
		nutritionistID = id
	}
	if nutritionistID != actor && !auth.HasRole(ctx, auth.RoleAdmin) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot read another nutritionist's statistics")
	}

	var window *int
	if raw := c.QueryParam("window_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "window_days must be an integer")
		}
		window = &n
	}

	stats, err := h.svc.GetSeguimientoStats(ctx, nutritionistID, window)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, err := h.svc.GetRecord(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if err := h.checkPatient(ctx, rec.PatientID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListPatientRecords(c echo.Context) error {
	patientID, err := uuidParam(c, "patient_id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.checkPatient(ctx, patientID); err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientRecords(ctx, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ClinicalRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetTrends(c echo.Context) error {
	patientID, err := uuidParam(c, "patient_id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.checkPatient(ctx, patientID); err != nil {
		return err
	}
	var fields []string
	for _, f := range strings.Split(c.QueryParam("fields"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	trends, err := h.svc.ComputeTrends(ctx, patientID, fields)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, trends)
}

func (h *Handler) UpdatePayload(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req updatePayloadRequest
	if err := c.Bind(&req); err != nil {
		return bindError(err)
	}
	if req.Measurements == nil && req.StructuredFields == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nothing to update")
	}
	ctx := c.Request().Context()
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing user identity")
	}
	existing, err := h.svc.GetRecord(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if err := h.checkPatient(ctx, existing.PatientID); err != nil {
		return err
	}
	rec, err := h.svc.UpdateRecordPayload(ctx, id, actor, PayloadUpdate{
		Measurements:     req.Measurements,
		StructuredFields: req.StructuredFields,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteRecord(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) checkPatient(ctx context.Context, patientID uuid.UUID) error {
	if patientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	if err := auth.EnsurePatientAccess(ctx, h.access, patientID); err != nil {
		return httpError(err)
	}
	return nil
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func bindError(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Internal != nil {
		if errors.Is(he.Internal, ErrValidation) {
			return echo.NewHTTPError(http.StatusBadRequest, he.Internal.Error())
		}
	}
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, auth.ErrPatientAccessDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConflictRetryExhausted), errors.Is(err, ErrRecordSuperseded):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
