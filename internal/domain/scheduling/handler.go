package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cabinet/booking/internal/platform/slotlock"
	"github.com/cabinet/booking/pkg/pagination"
)

// Handler exposes the booking API.
type Handler struct {
	booking *BookingService
	manager *AppointmentManager
	slots   *SlotGenerator
	loc     *time.Location
}

func NewHandler(booking *BookingService, manager *AppointmentManager, slots *SlotGenerator, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{booking: booking, manager: manager, slots: slots, loc: loc}
}

// RegisterRoutes mounts the public booking routes on api and the admin
// routes behind the given middleware.
func (h *Handler) RegisterRoutes(api *echo.Group, admin ...echo.MiddlewareFunc) {
	g := api.Group("/booking")
	g.GET("/slots", h.GetSlots)
	g.GET("/calendar", h.GetCalendar)
	g.POST("/appointments", h.CreateAppointment)

	adm := g.Group("", admin...)
	adm.GET("/appointments", h.ListAppointments)
	adm.GET("/appointments/:id", h.GetAppointment)
	adm.PUT("/appointments/:id", h.UpdateAppointment)
	adm.DELETE("/appointments/:id", h.CancelAppointment)
	adm.GET("/stats", h.GetStats)
}

// GetSlots handles GET /booking/slots?startDate=&endDate=&duration=.
func (h *Handler) GetSlots(c echo.Context) error {
	start, err := ParseDate(c.QueryParam("startDate"), h.loc)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "startDate: "+err.Error())
	}
	end, err := ParseDate(c.QueryParam("endDate"), h.loc)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "endDate: "+err.Error())
	}
	duration := Duration60
	if d := c.QueryParam("duration"); d != "" {
		duration, err = strconv.Atoi(d)
		if err != nil || (duration != Duration60 && duration != Duration90) {
			return echo.NewHTTPError(http.StatusBadRequest, "duration must be 60 or 90")
		}
	}

	days, err := h.slots.GetAvailableSlots(start, end, duration)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	booked, err := h.manager.ActiveAppointments(c.Request().Context(), FormatDate(start), FormatDate(end))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, MarkBooked(days, booked, duration))
}

// CalendarInfo is the weekly opening table and the public holidays of a
// year, for greying out dates in the booking form.
type CalendarInfo struct {
	Year     int                  `json:"year"`
	Hours    map[string]*DayHours `json:"hours"`
	Holidays []string             `json:"holidays"`
}

// GetCalendar handles GET /booking/calendar?year=. It defaults to the
// current year.
func (h *Handler) GetCalendar(c echo.Context) error {
	year := time.Now().In(h.loc).Year()
	if y := c.QueryParam("year"); y != "" {
		n, err := strconv.Atoi(y)
		if err != nil || n < 1900 || n > 2200 {
			return echo.NewHTTPError(http.StatusBadRequest, "year must be between 1900 and 2200")
		}
		year = n
	}
	return c.JSON(http.StatusOK, CalendarInfo{
		Year:     year,
		Hours:    h.slots.hours.Table(),
		Holidays: Holidays(year),
	})
}

// CreateAppointment handles POST /booking/appointments.
func (h *Handler) CreateAppointment(c echo.Context) error {
	var req BookingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.booking.Book(c.Request().Context(), req)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			return c.JSON(http.StatusBadRequest, verr)
		case errors.Is(err, ErrSlotConflict):
			return echo.NewHTTPError(http.StatusConflict, "Ce créneau vient d'être réservé, merci d'en choisir un autre")
		case errors.Is(err, ErrNotificationFailed):
			return echo.NewHTTPError(http.StatusBadGateway, "La demande n'a pas pu être transmise, merci de réessayer")
		case errors.Is(err, slotlock.ErrLockTimeout):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "Service momentanément indisponible, merci de réessayer")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusCreated, res)
}

// ListAppointments handles GET /booking/appointments?startDate=&endDate=.
// Without dates it lists the coming month.
func (h *Handler) ListAppointments(c echo.Context) error {
	today := StartOfDay(time.Now().In(h.loc))
	start := c.QueryParam("startDate")
	if start == "" {
		start = FormatDate(today)
	}
	end := c.QueryParam("endDate")
	if end == "" {
		end = FormatDate(today.AddDate(0, 1, 0))
	}

	pg := pagination.FromContext(c)
	items, total, err := h.manager.GetAppointmentsByDateRange(c.Request().Context(), start, end, pg.Limit, pg.Offset)
	if err != nil {
		if errors.Is(err, ErrInvalidFormat) || errors.Is(err, ErrInvalidRange) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

// GetAppointment handles GET /booking/appointments/:id.
func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.manager.GetAppointment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapManagerErr(err)
	}
	return c.JSON(http.StatusOK, a)
}

// UpdateAppointment handles PUT /booking/appointments/:id.
func (h *Handler) UpdateAppointment(c echo.Context) error {
	var patch AppointmentPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}
	a, err := h.manager.UpdateAppointment(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, verr)
		}
		return mapManagerErr(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"updated": true, "appointment": a})
}

// CancelAppointment handles DELETE /booking/appointments/:id. The record is
// kept with status cancelled.
func (h *Handler) CancelAppointment(c echo.Context) error {
	a, err := h.manager.CancelAppointment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapManagerErr(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"cancelled": true, "appointment": a})
}

// GetStats handles GET /booking/stats.
func (h *Handler) GetStats(c echo.Context) error {
	st, err := h.manager.GetStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, st)
}

func mapManagerErr(err error) error {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSlotConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidFormat), errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidConsultationType):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, slotlock.ErrLockTimeout):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
