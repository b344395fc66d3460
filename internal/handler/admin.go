package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ticket-reservation-engine/internal/service"
)

// AdminHandler runs operator maintenance on demand.
type AdminHandler struct {
	checker *service.ConsistencyChecker
}

func NewAdminHandler(checker *service.ConsistencyChecker) *AdminHandler {
	return &AdminHandler{checker: checker}
}

// ConsistencyCheck handles POST /v1/admin/consistency-check?limit=.
func (h *AdminHandler) ConsistencyCheck(c echo.Context) error {
	limit := 500
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return badRequest(c, "invalid limit")
		}
		limit = n
	}
	n, err := h.checker.Run(c.Request().Context(), limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"quarantined": n})
}
