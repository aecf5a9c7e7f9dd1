package reference

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/diseases", h.ListDiseases)
}

func (h *Handler) ListDiseases(c echo.Context) error {
	diseases, err := h.repo.ListDiseases(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError,
			map[string]interface{}{"error": "internal server error"})
	}
	if diseases == nil {
		diseases = []Disease{}
	}
	return c.JSON(http.StatusOK, diseases)
}
