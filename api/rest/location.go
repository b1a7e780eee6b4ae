package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sidequest/server/catalog"
	"github.com/sidequest/server/model"
)

// LocationHandler serves the location directory.
type LocationHandler struct {
	catalog *catalog.Store
}

func NewLocationHandler(cat *catalog.Store) *LocationHandler {
	return &LocationHandler{catalog: cat}
}

// List handles GET /api/locations?type=place&borough=Brooklyn&limit=50.
func (h *LocationHandler) List(c *gin.Context) {
	h.list(c, c.Query("type"))
}

// Places handles GET /api/places.
func (h *LocationHandler) Places(c *gin.Context) { h.list(c, model.LocationTypePlace) }

// Events handles GET /api/events.
func (h *LocationHandler) Events(c *gin.Context) { h.list(c, model.LocationTypeEvent) }

func (h *LocationHandler) list(c *gin.Context, typ string) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	locs, err := h.catalog.ListLocations(c.Request.Context(), catalog.LocationFilter{
		Type:    typ,
		Borough: c.Query("borough"),
		Limit:   limit,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": locs})
}

// Get handles GET /api/locations/:id.
func (h *LocationHandler) Get(c *gin.Context) {
	loc, err := h.catalog.GetLocation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, catalog.ErrLocationNotFound) {
		fail(c, http.StatusNotFound, "location_not_found", "location not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": loc})
}
