package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/crowdcount/internal/zones"
	"github.com/your-org/crowdcount/pkg/dto"
)

type ZoneHandler struct {
	store *zones.Store
}

func NewZoneHandler(store *zones.Store) *ZoneHandler {
	return &ZoneHandler{store: store}
}

// Set replaces the whole zone set. An empty list clears all zones.
func (h *ZoneHandler) Set(c *gin.Context) {
	var req dto.SetZonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Zones == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "zones array is required"})
		return
	}

	zs := make([]zones.Zone, len(*req.Zones))
	for i, z := range *req.Zones {
		if z.Points == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("zone %d: points is required", i)})
			return
		}
		pts := make([]zones.Point, len(*z.Points))
		for j, p := range *z.Points {
			pts[j] = zones.Point(p)
		}
		zs[i] = zones.Zone{Points: pts, Label: z.Label}
	}

	n := h.store.Set(zs)
	c.JSON(http.StatusOK, dto.SetZonesResponse{Message: "Zones received", ZoneCount: n})
}

func (h *ZoneHandler) List(c *gin.Context) {
	current := h.store.Zones()
	out := make([]dto.Zone, len(current))
	for i, z := range current {
		pts := make([][2]float64, len(z.Points))
		for j, p := range z.Points {
			pts[j] = p
		}
		out[i] = dto.Zone{Points: &pts, Label: z.Label}
	}
	c.JSON(http.StatusOK, dto.ZonesResponse{Zones: out})
}
