package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CUknot/locshare/middleware"
	"github.com/CUknot/locshare/models"
)

type PositionInput struct {
	Latitude  *float64 `json:"latitude" binding:"required" example:"40.4168"`
	Longitude *float64 `json:"longitude" binding:"required" example:"-3.7038"`
}

type MarkerInput struct {
	Latitude    *float64 `json:"latitude" binding:"required" example:"40.4168"`
	Longitude   *float64 `json:"longitude" binding:"required" example:"-3.7038"`
	Name        string   `json:"name" binding:"required" example:"Lunch"`
	Description string   `json:"description" example:"Table for six"`
}

// ListLocations godoc
// @Summary Room snapshot
// @Description Every location of the room newest first, plus the grouped view
// @Tags locations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} map[string]interface{} "locations and grouped"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms/{id}/locations [get]
func (h *Handler) ListLocations(c *gin.Context) {
	records, err := h.locations.ListByRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"locations": records,
		"grouped":   models.Group(records),
	})
}

// UpdatePosition godoc
// @Summary Update the caller's live position
// @Description Creates the live position on first use and overwrites it afterwards
// @Tags locations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param position body PositionInput true "Coordinates"
// @Success 200 {object} map[string]interface{} "Live position"
// @Failure 400 {object} map[string]string "Invalid coordinates"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms/{id}/position [put]
func (h *Handler) UpdatePosition(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var input PositionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	loc, err := h.locations.UpsertLivePosition(c.Request.Context(), c.Param("id"), user.ID, user.Username, *input.Latitude, *input.Longitude)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": loc})
}

// AddMarker godoc
// @Summary Add a custom marker
// @Tags locations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Param marker body MarkerInput true "Marker"
// @Success 201 {object} map[string]interface{} "Marker created"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms/{id}/markers [post]
func (h *Handler) AddMarker(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var input MarkerInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	loc, err := h.locations.AddMarker(c.Request.Context(), c.Param("id"), user.ID, user.Username,
		*input.Latitude, *input.Longitude, input.Name, input.Description)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"location": loc})
}

// DeleteLocation godoc
// @Summary Delete a location
// @Description Only the author of a location may delete it
// @Tags locations
// @Produce json
// @Security BearerAuth
// @Param id path string true "Location ID"
// @Success 200 {object} map[string]string "Location deleted"
// @Failure 403 {object} map[string]string "Not the author"
// @Failure 404 {object} map[string]string "Location not found"
// @Router /api/locations/{id} [delete]
func (h *Handler) DeleteLocation(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	if err := h.locations.DeleteLocation(c.Request.Context(), c.Param("id"), user.ID); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Location deleted successfully"})
}
