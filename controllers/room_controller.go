package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/CUknot/locshare/middleware"
)

type CreateRoomInput struct {
	Name string `json:"name" binding:"required" example:"Trip"`
}

type JoinRoomInput struct {
	Code string `json:"code" binding:"required" example:"K3F9QZ"`
}

// CreateRoom godoc
// @Summary Create a room
// @Description Creates a room owned by the caller with a fresh 6 character join code. The owner is not added as a member.
// @Tags rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param room body CreateRoomInput true "Room Creation"
// @Success 201 {object} map[string]interface{} "Room created"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms [post]
func (h *Handler) CreateRoom(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var input CreateRoomInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), input.Name, user.ID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"room": room})
}

// GetOwnedRooms godoc
// @Summary Rooms created by the caller
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "List of rooms, newest first"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /api/rooms/owned [get]
func (h *Handler) GetOwnedRooms(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	rooms, err := h.members.ListOwned(c.Request.Context(), user.ID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetJoinedRooms godoc
// @Summary Rooms the caller has joined
// @Description Each room is listed once however many times it was joined
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{} "List of rooms, newest first"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Router /api/rooms/joined [get]
func (h *Handler) GetJoinedRooms(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	rooms, err := h.members.ListJoined(c.Request.Context(), user.ID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// JoinRoom godoc
// @Summary Join a room by code
// @Tags rooms
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param join body JoinRoomInput true "Join code"
// @Success 200 {object} map[string]interface{} "Joined room"
// @Failure 400 {object} map[string]string "Invalid input"
// @Failure 404 {object} map[string]string "Unknown code"
// @Router /api/rooms/join [post]
func (h *Handler) JoinRoom(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	var input JoinRoomInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.members.JoinByCode(c.Request.Context(), input.Code, user.ID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// GetRoomByCode godoc
// @Summary Resolve a join code
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param code path string true "Join code, any case"
// @Success 200 {object} map[string]interface{} "Room"
// @Failure 404 {object} map[string]string "Unknown code"
// @Router /api/rooms/code/{code} [get]
func (h *Handler) GetRoomByCode(c *gin.Context) {
	room, err := h.rooms.ResolveCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// GetRoom godoc
// @Summary Get a room
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} map[string]interface{} "Room"
// @Failure 404 {object} map[string]string "Room not found"
// @Router /api/rooms/{id} [get]
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.rooms.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// DeleteRoom godoc
// @Summary Delete a room
// @Description Owner only. Removes memberships, then locations, then the room.
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} map[string]string "Room deleted"
// @Failure 403 {object} map[string]string "Not the owner"
// @Failure 404 {object} map[string]string "Room not found"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms/{id} [delete]
func (h *Handler) DeleteRoom(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	if err := h.rooms.DeleteRoom(c.Request.Context(), c.Param("id"), user.ID); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted successfully"})
}

// LeaveRoom godoc
// @Summary Leave a room
// @Description Removes the caller's live position and markers from the room. The membership is kept.
// @Tags rooms
// @Produce json
// @Security BearerAuth
// @Param id path string true "Room ID"
// @Success 200 {object} map[string]string "Left room"
// @Failure 500 {object} map[string]string "Server error"
// @Router /api/rooms/{id}/leave [post]
func (h *Handler) LeaveRoom(c *gin.Context) {
	user, _ := middleware.CurrentUser(c)

	if err := h.members.Leave(c.Request.Context(), c.Param("id"), user.ID); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left room"})
}
