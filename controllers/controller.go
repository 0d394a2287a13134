package controllers

import (
	"github.com/CUknot/locshare/identity"
	"github.com/CUknot/locshare/services"
)

// Handler carries the services the HTTP endpoints call into.
type Handler struct {
	rooms     *services.RoomRegistry
	members   *services.MembershipManager
	locations *services.LocationStore
	accounts  *identity.Accounts
	tokens    *identity.JWTProvider
}

func NewHandler(rooms *services.RoomRegistry, members *services.MembershipManager, locations *services.LocationStore, accounts *identity.Accounts, tokens *identity.JWTProvider) *Handler {
	return &Handler{
		rooms:     rooms,
		members:   members,
		locations: locations,
		accounts:  accounts,
		tokens:    tokens,
	}
}
