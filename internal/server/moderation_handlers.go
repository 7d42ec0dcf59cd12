package server

import (
	"context"

	"plaza/internal/models"
	"plaza/internal/moderation"
	"plaza/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RestrictUserRequest is the body of the mute and ban endpoints. Omitting
// duration_minutes makes the restriction permanent.
type RestrictUserRequest struct {
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// DeleteMessage handles DELETE /api/chat/messages/:id
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return nil
	}
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.chatService.DeleteMessage(c.UserContext(), actor, id); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message_id": id, "deleted": true})
}

// PinMessage handles PUT /api/chat/messages/:id/pin
func (s *Server) PinMessage(c *fiber.Ctx) error {
	return s.setPinned(c, true)
}

// UnpinMessage handles DELETE /api/chat/messages/:id/pin
func (s *Server) UnpinMessage(c *fiber.Ctx) error {
	return s.setPinned(c, false)
}

func (s *Server) setPinned(c *fiber.Ctx, pin bool) error {
	actor, err := identity(c)
	if err != nil {
		return nil
	}
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	msg, err := s.chatService.SetPinned(c.UserContext(), actor, id, pin)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	if msg == nil {
		return c.JSON(fiber.Map{"message_id": id, "pinned": false})
	}
	return c.JSON(moderation.ToResponse(msg))
}

// MuteUser handles POST /api/chat/users/:userId/mute
func (s *Server) MuteUser(c *fiber.Ctx) error {
	return s.restrictUser(c, s.chatService.MuteUser)
}

// BanUser handles POST /api/chat/users/:userId/ban
func (s *Server) BanUser(c *fiber.Ctx) error {
	return s.restrictUser(c, s.chatService.BanUser)
}

// UnmuteUser handles DELETE /api/chat/users/:userId/mute
func (s *Server) UnmuteUser(c *fiber.Ctx) error {
	return s.liftRestriction(c, s.chatService.UnmuteUser)
}

// UnbanUser handles DELETE /api/chat/users/:userId/ban
func (s *Server) UnbanUser(c *fiber.Ctx) error {
	return s.liftRestriction(c, s.chatService.UnbanUser)
}

type restrictFunc func(ctx context.Context, actor service.Identity, userID uint, in service.RestrictionInput) (*models.UserChatState, error)

type liftFunc func(ctx context.Context, actor service.Identity, userID uint) (*models.UserChatState, error)

func (s *Server) restrictUser(c *fiber.Ctx, restrict restrictFunc) error {
	actor, err := identity(c)
	if err != nil {
		return nil
	}
	userID, err := parseID(c, "userId")
	if err != nil {
		return nil
	}

	var req RestrictUserRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	state, err := restrict(c.UserContext(), actor, userID, service.RestrictionInput{
		DurationMinutes: req.DurationMinutes,
		Reason:          req.Reason,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(state)
}

func (s *Server) liftRestriction(c *fiber.Ctx, lift liftFunc) error {
	actor, err := identity(c)
	if err != nil {
		return nil
	}
	userID, err := parseID(c, "userId")
	if err != nil {
		return nil
	}

	state, err := lift(c.UserContext(), actor, userID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(state)
}

// UpdateSettings handles PATCH /api/chat/settings
func (s *Server) UpdateSettings(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return nil
	}

	var patch models.ChatSettingsPatch
	if err := parseBody(c, &patch); err != nil {
		return nil
	}

	settings, err := s.chatService.UpdateSettings(c.UserContext(), actor, patch)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(settings)
}

// GetFeatureFlags handles GET /api/chat/feature-flags
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"flags": s.featureFlags.Raw()})
}
