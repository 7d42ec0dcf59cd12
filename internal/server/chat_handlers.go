package server

import (
	"plaza/internal/models"
	"plaza/internal/moderation"
	"plaza/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SendMessageRequest is the body of POST /api/chat/messages.
type SendMessageRequest struct {
	Text      string `json:"text"`
	ReplyToID *uint  `json:"reply_to_id,omitempty"`
	Mentions  []uint `json:"mentions,omitempty"`
}

// ToggleReactionRequest is the body of POST /api/chat/messages/:id/reactions.
type ToggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

// ListMessages handles GET /api/chat/messages
func (s *Server) ListMessages(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", service.DefaultPageSize)
	before := c.QueryInt("before", 0)
	if before < 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid before cursor"))
	}

	messages, err := s.chatService.ListMessages(c.UserContext(), limit, uint(before))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(toResponses(messages))
}

// SendMessage handles POST /api/chat/messages
func (s *Server) SendMessage(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return nil
	}

	var req SendMessageRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	msg, err := s.chatService.SendMessage(c.UserContext(), actor, service.SendMessageInput{
		Text:      req.Text,
		ReplyToID: req.ReplyToID,
		Mentions:  req.Mentions,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(moderation.ToResponse(msg))
}

// GetMessage handles GET /api/chat/messages/:id
func (s *Server) GetMessage(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	msg, err := s.chatService.GetMessage(c.UserContext(), id)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(moderation.ToResponse(msg))
}

// ToggleReaction handles POST /api/chat/messages/:id/reactions
func (s *Server) ToggleReaction(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return nil
	}
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}

	var req ToggleReactionRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	counts, err := s.chatService.ToggleReaction(c.UserContext(), actor, id, req.Emoji)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{
		"message_id": id,
		"reactions":  counts,
	})
}

// GetPinnedMessage handles GET /api/chat/pinned
func (s *Server) GetPinnedMessage(c *fiber.Ctx) error {
	msg, err := s.chatService.GetPinnedMessage(c.UserContext())
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	if msg == nil {
		return c.JSON(fiber.Map{"message": nil})
	}
	return c.JSON(fiber.Map{"message": moderation.ToResponse(msg)})
}

// GetMyStatus handles GET /api/chat/me
func (s *Server) GetMyStatus(c *fiber.Ctx) error {
	actor, err := identity(c)
	if err != nil {
		return nil
	}

	status, err := s.chatService.GetUserStatus(c.UserContext(), actor.UserID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(status)
}

// GetSettings handles GET /api/chat/settings
func (s *Server) GetSettings(c *fiber.Ctx) error {
	settings, err := s.chatService.GetSettings(c.UserContext())
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(settings)
}
