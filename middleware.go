package accesskit

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// RequirePermission provides Fiber middleware gating a route on a permission
// key. Denials are audited like any other decision.
func (s *Service) RequirePermission(key string, fallbackRoles ...Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, _, ok := s.session.Snapshot(); !ok {
			return fiber.NewError(fiber.StatusUnauthorized, ErrNotLoggedIn.Error())
		}
		if !s.HasPermission(c.UserContext(), key, fallbackRoles...) {
			return fiber.NewError(fiber.StatusForbidden, fmt.Sprintf("missing permission %s", key))
		}
		return c.Next()
	}
}

// RequireSection gates a route on section visibility, matching what the
// navigation shows.
func (s *Service) RequireSection(section string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resolver, ok := s.Resolver(c.UserContext())
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, ErrNotLoggedIn.Error())
		}
		spec, exists := s.sections[section]
		if !exists {
			return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown section %s", section))
		}
		if !resolver.HasAnyPermission(spec.Keys, spec.FallbackRoles...) {
			return fiber.NewError(fiber.StatusForbidden, fmt.Sprintf("section %s not visible", section))
		}
		return c.Next()
	}
}
