package routes

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/clinicore/accesskit"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type actingAsRequest struct {
	UserID string `json:"user_id"`
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type disabledPatternRequest struct {
	Pattern string `json:"pattern"`
}

// Setup registers the session, permission and console routes.
func Setup(app *fiber.App, svc *accesskit.Service) {
	api := app.Group("/api/v1")

	auth := api.Group("/auth")
	auth.Post("/login", func(c *fiber.Ctx) error {
		var req loginRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		identity, err := svc.Login(c.UserContext(), accesskit.Credentials{Email: req.Email, Password: req.Password})
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		return c.JSON(fiber.Map{
			"identity": identity,
			"token":    svc.Session().Token(),
		})
	})

	auth.Get("/session", func(c *fiber.Ctx) error {
		token := c.Get("Authorization")
		identity, err := svc.LoadSession(c.UserContext(), token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		return c.JSON(fiber.Map{
			"identity":       identity,
			"effective_role": svc.EffectiveRole(),
			"impersonating":  svc.IsImpersonating(),
		})
	})

	auth.Post("/logout", func(c *fiber.Ctx) error {
		if err := svc.Logout(c.UserContext()); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	imp := api.Group("/impersonation")
	imp.Post("/", func(c *fiber.Ctx) error {
		var req actingAsRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid user id")
		}

		acting, err := svc.SetActingAs(c.UserContext(), userID)
		var impErr *accesskit.ImpersonationError
		if errors.As(err, &impErr) {
			// Local fallback applied; report the token failure anyway.
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
				"acting_as": acting,
				"warning":   impErr.Error(),
			})
		}
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(fiber.Map{"acting_as": acting})
	})

	imp.Delete("/", func(c *fiber.Ctx) error {
		if err := svc.ClearActingAs(c.UserContext()); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Get("/permissions/:key", func(c *fiber.Ctx) error {
		granted := svc.HasPermission(c.UserContext(), c.Params("key"))
		return c.JSON(fiber.Map{
			"key":            c.Params("key"),
			"granted":        granted,
			"effective_role": svc.EffectiveRole(),
		})
	})

	api.Get("/sections", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"sections": svc.VisibleSections(c.UserContext())})
	})

	// Platform console write path.
	console := api.Group("/console/clinics/:clinicID")
	console.Put("/roles/:role/permissions", func(c *fiber.Ctx) error {
		clinicID, err := uuid.Parse(c.Params("clinicID"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid clinic id")
		}
		var req rolePermissionsRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		role := accesskit.NormalizeRole(c.Params("role"))
		if err := svc.Store().SaveRolePermissions(c.UserContext(), clinicID, role, req.Permissions); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		svc.InvalidatePermissionCache(c.UserContext(), clinicID)
		return c.SendStatus(fiber.StatusNoContent)
	})

	console.Post("/disabled-permissions", func(c *fiber.Ctx) error {
		clinicID, err := uuid.Parse(c.Params("clinicID"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid clinic id")
		}
		var req disabledPatternRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := svc.Store().DisablePermission(c.UserContext(), clinicID, req.Pattern); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		svc.InvalidatePermissionCache(c.UserContext(), clinicID)
		return c.SendStatus(fiber.StatusNoContent)
	})

	console.Delete("/disabled-permissions", func(c *fiber.Ctx) error {
		clinicID, err := uuid.Parse(c.Params("clinicID"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid clinic id")
		}
		var req disabledPatternRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := svc.Store().EnablePermission(c.UserContext(), clinicID, req.Pattern); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		svc.InvalidatePermissionCache(c.UserContext(), clinicID)
		return c.SendStatus(fiber.StatusNoContent)
	})
}
