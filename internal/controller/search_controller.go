package controller

import (
	"github.com/gofiber/fiber/v2"

	"sales-intel-be/internal/dto"
	"sales-intel-be/internal/pkg/serverutils"
	"sales-intel-be/internal/service"
)

type ISearchController interface {
	RegisterRoutes(r fiber.Router)
	Start(ctx *fiber.Ctx) error
	GetState(ctx *fiber.Ctx) error
	GetSelection(ctx *fiber.Ctx) error
	Cancel(ctx *fiber.Ctx) error
	Reset(ctx *fiber.Ctx) error
}

type searchController struct {
	service   service.ISearchService
	jwtSecret string
}

func NewSearchController(service service.ISearchService, jwtSecret string) ISearchController {
	return &searchController{service: service, jwtSecret: jwtSecret}
}

func (c *searchController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/search")
	h.Use(serverutils.JwtMiddleware(c.jwtSecret))
	h.Post("/", c.Start)
	h.Get("/", c.GetState)
	h.Get("/selection", c.GetSelection)
	h.Post("/cancel", c.Cancel)
	h.Delete("/", c.Reset)
}

// Start begins a search for the signed-in user, superseding any running
// one. A blank query is not an error: nothing starts and started is false.
func (c *searchController) Start(ctx *fiber.Ctx) error {
	userID, ok := serverutils.UserID(ctx)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "Unauthorized"))
	}

	var req dto.StartSearchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}
	if err := serverutils.ValidateStruct(req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
	}

	res, err := c.service.Start(ctx.UserContext(), userID, &req)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(serverutils.ErrorResponse(500, err.Error()))
	}
	if !res.Started {
		return ctx.JSON(serverutils.SuccessResponse("Empty query, nothing started", res))
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.Response[*dto.StartSearchResponse]{
		Success: true,
		Code:    fiber.StatusAccepted,
		Message: "Search started",
		Data:    res,
	})
}

func (c *searchController) GetState(ctx *fiber.Ctx) error {
	userID, ok := serverutils.UserID(ctx)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "Unauthorized"))
	}
	return ctx.JSON(serverutils.SuccessResponse("Search state", c.service.Snapshot(ctx.UserContext(), userID)))
}

func (c *searchController) GetSelection(ctx *fiber.Ctx) error {
	userID, ok := serverutils.UserID(ctx)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "Unauthorized"))
	}
	return ctx.JSON(serverutils.SuccessResponse("Partner selection", c.service.Selection(ctx.UserContext(), userID)))
}

func (c *searchController) Cancel(ctx *fiber.Ctx) error {
	userID, ok := serverutils.UserID(ctx)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "Unauthorized"))
	}
	return ctx.JSON(serverutils.SuccessResponse("Search cancelled", c.service.Cancel(ctx.UserContext(), userID)))
}

func (c *searchController) Reset(ctx *fiber.Ctx) error {
	userID, ok := serverutils.UserID(ctx)
	if !ok {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "Unauthorized"))
	}
	return ctx.JSON(serverutils.SuccessResponse("Search reset", c.service.Reset(ctx.UserContext(), userID)))
}
