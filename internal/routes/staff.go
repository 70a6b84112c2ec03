package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/afritokeni/afritokeni/internal/admin"
	"github.com/afritokeni/afritokeni/internal/agent"
	"github.com/afritokeni/afritokeni/internal/identity"
	"github.com/afritokeni/afritokeni/internal/middleware"
	"github.com/afritokeni/afritokeni/internal/wallet"
)

// RegisterStaffRoutes wires the role-gated agent and admin endpoints. r must
// already authenticate the caller.
func RegisterStaffRoutes(r fiber.Router, s *Services) {
	users := identity.NewHandler(s.Users)
	r.Get("/me", users.Me)

	desk := agent.NewHandler(s.Agents, s.Users)
	agents := r.Group("/agent", middleware.RequireRole(identity.RoleAgent, identity.RoleAdmin))
	agents.Post("/deposits/confirm", desk.ConfirmDeposit)
	agents.Post("/withdrawals/confirm", desk.ConfirmWithdrawal)
	agents.Post("/escrows/confirm", desk.ConfirmEscrow)
	agents.Get("/requests", desk.List)

	admins := r.Group("/admin", middleware.RequireRole(identity.RoleAdmin))
	admins.Get("/users", users.List)
	admins.Post("/users/:phone/role", users.SetRole)
	admins.Get("/stats", admin.NewHandler(s.Admin).Stats)
	admins.Get("/wallets/:walletId", wallet.NewHandler(s.Wallets).Summary)
}
