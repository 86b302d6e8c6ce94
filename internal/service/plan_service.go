package service

import (
	"github.com/shopspring/decimal"

	"github.com/digkill/BananaStudio/internal/models"
)

// PlanCatalog is the fixed list of purchasable credit packs.
type PlanCatalog struct {
	plans []models.Plan
}

func NewPlanCatalog() *PlanCatalog {
	return &PlanCatalog{plans: []models.Plan{
		{ID: models.PlanTrial, Title: "Trial Plan", Price: decimal.RequireFromString("1.00"), Currency: "USD", Credits: 60},
		{ID: models.PlanStarter, Title: "Starter Plan", Price: decimal.RequireFromString("9.99"), Currency: "USD", Credits: 450},
		{ID: models.PlanPro, Title: "Pro Plan", Price: decimal.RequireFromString("49.99"), Currency: "USD", Credits: 2400},
		{ID: models.PlanUltra, Title: "Ultra Plan", Price: decimal.RequireFromString("129.99"), Currency: "USD", Credits: 6500},
	}}
}

func (c *PlanCatalog) List() []models.Plan {
	out := make([]models.Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Get looks a plan up by id or by title ("Pro Plan").
func (c *PlanCatalog) Get(id string) (models.Plan, bool) {
	for _, p := range c.plans {
		if string(p.ID) == id || p.Title == id {
			return p, true
		}
	}
	return models.Plan{}, false
}
