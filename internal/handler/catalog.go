package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rental/internal/domain"
	"rental/internal/service"
)

// CatalogHandler receives car and role updates from external collaborators.
type CatalogHandler struct {
	catalogService *service.CatalogService
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(catalogService *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalogService: catalogService}
}

// ReportCarBody is a car as listed in the catalog.
type ReportCarBody struct {
	CarID                  int64         `json:"car_id" binding:"required,gt=0"`
	Host                   string        `json:"host" binding:"required"`
	Brand                  string        `json:"brand"`
	Model                  string        `json:"model"`
	YearOfProduction       int           `json:"year_of_production" binding:"omitempty,min=1900"`
	PricePerDayInFiatCents int64         `json:"price_per_day_in_fiat_cents" binding:"required,gt=0"`
	DepositInFiatCents     int64         `json:"deposit_in_fiat_cents" binding:"min=0"`
	Listed                 bool          `json:"listed"`
	Location               *LocationBody `json:"location"`
}

// GrantRoleBody is a role granted by the identity collaborator.
type GrantRoleBody struct {
	Address string `json:"address" binding:"required"`
	Role    string `json:"role" binding:"required,oneof=HOST GUEST MANAGER"`
}

// SearchCarsQuery is the query string of a nearby car search.
type SearchCarsQuery struct {
	Lat         *float64  `form:"lat" binding:"required,min=-90,max=90"`
	Lng         *float64  `form:"lng" binding:"required,min=-180,max=180"`
	RadiusMiles float64   `form:"radius" binding:"min=0"`
	Start       time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End         time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit       int       `form:"limit" binding:"min=0,max=100"`
}

// CarResponse is a car in search results.
type CarResponse struct {
	CarID                  int64         `json:"car_id"`
	Host                   string        `json:"host"`
	Brand                  string        `json:"brand"`
	Model                  string        `json:"model"`
	YearOfProduction       int           `json:"year_of_production"`
	PricePerDayInFiatCents int64         `json:"price_per_day_in_fiat_cents"`
	DepositInFiatCents     int64         `json:"deposit_in_fiat_cents"`
	Location               *LocationBody `json:"location,omitempty"`
	Miles                  float64       `json:"miles"`
}

// SearchCars handles GET /v1/cars/nearby
func (h *CatalogHandler) SearchCars(c *gin.Context) {
	var q SearchCarsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	matches, err := h.catalogService.SearchNearby(c.Request.Context(), service.SearchRequest{
		Lat:           *q.Lat,
		Lng:           *q.Lng,
		RadiusMiles:   q.RadiusMiles,
		StartDateTime: q.Start,
		EndDateTime:   q.End,
		Limit:         q.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]CarResponse, len(matches))
	for i, m := range matches {
		resp[i] = CarResponse{
			CarID:                  m.Car.ID,
			Host:                   m.Car.Host,
			Brand:                  m.Car.Brand,
			Model:                  m.Car.Model,
			YearOfProduction:       m.Car.YearOfProduction,
			PricePerDayInFiatCents: m.Car.PricePerDayInFiatCents,
			DepositInFiatCents:     m.Car.DepositInFiatCents,
			Miles:                  m.Miles,
		}
		if loc := m.Car.Location; loc != nil {
			resp[i].Location = &LocationBody{Lat: loc.Lat, Lng: loc.Lng}
		}
	}
	respondJSON(c, http.StatusOK, resp)
}

// ReportCar handles PUT /v1/cars
func (h *CatalogHandler) ReportCar(c *gin.Context) {
	var req ReportCarBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	car := &domain.Car{
		ID:                     req.CarID,
		Host:                   req.Host,
		Brand:                  req.Brand,
		Model:                  req.Model,
		YearOfProduction:       req.YearOfProduction,
		PricePerDayInFiatCents: req.PricePerDayInFiatCents,
		DepositInFiatCents:     req.DepositInFiatCents,
		Listed:                 req.Listed,
		Location:               req.Location.location(),
	}
	if err := h.catalogService.ReportCar(c.Request.Context(), caller(c), car); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GrantRole handles POST /v1/roles
func (h *CatalogHandler) GrantRole(c *gin.Context) {
	var req GrantRoleBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.catalogService.GrantRole(c.Request.Context(), caller(c), req.Address, domain.Role(req.Role)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
