package catalog

import (
	"net/http"
	"strconv"

	"shiftline-backend/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")
	{
		v1.POST("/products", h.CreateProduct)
		v1.GET("/products", h.ListProducts)
		v1.GET("/products/:id/packings", h.ProductPackings)
		v1.POST("/products/:id/packings/:packing_id", h.LinkProductPacking)
		v1.POST("/packings", h.CreatePacking)
		v1.GET("/packings", h.ListPackings)
		v1.GET("/packings/:id/percentage", h.CalculatePercentage)
	}
}

type createProductRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid product payload", err))
		return
	}

	product, err := h.svc.CreateProduct(c.Request.Context(), req.Name)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.svc.ListProducts(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) ProductPackings(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errutil.BadRequest("invalid product id", err))
		return
	}

	packings, err := h.svc.ProductPackings(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, packings)
}

func (h *Handler) LinkProductPacking(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errutil.BadRequest("invalid product id", err))
		return
	}
	packingID, err := strconv.ParseInt(c.Param("packing_id"), 10, 64)
	if err != nil {
		c.Error(errutil.BadRequest("invalid packing id", err))
		return
	}

	link, err := h.svc.LinkProductPacking(c.Request.Context(), productID, packingID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, link)
}

type createPackingRequest struct {
	Value float64 `json:"value" binding:"required"`
	Norm  int     `json:"norm" binding:"required"`
}

func (h *Handler) CreatePacking(c *gin.Context) {
	var req createPackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid packing payload", err))
		return
	}

	packing, err := h.svc.CreatePacking(c.Request.Context(), req.Value, req.Norm)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, packing)
}

func (h *Handler) ListPackings(c *gin.Context) {
	packings, err := h.svc.ListPackings(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, packings)
}

func (h *Handler) CalculatePercentage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errutil.BadRequest("invalid packing id", err))
		return
	}

	target, err := strconv.ParseFloat(c.Query("target"), 64)
	if err != nil {
		c.Error(errutil.BadRequest("target must be a valid number", err))
		return
	}

	result, err := h.svc.CalculatePercentage(c.Request.Context(), id, target)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
