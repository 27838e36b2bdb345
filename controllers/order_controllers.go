package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-order/middlewares"
	"github.com/yeremiapane/table-order/services"
	"github.com/yeremiapane/table-order/utils"
)

// ExportQueue accepts committed orders for the external export.
type ExportQueue interface {
	Enqueue(p services.ExportPayload) bool
}

type OrderController struct {
	Orders *services.OrderService
	Status *services.StatusService
	Query  *services.OrderQuery
	Export ExportQueue
}

func NewOrderController(orders *services.OrderService, status *services.StatusService, query *services.OrderQuery, export ExportQueue) *OrderController {
	return &OrderController{Orders: orders, Status: status, Query: query, Export: export}
}

// CreateOrder -> place an order in the caller's session
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var in services.CreateOrderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, utils.NewValidationError("invalid request body"))
		return
	}

	created, err := oc.Orders.Create(c.Request.Context(), middlewares.CurrentSession(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	if oc.Export != nil {
		oc.Export.Enqueue(created.Export)
	}
	utils.RespondJSON(c, http.StatusCreated, "Order created", created.Summary)
}

// ListMyOrders -> orders of the caller's session, newest first
func (oc *OrderController) ListMyOrders(c *gin.Context) {
	params, err := listParams(c)
	if err != nil {
		respondError(c, err)
		return
	}
	sessionID := middlewares.CurrentSession(c).ID
	params.SessionID = &sessionID
	params.TableID = nil

	oc.list(c, params)
}

// GetMyOrder -> one order of the caller's session
func (oc *OrderController) GetMyOrder(c *gin.Context) {
	id, err := uintParam(c, "order_id")
	if err != nil {
		respondError(c, err)
		return
	}
	detail, err := oc.Orders.Detail(c.Request.Context(), id, middlewares.CurrentSession(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", detail)
}

// ListOrders -> staff listing with filters
func (oc *OrderController) ListOrders(c *gin.Context) {
	params, err := listParams(c)
	if err != nil {
		respondError(c, err)
		return
	}
	oc.list(c, params)
}

// GetOrder -> staff order detail
func (oc *OrderController) GetOrder(c *gin.Context) {
	id, err := uintParam(c, "order_id")
	if err != nil {
		respondError(c, err)
		return
	}
	detail, err := oc.Orders.Detail(c.Request.Context(), id, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order detail", detail)
}

// UpdateStatus -> apply confirm/start/serve/cancel
func (oc *OrderController) UpdateStatus(c *gin.Context) {
	id, err := uintParam(c, "order_id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, utils.NewValidationError("invalid request body"))
		return
	}

	res, err := oc.Status.Transition(c.Request.Context(), services.TransitionInput{
		OrderID: id,
		Action:  req.Action,
		Reason:  req.Reason,
		Actor:   middlewares.AdminSubject(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order status updated", res)
}

func (oc *OrderController) list(c *gin.Context, params services.ListParams) {
	page, err := oc.Query.List(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of orders", page)
}
