package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-order/services"
	"github.com/yeremiapane/table-order/utils"
)

type TableController struct {
	Tables *services.TableService
}

func NewTableController(tables *services.TableService) *TableController {
	return &TableController{Tables: tables}
}

// EnsureTable -> find or create a table by label
func (tc *TableController) EnsureTable(c *gin.Context) {
	var in services.EnsureTableInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, utils.NewValidationError("invalid request body"))
		return
	}

	out, err := tc.Tables.EnsureTable(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	code := http.StatusOK
	if out.Created {
		code = http.StatusCreated
	}
	utils.RespondJSON(c, code, "Table ready", out)
}

// RotateQR -> revoke the table's QR token and issue a new one
func (tc *TableController) RotateQR(c *gin.Context) {
	id, err := uintParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req struct {
		TTLMin int `json:"ttl_min"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, utils.NewValidationError("invalid request body"))
			return
		}
	}
	if req.TTLMin < 0 {
		respondError(c, utils.NewValidationError("ttl_min must not be negative"))
		return
	}

	out, err := tc.Tables.RotateToken(c.Request.Context(), id, time.Duration(req.TTLMin)*time.Minute)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "QR token rotated", out)
}

// ListTables -> every table
func (tc *TableController) ListTables(c *gin.Context) {
	tables, err := tc.Tables.ListTables(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of tables", tables)
}

// GetMenu -> products a diner can order
func (tc *TableController) GetMenu(c *gin.Context) {
	products, err := tc.Tables.ActiveMenu(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Menu", products)
}
