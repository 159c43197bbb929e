package loyalty

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/errs"
	"github.com/dogdollars/loyalty/internal/models"
	"github.com/dogdollars/loyalty/pkg/response"
)

// Handler serves the synchronous event endpoints and the admin code listing.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a loyalty handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// StatusFor maps an engine error to an HTTP status. Partial issuance is reported with 200 and
// success=false so callers read the codes that were issued.
func StatusFor(err error) int {
	switch errs.CodeOf(err) {
	case "":
		return http.StatusOK
	case errs.CodeValidation:
		return http.StatusBadRequest
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodePartialFailure, errs.CodeAlreadyRedeemed:
		return http.StatusOK
	case errs.CodeStoreUnavailable, errs.CodeConflict, errs.CodeGenerationFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Earn handles POST /events/earn.
func (h *Handler) Earn(c *gin.Context) {
	var req models.EarnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Event(c, http.StatusBadRequest, models.EarnResponse{NewCodes: []models.IssuedCode{}, Error: "invalid request: " + err.Error()})
		return
	}
	resp, err := h.svc.OnEarn(c.Request.Context(), req)
	if err != nil && StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("earn event failed", zap.String("customer_id", req.CustomerID), zap.String("order_id", req.OrderID), zap.Error(err))
	}
	response.Event(c, StatusFor(err), resp)
}

// Redeem handles POST /events/redeem.
func (h *Handler) Redeem(c *gin.Context) {
	var req models.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Event(c, http.StatusBadRequest, models.RedeemResponse{Error: "invalid request: " + err.Error()})
		return
	}
	resp, err := h.svc.OnRedeem(c.Request.Context(), req)
	if err != nil && StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("redeem event failed", zap.String("customer_id", req.CustomerID), zap.Error(err))
	}
	response.Event(c, StatusFor(err), resp)
}

// GenerateCode handles POST /generate-code, the storefront's original combined earn call.
func (h *Handler) GenerateCode(c *gin.Context) {
	var req models.GenerateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Event(c, http.StatusBadRequest, models.GenerateCodeResponse{
			Codes:    []string{},
			NewCodes: []models.IssuedCode{},
			Error:    "invalid request: " + err.Error(),
		})
		return
	}
	resp, err := h.svc.GenerateCode(c.Request.Context(), req)
	if err != nil && StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("generate-code failed", zap.String("customer_id", req.CustomerID.String()), zap.Error(err))
	}
	response.Event(c, StatusFor(err), resp)
}

// CustomerCodes handles GET /customers/:id/codes.
func (h *Handler) CustomerCodes(c *gin.Context) {
	summary, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch StatusFor(err) {
		case http.StatusBadRequest:
			response.BadRequest(c, err.Error())
		case http.StatusServiceUnavailable:
			h.logger.Error("customer codes lookup failed", zap.String("customer_id", c.Param("id")), zap.Error(err))
			response.ServiceUnavailable(c, "record store unavailable")
		default:
			h.logger.Error("customer codes lookup failed", zap.String("customer_id", c.Param("id")), zap.Error(err))
			response.Internal(c, "failed to load customer codes")
		}
		return
	}
	response.OK(c, summary)
}
