package escrow

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/escrow/store"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/reject"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	unauthorizedError   = "error.escrow.unauthorized"
	stateMismatchError  = "error.escrow.state-mismatch"
	paymentMismatch     = "error.escrow.payment-mismatch"
	timeoutNotElapsed   = "error.escrow.timeout-not-elapsed"
	invalidArgument     = "error.escrow.invalid-argument"
	configurationError  = "error.escrow.configuration"
	callerAddressAbsent = "error.escrow.caller-address-missing"
	concurrentUpdate    = "error.escrow.concurrent-update"
)

type escrowHandler struct {
	service *Service
	now     func() time.Time
}

// OperationRequest is an invocation submitted over HTTP. Paired transfers are
// only accepted from the invocation bus, where the settlement indexer has
// verified them.
type OperationRequest struct {
	Operation string   `json:"operation" binding:"required"`
	Args      [][]byte `json:"args"`
}

type RecordResponse struct {
	SessionId string              `json:"sessionId"`
	Record    *model.EscrowRecord `json:"record"`
	State     map[string]string   `json:"state"`
}

func RegisterRoutes(rg *gin.RouterGroup, service *Service, auth gin.HandlerFunc) {
	handler := escrowHandler{
		service: service,
		now:     time.Now,
	}

	routes := rg.Group("/escrow")
	routes.GET("/:sessionId", auth, handler.getRecord)
	routes.POST("/:sessionId/operations", auth, handler.invoke)
}

func (eh *escrowHandler) getRecord(c *gin.Context) {
	sessionId := c.Param("sessionId")
	record, err := eh.service.Record(c.Request.Context(), sessionId)
	if errors.Is(err, store.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, reject.NotFoundProblem())
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, reject.UnexpectedProblem(err))
		return
	}

	c.JSON(http.StatusOK, RecordResponse{
		SessionId: sessionId,
		Record:    record,
		State:     record.State(),
	})
}

func (eh *escrowHandler) invoke(c *gin.Context) {
	body := OperationRequest{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, reject.BodyParseProblem())
		return
	}

	caller := utils.GetCaller(c)
	if caller.IsNone() {
		c.JSON(http.StatusForbidden, reject.NewProblem().
			WithTitle("Access token carries no account address").
			WithStatus(http.StatusForbidden).
			WithCode(callerAddressAbsent).
			Build())
		return
	}

	receipt, err := eh.service.Invoke(c.Request.Context(), Invocation{
		Session:   c.Param("sessionId"),
		Operation: body.Operation,
		Args:      body.Args,
		Caller:    caller,
		Timestamp: eh.now().UTC().Unix(),
	})
	if errors.Is(err, ErrReleasePending) {
		c.JSON(http.StatusAccepted, receipt)
		return
	}
	if err != nil {
		problem := escrowProblem(err)
		c.JSON(problem.Status, problem)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

// escrowProblem maps a failed invocation to the problem returned to the client.
func escrowProblem(err error) reject.Problem {
	var status int
	var code, title string

	if errors.Is(err, store.ErrVersionConflict) {
		return reject.NewProblem().
			WithTitle("Escrow record changed concurrently, retry").
			WithStatus(http.StatusConflict).
			WithCode(concurrentUpdate).
			Build()
	}

	switch RejectionKind(err) {
	case ErrUnauthorized:
		status, code, title = http.StatusForbidden, unauthorizedError, "Caller not authorized for operation"
	case ErrStateMismatch:
		status, code, title = http.StatusConflict, stateMismatchError, "Escrow status does not allow operation"
	case ErrPaymentMismatch:
		status, code, title = http.StatusPaymentRequired, paymentMismatch, "Paired transfer missing or wrong"
	case ErrTimeoutNotElapsed:
		status, code, title = http.StatusTooEarly, timeoutNotElapsed, "Timeout has not elapsed"
	case ErrInvalidArgument:
		status, code, title = http.StatusBadRequest, invalidArgument, "Invalid operation arguments"
	case ErrConfiguration:
		log.Error().Err(err).Msg("Escrow configuration error")
		status, code, title = http.StatusInternalServerError, configurationError, "Escrow misconfigured"
	default:
		return reject.UnexpectedProblem(err)
	}

	return reject.NewProblem().
		WithTitle(title).
		WithStatus(status).
		WithCode(code).
		WithDetail(err.Error()).
		WithParam("kind", kindLabel(err)).
		Build()
}
