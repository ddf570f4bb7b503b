package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/lifeblox/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	messageStockAdded      = "Blood stock added successfully"
	messageStockUpdated    = "Blood stock updated successfully"
	messageStockDeleted    = "Blood stock deleted successfully"
	messageBankRegistered  = "Blood bank registered successfully"
	messageLoginSucceeded  = "Login successful"
	messageSweepCompleted  = "Expired stock removed"
	messageRequestAccepted = "ok"
)

func (handler *Handler) handleAvailability(ctx *gin.Context) {
	filter, err := ledger.NewAvailabilityFilter(
		ctx.Query("bloodComponent"),
		normalizeBloodTypeQuery(ctx.Query("bloodType")),
		ctx.Query("city"),
	)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	matches, err := handler.service.QueryAvailability(requestCtx, filter)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	banks := make([]availabilityPayload, 0, len(matches))
	for _, match := range matches {
		banks = append(banks, newAvailabilityPayload(match))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    messageRequestAccepted,
		"bloodBanks": banks,
	})
}

func (handler *Handler) handleRegister(ctx *gin.Context) {
	var request registerRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondError(ctx, fmt.Errorf("%w: expected JSON body", ledger.ErrInvalidProfile))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, err := handler.service.RegisterBank(requestCtx, ledger.Registration{
		Profile: ledger.Profile{
			Name:          request.BloodBankName,
			Hospital:      request.HospitalName,
			Category:      request.Category,
			ContactPerson: request.ContactPerson,
			Email:         request.Email,
			ContactNo:     request.ContactNo,
			LicenseNo:     request.LicenseNo,
			Address:       request.Address,
			Pincode:       request.Pincode,
			City:          ledger.City(request.City),
		},
		Password: request.Password,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"message":  messageBankRegistered,
		"bankId":   account.ID.String(),
		"bankInfo": account.PublicInfo(),
	})
}

func (handler *Handler) handleLogin(ctx *gin.Context) {
	var request loginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondError(ctx, malformedBody(err))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bankID, err := handler.service.AuthenticateBank(requestCtx, request.Email, request.Password)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": messageLoginSucceeded,
		"bankId":  bankID.String(),
	})
}

func (handler *Handler) handleListStock(ctx *gin.Context) {
	bankID, ok := handler.sessionBankID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	view, err := handler.service.AccountView(requestCtx, bankID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	batches := make([]stockPayload, 0, len(view.Batches))
	for _, batch := range view.Batches {
		batches = append(batches, newStockPayload(batch))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":            true,
		"message":            messageRequestAccepted,
		"bankInfo":           view.Info,
		"bloodStock":         view.Summary,
		"detailedBloodStock": batches,
	})
}

func (handler *Handler) handleAddStock(ctx *gin.Context) {
	bankID, ok := handler.sessionBankID(ctx)
	if !ok {
		return
	}
	var request addStockRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondError(ctx, malformedBody(err))
		return
	}
	units, err := request.Units.parse()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	expiresAt, err := ledger.ParseExpiry(request.ExpiryDate)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	input, err := ledger.NewStockInput(request.BloodComponent, request.BloodType, request.City, units.Int64(), expiresAt)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	batch, err := handler.service.AddStock(requestCtx, bankID, input)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": messageStockAdded,
		"stock":   newStockPayload(batch),
	})
}

func (handler *Handler) handleUpdateStock(ctx *gin.Context) {
	bankID, ok := handler.sessionBankID(ctx)
	if !ok {
		return
	}
	batchID, err := ledger.NewBatchID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	var request updateStockRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		handler.respondError(ctx, malformedBody(err))
		return
	}
	units, err := request.Units.parse()
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	expiresAt, err := ledger.ParseExpiry(request.ExpiryDate)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	batch, err := handler.service.UpdateStock(requestCtx, bankID, batchID, units, expiresAt)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": messageStockUpdated,
		"stock":   newStockPayload(batch),
	})
}

func (handler *Handler) handleDeleteStock(ctx *gin.Context) {
	bankID, ok := handler.sessionBankID(ctx)
	if !ok {
		return
	}
	batchID, err := ledger.NewBatchID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.service.DeleteStock(requestCtx, bankID, batchID); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, ledger.NewResult(nil, messageStockDeleted))
}

func (handler *Handler) handleStats(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	stats, err := handler.service.Stats(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        messageRequestAccepted,
		"bloodBanks":     stats.BloodBanks,
		"totalUnits":     stats.TotalUnits,
		"unitsByType":    stats.UnitsByType,
		"mostNeededType": stats.MostNeededType,
	})
}

func (handler *Handler) handleSweep(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	report, err := handler.service.SweepExpired(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         messageSweepCompleted,
		"accountsScanned": report.AccountsScanned,
		"accountsUpdated": report.AccountsUpdated,
		"batchesRemoved":  report.BatchesRemoved,
	})
}

func (handler *Handler) sessionBankID(ctx *gin.Context) (ledger.BankID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		abortWithResult(ctx, ledger.ErrUnauthorized)
		return ledger.BankID{}, false
	}
	bankID, err := ledger.NewBankID(claims.GetUserID())
	if err != nil {
		abortWithResult(ctx, fmt.Errorf("%w: session carries no bank id", ledger.ErrUnauthorized))
		return ledger.BankID{}, false
	}
	return bankID, true
}

func (handler *Handler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.timeout)
}

func (handler *Handler) respondError(ctx *gin.Context, err error) {
	result := ledger.NewResult(err, "")
	if result.Category == ledger.CategoryInternal {
		handler.logger.Error("request failed", zap.String("route", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(statusFor(result.Category), result)
}

func malformedBody(err error) error {
	return fmt.Errorf("%w: %v", ledger.ErrInvalidRequest, err)
}

// normalizeBloodTypeQuery restores a "+" that form decoding turned into a space.
func normalizeBloodTypeQuery(raw string) string {
	trimmed := strings.TrimLeft(raw, " ")
	if strings.HasSuffix(trimmed, " ") {
		return strings.TrimSpace(trimmed) + "+"
	}
	return trimmed
}

// unitsValue accepts units as a JSON number or a numeric string.
type unitsValue struct {
	raw string
}

func (value *unitsValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		value.raw = text
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return err
	}
	value.raw = number.String()
	return nil
}

func (value unitsValue) parse() (ledger.Units, error) {
	return ledger.ParseUnits(value.raw)
}

type registerRequest struct {
	BloodBankName string `json:"bloodBankName"`
	HospitalName  string `json:"hospitalName"`
	Category      string `json:"category"`
	ContactPerson string `json:"contactPerson"`
	Email         string `json:"email"`
	ContactNo     string `json:"contactNo"`
	LicenseNo     string `json:"licenseNo"`
	Address       string `json:"address"`
	Pincode       string `json:"pincode"`
	City          string `json:"city"`
	Password      string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type addStockRequest struct {
	BloodComponent string     `json:"bloodComponent"`
	BloodType      string     `json:"bloodType"`
	City           string     `json:"city"`
	Units          unitsValue `json:"units"`
	ExpiryDate     string     `json:"expiryDate"`
}

type updateStockRequest struct {
	Units      unitsValue `json:"units"`
	ExpiryDate string     `json:"expiryDate"`
}

type stockPayload struct {
	ID             string    `json:"id"`
	BloodComponent string    `json:"bloodComponent"`
	BloodType      string    `json:"bloodType"`
	City           string    `json:"city"`
	Units          int64     `json:"units"`
	ExpiryDate     time.Time `json:"expiryDate"`
	AddedAt        time.Time `json:"addedAt"`
}

func newStockPayload(batch ledger.StockBatch) stockPayload {
	return stockPayload{
		ID:             batch.ID.String(),
		BloodComponent: batch.Component.String(),
		BloodType:      batch.BloodType.String(),
		City:           batch.City.String(),
		Units:          batch.Units.Int64(),
		ExpiryDate:     batch.ExpiresAt.UTC(),
		AddedAt:        batch.AddedAt.UTC(),
	}
}

type availabilityPayload struct {
	ledger.PublicInfo
	TotalUnits int64          `json:"totalUnits"`
	Stock      []stockPayload `json:"stock"`
}

func newAvailabilityPayload(match ledger.AvailabilityMatch) availabilityPayload {
	payload := availabilityPayload{PublicInfo: match.Bank, Stock: make([]stockPayload, 0, len(match.Batches))}
	for _, batch := range match.Batches {
		payload.TotalUnits += batch.Units.Int64()
		payload.Stock = append(payload.Stock, newStockPayload(batch))
	}
	return payload
}
