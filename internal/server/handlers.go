package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/illustra-ai/illustra/internal/models"
	"github.com/illustra-ai/illustra/internal/service"
)

func userFromContext(r *http.Request) *models.User {
	user, _ := r.Context().Value(userContextKey).(*models.User)
	return user
}

type userResponse struct {
	ID               string                 `json:"id"`
	Email            string                 `json:"email"`
	FirstName        string                 `json:"firstName"`
	LastName         string                 `json:"lastName"`
	RemainingCredits int                    `json:"remainingCredits"`
	BillingAddress   *models.BillingAddress `json:"billingAddress,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:               u.ID,
		Email:            u.Email,
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		RemainingCredits: u.RemainingCredits,
		BillingAddress:   u.BillingAddress,
		CreatedAt:        u.CreatedAt,
	}
}

type requestOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.auth.RequestCode(r.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrInvalidEmail) {
			s.badRequest(w, err)
			return
		}
		s.internalError(w, err)
		return
	}
	// Identical response for known and unknown addresses.
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "code sent"})
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	session, user, err := s.auth.VerifyCode(r.Context(), req.Email, req.Code)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCode) || errors.Is(err, service.ErrInvalidEmail) {
			s.writeError(w, http.StatusUnauthorized, "invalid or expired code")
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token":     session.Token,
		"expiresAt": session.ExpiresAt,
		"user":      toUserResponse(user),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type generateRequest struct {
	Prompt         string `json:"prompt" validate:"required"`
	Style          string `json:"style"`
	ColorMode      string `json:"colorMode" validate:"omitempty,oneof=color blackAndWhite pastel"`
	OutputCount    int    `json:"outputCount" validate:"omitempty,min=1,max=4"`
	ReferenceImage string `json:"referenceImage"`
	Template       string `json:"template"`
}

type generatedImagePayload struct {
	ID       string `json:"id"`
	MimeType string `json:"mimeType"`
	Base64   string `json:"base64"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	var req generateRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}

	outputs, genErr := s.generation.Generate(r.Context(), user, service.GenerationRequest{
		Prompt:         req.Prompt,
		Style:          req.Style,
		ColorMode:      models.ColorMode(req.ColorMode),
		OutputCount:    req.OutputCount,
		ReferenceImage: req.ReferenceImage,
		Template:       req.Template,
	})
	if genErr != nil && len(outputs) == 0 {
		if errors.Is(genErr, service.ErrCreditsRequired) {
			s.writeError(w, http.StatusBadRequest, genErr.Error())
			return
		}
		// The upstream failure reason is surfaced so the client can show it;
		// there is no automatic retry.
		s.log.Error("generation failed", "user_id", user.ID, "err", genErr)
		s.writeError(w, http.StatusInternalServerError, genErr.Error())
		return
	}

	images := make([]generatedImagePayload, 0, len(outputs))
	for _, out := range outputs {
		images = append(images, generatedImagePayload{
			ID:       out.ID,
			MimeType: out.MimeType,
			Base64:   out.Base64,
		})
	}

	response := map[string]any{"images": images}
	if genErr != nil {
		// A later output failed after earlier ones were committed; those
		// stay available and the client is told the batch is short.
		s.log.Warn("partial generation batch", "user_id", user.ID, "delivered", len(outputs), "err", genErr)
		response["partial"] = true
	}
	if fresh, err := s.users.Get(r.Context(), user.ID); err == nil && fresh != nil {
		response["remainingCredits"] = fresh.RemainingCredits
	}
	s.writeJSON(w, http.StatusOK, response)
}

type billingDetailsRequest struct {
	PlanID         string                 `json:"planId" validate:"required"`
	BillingAddress *models.BillingAddress `json:"billingAddress" validate:"omitempty"`
}

func (s *Server) handleBillingDetails(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	var req billingDetailsRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if req.BillingAddress != nil {
		if err := s.validate.Struct(req.BillingAddress); err != nil {
			s.badRequest(w, err)
			return
		}
	}

	result, err := s.billing.Checkout(r.Context(), user, req.PlanID, req.BillingAddress)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPlanNotFound), errors.Is(err, service.ErrPlanNotPayable), errors.Is(err, service.ErrBillingRequired):
			s.badRequest(w, err)
		default:
			// Provider failures surface their upstream message, same as
			// the generate route; there is no automatic retry.
			s.log.Error("checkout failed", "user_id", user.ID, "err", err)
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"paymentId":   result.PaymentID,
		"paymentLink": result.PaymentLink,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	s.writeJSON(w, http.StatusOK, toUserResponse(user))
}

type updateUserRequest struct {
	FirstName string `json:"firstName" validate:"omitempty,max=100"`
	LastName  string `json:"lastName" validate:"omitempty,max=100"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	var req updateUserRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	updated, err := s.users.UpdateProfile(r.Context(), user.ID, req.FirstName, req.LastName)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toUserResponse(updated))
}

type imageResponse struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	Style     string    `json:"style,omitempty"`
	ColorMode string    `json:"colorMode,omitempty"`
	ImageURL  string    `json:"imageUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleFetchImageList(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	images, err := s.generation.ListForUser(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	payload := make([]imageResponse, 0, len(images))
	for _, img := range images {
		payload = append(payload, imageResponse{
			ID:        img.ID,
			Prompt:    img.Prompt,
			Style:     img.Style,
			ColorMode: string(img.ColorMode),
			ImageURL:  img.ImageURL,
			CreatedAt: img.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"images": payload})
}

func (s *Server) handleRandomImages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	urls, err := s.generation.RecentURLs(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"images": urls})
}

type transactionResponse struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	Tax       int64     `json:"tax"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	PaymentID string    `json:"paymentId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)

	txs, err := s.users.Transactions(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	payload := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		payload = append(payload, transactionResponse{
			ID:        tx.ID,
			Amount:    tx.AmountCents,
			Tax:       tx.TaxCents,
			Currency:  tx.Currency,
			Status:    string(tx.Status),
			PaymentID: tx.DodoPaymentID,
			CreatedAt: tx.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transactions": payload})
}

type planResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	TokenLimit    int    `json:"tokenLimit"`
	DodoProductID string `json:"dodoProductId,omitempty"`
	IsActive      bool   `json:"isActive"`
	IsPopular     bool   `json:"isPopular"`
}

func toPlanResponses(plans []models.SubscriptionPlan, includeProduct bool) []planResponse {
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		resp := planResponse{
			ID:         p.ID,
			Name:       p.Name,
			Price:      p.PriceCents,
			TokenLimit: p.TokenLimit,
			IsActive:   p.IsActive,
			IsPopular:  p.IsPopular,
		}
		if includeProduct {
			resp.DodoProductID = p.DodoProductID
		}
		out = append(out, resp)
	}
	return out
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.ListActive(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"plans": toPlanResponses(plans, false)})
}

// handleWebhook receives Dodo payment deliveries. It always answers 200 so
// the provider does not retry deliveries we have already classified; any
// processing failure is logged and reconciled from the provider's records.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.log.Error("read webhook body", "err", err)
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	err = s.webhooks.Process(
		r.Context(),
		body,
		r.Header.Get("webhook-id"),
		r.Header.Get("webhook-signature"),
		r.Header.Get("webhook-timestamp"),
	)
	if err != nil {
		s.log.Error("webhook processing failed", "err", err)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type planRequest struct {
	Name          string `json:"name" validate:"required"`
	Price         int64  `json:"price" validate:"min=0"`
	TokenLimit    int    `json:"tokenLimit" validate:"required,min=1"`
	DodoProductID string `json:"dodoProductId"`
	IsActive      bool   `json:"isActive"`
	IsPopular     bool   `json:"isPopular"`
}

func (s *Server) handleAdminListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPlanResponses(plans, true))
}

func (s *Server) handleAdminCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	plan, err := s.plans.Create(r.Context(), &models.SubscriptionPlan{
		Name:          req.Name,
		PriceCents:    req.Price,
		TokenLimit:    req.TokenLimit,
		DodoProductID: req.DodoProductID,
		IsActive:      req.IsActive,
		IsPopular:     req.IsPopular,
	})
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toPlanResponses([]models.SubscriptionPlan{*plan}, true)[0])
}

func (s *Server) handleAdminUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req planRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	plan, err := s.plans.Update(r.Context(), &models.SubscriptionPlan{
		ID:            id,
		Name:          req.Name,
		PriceCents:    req.Price,
		TokenLimit:    req.TokenLimit,
		DodoProductID: req.DodoProductID,
		IsActive:      req.IsActive,
		IsPopular:     req.IsPopular,
	})
	if err != nil {
		if errors.Is(err, service.ErrPlanNotFound) {
			s.writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPlanResponses([]models.SubscriptionPlan{*plan}, true)[0])
}

func (s *Server) handleAdminDeletePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.plans.Delete(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrPlanNotFound) {
			s.writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
