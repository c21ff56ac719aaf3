package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/chestscan/internal/auth"
	"github.com/example/chestscan/internal/classifier"
	"github.com/example/chestscan/internal/report"
	"github.com/example/chestscan/internal/repository"
	"github.com/example/chestscan/internal/usecase"
)

// MaxUploadSize caps uploaded X-ray images at 10 MiB.
const MaxUploadSize = 10 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(
	router *gin.Engine,
	predictions *usecase.PredictionUseCase,
	accounts *usecase.AccountUseCase,
	reports *report.Generator,
	authMiddleware gin.HandlerFunc,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/signup", signup(accounts))
	router.POST("/verify", verify(accounts))
	router.POST("/login", login(accounts))

	authed := router.Group("/", authMiddleware)
	authed.POST("/", submit(predictions))
	authed.GET("/dashboard", dashboard(predictions))
	authed.GET("/reports", historyReport(predictions, reports))
	authed.GET("/reports/:id", recordReport(predictions, reports))
	authed.DELETE("/account", deleteAccount(accounts))
}

type predictionResponse struct {
	RecordID     string    `json:"record_id"`
	ImageName    string    `json:"image_name"`
	PatientName  string    `json:"patient_name"`
	PatientEmail string    `json:"patient_email"`
	Label        string    `json:"label"`
	Probability  float32   `json:"probability"`
	CreatedAt    time.Time `json:"created_at"`
}

func toResponse(pred *repository.Prediction) predictionResponse {
	return predictionResponse{
		RecordID:     pred.RecordID,
		ImageName:    pred.ImageName,
		PatientName:  pred.PatientName,
		PatientEmail: pred.PatientEmail,
		Label:        pred.Label,
		Probability:  pred.Probability,
		CreatedAt:    pred.CreatedAt,
	}
}

func submit(predictions *usecase.PredictionUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		if contentType := file.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image uploads are accepted"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		req := usecase.SubmitRequest{
			FileName:     file.Filename,
			ImageBytes:   data,
			PatientName:  c.PostForm("patient_name"),
			PatientEmail: c.PostForm("email"),
		}

		pred, err := predictions.Submit(c.Request.Context(), ownerID, req)
		if err != nil {
			if errors.Is(err, classifier.ErrInvalidImage) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is not a valid image"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
			return
		}

		c.JSON(http.StatusOK, toResponse(pred))
	}
}

func dashboard(predictions *usecase.PredictionUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		summary, err := predictions.Dashboard(c.Request.Context(), ownerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dashboard"})
			return
		}

		recent := make([]predictionResponse, 0, len(summary.Recent))
		for _, pred := range summary.Recent {
			recent = append(recent, toResponse(pred))
		}

		c.JSON(http.StatusOK, gin.H{
			"total":     summary.Total,
			"pneumonia": summary.Pneumonia,
			"normal":    summary.Normal,
			"recent":    recent,
		})
	}
}

func recordReport(predictions *usecase.PredictionUseCase, reports *report.Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		callerID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		recordID := c.Param("id")
		pred, err := predictions.GetRecord(c.Request.Context(), callerID, auth.IsStaff(c.Request.Context()), recordID)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrForbidden):
				c.JSON(http.StatusForbidden, gin.H{"error": "not your record"})
			case errors.Is(err, repository.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
			}
			return
		}

		username := reportOwnerName(c, predictions, pred.OwnerID)
		data, err := reports.Record(pred, username)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate report"})
			return
		}

		servePDF(c, fmt.Sprintf("prediction_%s.pdf", pred.RecordID), data)
	}
}

func historyReport(predictions *usecase.PredictionUseCase, reports *report.Generator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		preds, err := predictions.History(c.Request.Context(), ownerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}

		username := reportOwnerName(c, predictions, ownerID)
		data, err := reports.History(username, preds)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate report"})
			return
		}

		servePDF(c, fmt.Sprintf("predictions_%s.pdf", username), data)
	}
}

// reportOwnerName resolves a display name for report headers, falling back to
// the raw account id.
func reportOwnerName(c *gin.Context, predictions *usecase.PredictionUseCase, ownerID string) string {
	owner, err := predictions.Owner(c.Request.Context(), ownerID)
	if err != nil {
		return ownerID
	}
	return owner.Username
}

func servePDF(c *gin.Context, filename string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", data)
}

type signupRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" binding:"required"`
}

func signup(accounts *usecase.AccountUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email, username and password are required"})
			return
		}
		if req.Password != req.PasswordConfirm {
			c.JSON(http.StatusBadRequest, gin.H{"error": "passwords do not match"})
			return
		}

		pending, err := accounts.RequestSignup(c.Request.Context(), req.Email, req.Username, req.Password)
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateEmail) {
				c.JSON(http.StatusConflict, gin.H{"error": "email or username already in use"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"pending_id": pending.ID})
	}
}

type verifyRequest struct {
	PendingID    string `json:"pending_id" binding:"required"`
	OTP          string `json:"otp" binding:"required,len=6"`
	IdentityCode string `json:"identity_code"`
	PhoneNumber  string `json:"phone_number"`
}

func verify(accounts *usecase.AccountUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pending_id and otp are required"})
			return
		}

		user, err := accounts.Verify(c.Request.Context(), req.PendingID, req.OTP, req.IdentityCode, req.PhoneNumber)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrInvalidCode):
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid one-time code"})
			case errors.Is(err, usecase.ErrInvalidIdentity):
				c.JSON(http.StatusBadRequest, gin.H{"error": "identity code or phone number is malformed"})
			case errors.Is(err, repository.ErrDuplicateIdentity):
				c.JSON(http.StatusConflict, gin.H{"error": "identity already bound to another account"})
			case errors.Is(err, repository.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "pending registration not found"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
			}
			return
		}

		c.JSON(http.StatusCreated, gin.H{"user_id": user.ID, "username": user.Username})
	}
}

func deleteAccount(accounts *usecase.AccountUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		if err := accounts.DeleteAccount(c.Request.Context(), userID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "account deletion failed"})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func login(accounts *usecase.AccountUseCase) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		token, user, err := accounts.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token, "user_id": user.ID})
	}
}
