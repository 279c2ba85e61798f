package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/example/idcompare/internal/auth"
	"github.com/example/idcompare/internal/identity"
	"github.com/example/idcompare/internal/usecase"
)

const (
	// MaxUploadSize caps a single uploaded image.
	MaxUploadSize = 10 << 20
	// MaxUploadImages caps the images accepted by text extraction.
	MaxUploadImages = 4

	maxRequestSize = MaxUploadImages*MaxUploadSize + 1<<20
)

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

// ComparisonService is the use case surface the HTTP layer depends on.
type ComparisonService interface {
	Compare(ctx context.Context, userID string, docA, docB usecase.Document) (*usecase.Comparison, error)
	FaceSimilarity(ctx context.Context, userID string, docA, docB usecase.Document) (*usecase.FaceComparison, error)
	ExtractText(ctx context.Context, userID string, docs []usecase.Document) ([]identity.Record, error)
	GetResult(ctx context.Context, userID, requestID string) (*usecase.Comparison, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc ComparisonService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", limitRequestBody(maxRequestSize), authMiddleware)

	api.POST("/compare", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		docA, docB, ok := readPair(c)
		if !ok {
			return
		}

		result, err := svc.Compare(c.Request.Context(), userID, docA, docB)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("error processing comparison: %v", err)})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.POST("/face-similarity", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		docA, docB, ok := readPair(c)
		if !ok {
			return
		}

		result, err := svc.FaceSimilarity(c.Request.Context(), userID, docA, docB)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("error processing face similarity: %v", err)})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.POST("/text-extraction", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		form, err := c.MultipartForm()
		if err != nil {
			abortUpload(c, classifyFormError(err, "images"))
			return
		}
		files := form.File["images"]
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least one image is required"})
			return
		}
		if len(files) > MaxUploadImages {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d images are accepted", MaxUploadImages)})
			return
		}

		docs := make([]usecase.Document, 0, len(files))
		for _, fh := range files {
			doc, err := readFile(fh)
			if err != nil {
				abortUpload(c, err)
				return
			}
			docs = append(docs, doc)
		}

		records, err := svc.ExtractText(c.Request.Context(), userID, docs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("error extracting text: %v", err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"extracted_text": records})
	})

	api.GET("/result/:id", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		result, err := svc.GetResult(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			lookupFailed(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	})

	api.GET("/result/:id/duplicates", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		report, err := svc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			lookupFailed(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	})

	api.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func limitRequestBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", false
	}
	return userID, true
}

func readPair(c *gin.Context) (usecase.Document, usecase.Document, bool) {
	docA, err := readFormFile(c, "image1")
	if err != nil {
		abortUpload(c, err)
		return usecase.Document{}, usecase.Document{}, false
	}
	docB, err := readFormFile(c, "image2")
	if err != nil {
		abortUpload(c, err)
		return usecase.Document{}, usecase.Document{}, false
	}
	return docA, docB, true
}

func readFormFile(c *gin.Context, field string) (usecase.Document, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return usecase.Document{}, classifyFormError(err, field)
	}
	return readFile(fh)
}

func readFile(fh *multipart.FileHeader) (usecase.Document, error) {
	if fh.Size > MaxUploadSize {
		return usecase.Document{}, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("%s exceeds the %d byte limit", fh.Filename, MaxUploadSize)}
	}

	src, err := fh.Open()
	if err != nil {
		return usecase.Document{}, &uploadError{http.StatusBadRequest, "unable to open image"}
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return usecase.Document{}, &uploadError{http.StatusInternalServerError, "failed to read image"}
	}
	if len(data) > MaxUploadSize {
		return usecase.Document{}, &uploadError{http.StatusRequestEntityTooLarge, fmt.Sprintf("%s exceeds the %d byte limit", fh.Filename, MaxUploadSize)}
	}

	detected := mimetype.Detect(data)
	if !isAllowedImage(detected) {
		return usecase.Document{}, &uploadError{http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported image type %s", detected.String())}
	}

	return usecase.Document{
		Filename:    filepath.Base(fh.Filename),
		ContentType: detected.String(),
		Data:        data,
	}, nil
}

func isAllowedImage(detected *mimetype.MIME) bool {
	for _, allowed := range allowedImageTypes {
		if detected.Is(allowed) {
			return true
		}
	}
	return false
}

func classifyFormError(err error, field string) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return &uploadError{http.StatusRequestEntityTooLarge, "request body too large"}
	}
	return &uploadError{http.StatusBadRequest, fmt.Sprintf("%s file is required", field)}
}

func abortUpload(c *gin.Context, err error) {
	var upErr *uploadError
	if errors.As(err, &upErr) {
		c.JSON(upErr.status, gin.H{"error": upErr.message})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func lookupFailed(c *gin.Context, err error) {
	if errors.Is(err, usecase.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
}
