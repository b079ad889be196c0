package billing

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrymomot/competitorwatch/handler"
	"github.com/dmitrymomot/competitorwatch/pkg/logger"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type sweepStats struct {
	Found      int `json:"found"`
	Expired    int `json:"expired"`
	EmailsSent int `json:"emailsSent"`
	Errors     int `json:"errors"`
}

type cronResponse struct {
	Status        string      `json:"status"`
	Message       string      `json:"message,omitempty"`
	Error         string      `json:"error,omitempty"`
	Timestamp     string      `json:"timestamp"`
	Stats         *sweepStats `json:"stats,omitempty"`
	ErrorMessages []string    `json:"errorMessages,omitempty"`
	ElapsedMs     int64       `json:"elapsedMs"`
}

// expireTrials runs one trial sweep for an external scheduler.
func (h *routes) expireTrials(ctx handler.Context, _ struct{}) handler.Response {
	start := time.Now()
	now := h.now()

	report, err := h.trials.Sweep(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "trial sweep failed", logger.Error(err))
		return handler.JSONBody(cronResponse{
			Status:    "error",
			Error:     err.Error(),
			Timestamp: h.now().Format(timestampLayout),
			ElapsedMs: time.Since(start).Milliseconds(),
		}, handler.WithJSONStatus(http.StatusInternalServerError))
	}

	elapsed := report.Elapsed
	if elapsed == 0 {
		elapsed = time.Since(start)
	}
	return handler.JSONBody(cronResponse{
		Status:  "success",
		Message: fmt.Sprintf("Expired %d trials, sent %d emails, %d errors", report.Expired, report.EmailsSent, report.Errors),
		Stats: &sweepStats{
			Found:      report.Found,
			Expired:    report.Expired,
			EmailsSent: report.EmailsSent,
			Errors:     report.Errors,
		},
		ErrorMessages: report.ErrorMessages,
		Timestamp:     now.Format(timestampLayout),
		ElapsedMs:     elapsed.Milliseconds(),
	})
}
