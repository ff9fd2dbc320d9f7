package transport

import (
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/leasepulse/renewal-webhooks/internal/domain"
)

func newObservedApp(t *testing.T) (*fiber.App, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zap.WarnLevel)
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(zap.New(core)),
	})
	return app, logs
}

func TestErrorHandlerStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantLevel  zapcore.Level
	}{
		{
			name:       "fiber error keeps its code",
			err:        fiber.NewError(fiber.StatusBadRequest, "invalid request body"),
			wantStatus: fiber.StatusBadRequest,
			wantLevel:  zapcore.WarnLevel,
		},
		{
			name:       "escaped validation sentinel",
			err:        fmt.Errorf("%w: riskScore must be in [0,100]", domain.ErrValidation),
			wantStatus: fiber.StatusBadRequest,
			wantLevel:  zapcore.WarnLevel,
		},
		{
			name:       "escaped missing endpoint sentinel",
			err:        fmt.Errorf("%w for tenant tnt_1", domain.ErrNoEndpoint),
			wantStatus: fiber.StatusNotFound,
			wantLevel:  zapcore.WarnLevel,
		},
		{
			name:       "escaped conflict sentinel",
			err:        fmt.Errorf("%w: event already exists", domain.ErrConflict),
			wantStatus: fiber.StatusConflict,
			wantLevel:  zapcore.WarnLevel,
		},
		{
			name:       "unclassified error is a server fault",
			err:        fmt.Errorf("connection reset"),
			wantStatus: fiber.StatusInternalServerError,
			wantLevel:  zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, logs := newObservedApp(t)
			app.Get("/boom", func(c *fiber.Ctx) error {
				return tt.err
			})

			resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode error body: %v", err)
			}
			if body["error"] == "" {
				t.Fatal("error body is empty")
			}

			entries := logs.TakeAll()
			if len(entries) != 1 {
				t.Fatalf("logged %d entries, want 1", len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Fatalf("log level = %v, want %v", entries[0].Level, tt.wantLevel)
			}
		})
	}
}
