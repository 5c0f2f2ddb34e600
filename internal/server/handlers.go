package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/pipeline"
	"github.com/xkilldash9x/tablecast/internal/table"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Response headers describing how an image was produced.
const (
	HeaderStrategy  = "X-Tablecast-Strategy"
	HeaderStyle     = "X-Tablecast-Style"
	HeaderRequestID = "X-Tablecast-Request-Id"
)

// kindInvalid marks errors rejected before any render started.
const kindInvalid = "invalid_input"

// RenderRequest is the JSON form of a render call.
type RenderRequest struct {
	Table string `json:"table"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	raw, err := s.readTable(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondWithError(w, http.StatusRequestEntityTooLarge, kindInvalid, "request body too large")
			return
		}
		s.respondWithError(w, http.StatusBadRequest, kindInvalid, err.Error())
		return
	}

	spec, err := table.Parse(raw, s.maxLen)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, kindInvalid, err.Error())
		return
	}

	// An expired deadline comes back as a timeout-kind error below.
	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	art, err := s.renderer.Render(ctx, spec)
	if err != nil {
		kind := pipeline.KindOf(err)
		s.logger.Warn("Render request failed.", zap.String("kind", string(kind)), zap.Error(err))
		s.respondWithError(w, statusFor(kind), string(kind), err.Error())
		return
	}

	style := "skipped"
	if art.StyleApplied {
		style = "applied"
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.Header().Set(HeaderStrategy, art.Strategy)
	w.Header().Set(HeaderStyle, style)
	w.Header().Set(HeaderRequestID, art.RequestID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(art.Data); err != nil {
		s.logger.Debug("Client went away while receiving image.", zap.Error(err))
	}
}

// readTable accepts the table as a plain text body or as RenderRequest JSON.
func (s *Server) readTable(w http.ResponseWriter, r *http.Request) (string, error) {
	// Characters can take up to four bytes, plus room for the JSON envelope.
	limit := int64(s.maxLen)*4 + 4096
	body := http.MaxBytesReader(w, r.Body, limit)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var req RenderRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", err
			}
			return "", errors.New("request body is not valid JSON")
		}
		return req.Table, nil
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// statusFor maps a pipeline failure kind to an HTTP status.
func statusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindInfrastructure:
		return http.StatusServiceUnavailable
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message, Kind: kind}); err != nil {
		s.logger.Error("Failed to encode error response.", zap.Error(err))
	}
}
