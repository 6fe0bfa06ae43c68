package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"strdash/util"
)

// maxFormBytes caps a request body
const maxFormBytes = 1 << 20

// errorResponse is the JSON body of a failed dashboard API call.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil && logger != nil {
		logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

// writeFailure writes {success:false,message} with the given status. The
// message is shown to the investigator as is.
func writeFailure(w http.ResponseWriter, statusCode int, message string, logger *zap.SugaredLogger) {
	writeJSON(w, statusCode, errorResponse{Message: message}, logger)
}

// writeError logs the full error and sends a sanitised message.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message,
				"error", util.SanitizeError(err),
				"status_code", statusCode)
		} else {
			logger.Errorw(message, "status_code", statusCode)
		}
	}
	writeFailure(w, statusCode, util.SanitizeString(message), logger)
}

// readForm returns the request fields from a form-encoded or JSON object
// body. JSON values must be strings, numbers or booleans.
func readForm(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		return r.PostForm, nil
	}

	raw := map[string]interface{}{}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&raw); err != nil {
		var syntaxError *json.SyntaxError
		if errors.As(err, &syntaxError) {
			return nil, fmt.Errorf("invalid JSON syntax at byte offset %d", syntaxError.Offset)
		}
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	values := url.Values{}
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			values.Set(k, val)
		case float64, bool:
			values.Set(k, fmt.Sprint(val))
		case nil:
		default:
			return nil, fmt.Errorf("field %q must be a scalar", k)
		}
	}
	return values, nil
}

// getRealIP extracts the client IP, honouring forwarding headers only
// when the server sits behind a trusted proxy.
func getRealIP(r *http.Request, trustProxy bool) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}
	if !trustProxy {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}
	return directIP
}
