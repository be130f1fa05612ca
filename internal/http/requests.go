package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/kisansaathi/farmdata-service/internal/location"
	"github.com/kisansaathi/farmdata-service/internal/models"
	"github.com/kisansaathi/farmdata-service/internal/validation"
)

// Field bounds for names in requests.
const (
	minNameLen   = 2
	maxNameLen   = 60
	maxMarketLen = 80
	maxUserIDLen = 128
	maxGPSFixes  = 10
)

// fieldError is a request problem reported as 400 with its code.
type fieldError struct {
	code    string
	message string
}

func (e *fieldError) Error() string { return e.message }

func invalid(code, format string, args ...any) error {
	return &fieldError{code: code, message: fmt.Sprintf(format, args...)}
}

func nameError(field string, err error) error {
	switch {
	case errors.Is(err, validation.ErrFieldEmpty):
		return invalid("INVALID_REQUEST", "%s is required", field)
	case errors.Is(err, validation.ErrFieldTooShort), errors.Is(err, validation.ErrFieldTooLong):
		return invalid("INVALID_REQUEST", "%s has an invalid length", field)
	default:
		return invalid("INVALID_REQUEST", "%s contains invalid characters", field)
	}
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return jsonError(err)
	}
	return nil
}

func jsonError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	return invalid("INVALID_JSON", "malformed JSON body")
}

// parsePriceQuery reads cropType, state and market from the query string, or
// for POST from a JSON or form body.
func parsePriceQuery(r *http.Request) (models.PriceQuery, error) {
	var raw models.PriceQuery
	switch {
	case r.Method == http.MethodPost && isJSON(r):
		if err := decodeJSON(r, &raw); err != nil {
			return models.PriceQuery{}, err
		}
	case r.Method == http.MethodPost:
		if err := r.ParseForm(); err != nil {
			return models.PriceQuery{}, invalid("INVALID_REQUEST", "malformed form body")
		}
		raw = models.PriceQuery{Commodity: r.PostForm.Get("cropType"), State: r.PostForm.Get("state"), Market: r.PostForm.Get("market")}
	default:
		q := r.URL.Query()
		raw = models.PriceQuery{Commodity: q.Get("cropType"), State: q.Get("state"), Market: q.Get("market")}
	}

	var (
		out models.PriceQuery
		err error
	)
	if out.Commodity, err = validation.ValidateName(raw.Commodity, minNameLen, maxNameLen); err != nil {
		return models.PriceQuery{}, nameError("cropType", err)
	}
	if out.State, err = validation.ValidateName(raw.State, minNameLen, maxNameLen); err != nil {
		return models.PriceQuery{}, nameError("state", err)
	}
	if out.Market, err = validation.ValidateOptionalName(raw.Market, minNameLen, maxMarketLen); err != nil {
		return models.PriceQuery{}, nameError("market", err)
	}
	return out, nil
}

// parseCoordinates reads lat, lon and the optional state hint from the query.
func parseCoordinates(r *http.Request) (lat, lon float64, state string, err error) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(q.Get("lat")), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(q.Get("lon")), 64)
	if latErr != nil || lonErr != nil || validation.ValidateCoordinates(lat, lon) != nil {
		return 0, 0, "", invalid("INVALID_COORDINATES", "lat and lon must be valid WGS84 coordinates")
	}
	if state, err = validation.ValidateOptionalName(q.Get("state"), minNameLen, maxNameLen); err != nil {
		return 0, 0, "", nameError("state", err)
	}
	return lat, lon, state, nil
}

type manualInput struct {
	UserID  string   `json:"userId,omitempty"`
	City    string   `json:"city"`
	State   string   `json:"state"`
	Country string   `json:"country,omitempty"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

// record converts the input, requiring both coordinates.
func (m manualInput) record() (models.LocationRecord, error) {
	city, err := validation.ValidateName(m.City, 1, maxNameLen)
	if err != nil {
		return models.LocationRecord{}, nameError("city", err)
	}
	state, err := validation.ValidateName(m.State, minNameLen, maxNameLen)
	if err != nil {
		return models.LocationRecord{}, nameError("state", err)
	}
	country, err := validation.ValidateOptionalName(m.Country, minNameLen, maxNameLen)
	if err != nil {
		return models.LocationRecord{}, nameError("country", err)
	}
	if m.Lat == nil || m.Lon == nil {
		return models.LocationRecord{}, invalid("INVALID_COORDINATES", "lat and lon are required")
	}
	if validation.ValidateCoordinates(*m.Lat, *m.Lon) != nil {
		return models.LocationRecord{}, invalid("INVALID_COORDINATES", "lat and lon must be valid WGS84 coordinates")
	}
	return models.LocationRecord{City: city, State: state, Country: country, Lat: *m.Lat, Lon: *m.Lon}, nil
}

type resolveRequest struct {
	UserID      string `json:"userId"`
	IPAddress   string `json:"ipAddress"`
	UserAgent   string `json:"userAgent"`
	TimeZone    string `json:"timeZone"`
	Language    string `json:"language"`
	NetworkInfo string `json:"networkInfo"`
	GPS         *struct {
		Fixes []location.Fix `json:"fixes"`
	} `json:"gps"`
	Manual *manualInput `json:"manual"`
}

// parseResolveRequest builds cascade signals. An empty body is allowed and
// means "use what the connection tells us".
func parseResolveRequest(r *http.Request) (location.Signals, error) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return location.Signals{}, jsonError(err)
	}
	if len(strings.TrimSpace(req.UserID)) > maxUserIDLen {
		return location.Signals{}, invalid("INVALID_REQUEST", "userId is too long")
	}

	sig := location.Signals{
		UserID:      strings.TrimSpace(req.UserID),
		IPAddress:   strings.TrimSpace(req.IPAddress),
		UserAgent:   req.UserAgent,
		TimeZone:    strings.TrimSpace(req.TimeZone),
		Language:    req.Language,
		NetworkInfo: req.NetworkInfo,
	}
	if sig.IPAddress == "" {
		sig.IPAddress = clientIP(r)
	}
	if sig.UserAgent == "" {
		sig.UserAgent = r.UserAgent()
	}
	if req.GPS != nil && len(req.GPS.Fixes) > 0 {
		fixes := req.GPS.Fixes
		if len(fixes) > maxGPSFixes {
			fixes = fixes[:maxGPSFixes]
		}
		sig.GPS = location.NewSliceFixes(fixes)
	}
	if req.Manual != nil {
		// An unusable manual entry is left for the cascade to reject so the
		// request still resolves from the other signals.
		rec := models.LocationRecord{City: req.Manual.City, State: req.Manual.State, Country: req.Manual.Country}
		if req.Manual.Lat != nil && req.Manual.Lon != nil {
			rec.Lat, rec.Lon = *req.Manual.Lat, *req.Manual.Lon
		}
		sig.Manual = &rec
	}
	return sig, nil
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
