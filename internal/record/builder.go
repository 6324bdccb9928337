// Package record assembles the error and request log records posted to the collector.
package record

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/tuncerburak97/bugatlas/internal/model"
)

// requestedAtLayout mirrors the en-IN locale rendering, e.g. "18/10/2026, 9:38:12 pm".
const requestedAtLayout = "2/1/2006, 3:04:05 pm"

var istLocation = loadIST()

func loadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}

// RequestMeta is the part of the incoming request a record needs.
// Body is copied; the caller may reuse its buffer afterwards.
type RequestMeta struct {
	UserAgent     string
	Origin        string
	Host          string
	Method        string
	Protocol      string
	URL           string
	RemoteAddress string
	ClientIP      string
	Body          []byte
}

type ResponseMeta struct {
	StatusCode    int
	ContentLength int64
}

func BuildErrorRecord(c model.ClassifiedError) model.ErrorRecord {
	rec := model.ErrorRecord{
		ErrorType:    c.Name,
		ErrorMessage: c.Message,
		Meta:         model.ErrorMeta{Trace: c.Stack},
	}
	if rec.ErrorType == "" {
		rec.ErrorType = model.DefaultErrorType
	}
	if rec.ErrorMessage == "" {
		rec.ErrorMessage = model.DefaultErrorMessage
	}
	return rec
}

// ErrorRecords maps every classified error to its record.
func ErrorRecords(classified []model.ClassifiedError) []model.ErrorRecord {
	out := make([]model.ErrorRecord, 0, len(classified))
	for _, c := range classified {
		out = append(out, BuildErrorRecord(c))
	}
	return out
}

func BuildRequestRecord(req RequestMeta, resp ResponseMeta, body []byte, elapsed time.Duration) model.RequestLogRecord {
	host := req.Origin
	if host == "" {
		host = req.Host
	}
	return model.RequestLogRecord{
		UserAgent:       req.UserAgent,
		Host:            host,
		Method:          req.Method,
		Payload:         DecodeBody(req.Body),
		Protocol:        req.Protocol,
		URL:             req.URL,
		StatusCode:      resp.StatusCode,
		StatusMessage:   http.StatusText(resp.StatusCode),
		ContentLength:   strconv.FormatInt(resp.ContentLength, 10) + " bytes",
		RequestedAt:     FormatRequestedAt(time.Now()),
		RemoteAddress:   req.RemoteAddress,
		ClientIP:        req.ClientIP,
		ResponseMessage: ResponseMessage(body),
		ProcessTime:     FormatElapsed(elapsed),
	}
}

func BuildFailedRecord(req RequestMeta, body []byte) model.FailedRequestRecord {
	meta := DecodeBody(body)
	if meta == nil {
		meta = ""
	}
	return model.FailedRequestRecord{
		RequestURL:    req.URL,
		RequestMethod: req.Method,
		Payload:       DecodeBody(req.Body),
		Meta:          model.FailedRequestMeta{Meta: meta},
	}
}

// BuildLogPayload returns the full record for 2xx responses and the reduced one otherwise.
func BuildLogPayload(req RequestMeta, resp ResponseMeta, body []byte, elapsed time.Duration) model.LogPayload {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return BuildRequestRecord(req, resp, body, elapsed)
	}
	return BuildFailedRecord(req, body)
}

func FormatRequestedAt(t time.Time) string {
	return t.In(istLocation).Format(requestedAtLayout)
}

// ResponseMessage reads the string "message" property of a JSON object body.
func ResponseMessage(body []byte) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}
	raw, ok := obj["message"]
	if !ok {
		return ""
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	return msg
}

// DecodeBody returns nil for an empty body, the decoded value for JSON and the raw text otherwise.
func DecodeBody(body []byte) any {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		return v
	}
	return string(body)
}
