package model

import "encoding/json"

const (
	RecordTypeSuccess = 1
	RecordTypeFailure = 2
)

// LogPayload is a record accepted by the logs endpoint.
type LogPayload interface {
	logPayload()
}

// RequestLogRecord describes a completed request/response exchange.
type RequestLogRecord struct {
	UserAgent       string `json:"request_user_agent"`
	Host            string `json:"request_host"`
	Method          string `json:"request_method"`
	Payload         any    `json:"payload,omitempty"`
	Protocol        string `json:"protocol"`
	URL             string `json:"request_url"`
	StatusCode      int    `json:"status_code"`
	StatusMessage   string `json:"status_message"`
	ContentLength   string `json:"content_length"`
	RequestedAt     string `json:"requested_at"`
	RemoteAddress   string `json:"remote_address"`
	ClientIP        string `json:"request_ip"`
	ResponseMessage string `json:"response_message"`
	ProcessTime     string `json:"process_time"`
}

// Type is 1 for a 200 response and 2 for anything else.
func (r RequestLogRecord) Type() int {
	if r.StatusCode == 200 {
		return RecordTypeSuccess
	}
	return RecordTypeFailure
}

func (r RequestLogRecord) MarshalJSON() ([]byte, error) {
	type plain RequestLogRecord
	return json.Marshal(struct {
		plain
		Type int `json:"type"`
	}{plain: plain(r), Type: r.Type()})
}

func (RequestLogRecord) logPayload() {}

type FailedRequestMeta struct {
	Meta any `json:"meta"`
}

// FailedRequestRecord is the reduced shape sent for non-2xx responses.
type FailedRequestRecord struct {
	RequestURL    string            `json:"request_url"`
	RequestMethod string            `json:"request_method"`
	Payload       any               `json:"payload"`
	Meta          FailedRequestMeta `json:"meta"`
}

func (FailedRequestRecord) logPayload() {}
