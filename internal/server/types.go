package server

import (
	"encoding/json"
	"fmt"
	"time"
)

// StringList accepts either a JSON string or an array of strings. The
// notify endpoint's skip_if_page field is documented as "string or array".
type StringList []string

func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*s = nil
		} else {
			*s = StringList{single}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("skip_if_page must be a string or an array of strings")
	}
	*s = StringList(many)
	return nil
}

// UpdateScenesRequest is the body of POST /api/scenes/update. All filter
// fields are optional; an empty filter matches every active scene.
type UpdateScenesRequest struct {
	SceneName string  `json:"scene_name"`
	PageName  string  `json:"page_name"`
	DataKey   string  `json:"data_key"`
	DataValue string  `json:"data_value"`
	Action    string  `json:"action"`
	UserIDs   []int64 `json:"users_id"`
}

// UpdateScenesResponse reports a broadcast outcome.
type UpdateScenesResponse struct {
	Status            string `json:"status"`
	TotalActiveScenes int    `json:"total_active_scenes"`
	UpdatedScenes     int    `json:"updated_scenes"`
}

// NotifyRequest is the body of POST /api/notify.
type NotifyRequest struct {
	UserID     int64      `json:"user_id"`
	Message    string     `json:"message"`
	SkipIfPage StringList `json:"skip_if_page"`
	ReplyTo    int64      `json:"reply_to"`
	ParseMode  string     `json:"parse_mode"`
}

// NotifyResponse reports a notification outcome. Logical failures (skip,
// delivery error) still come back with HTTP 200.
type NotifyResponse struct {
	Status string `json:"status"`
	Sent   bool   `json:"sent"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TouchRequest is the body of POST /api/presence/:item_id/touch.
type TouchRequest struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// PresenceResponse lists the live viewers of one item.
type PresenceResponse struct {
	Status  string   `json:"status"`
	Viewers []string `json:"viewers"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
	Uptime       string    `json:"uptime"`
	ActiveScenes int       `json:"active_scenes"`
	Channels     []string  `json:"channels"`
}

// ErrorResponse is the body of a 4xx reply.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}
