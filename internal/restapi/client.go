package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"haulsync/driver-client/pkg/models"

	"github.com/pkg/errors"
)

var ErrUnauthorized = errors.New("backend rejected the bearer token")

// Client talks to the backend REST API with bearer authentication.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type loginResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	User    models.UserRecord `json:"user"`
}

type roomsResponse struct {
	Success bool                 `json:"success"`
	Error   string               `json:"error"`
	Rooms   []models.RoomSummary `json:"rooms"`
}

type messagesResponse struct {
	Success  bool             `json:"success"`
	Error    string           `json:"error"`
	Messages []models.Message `json:"messages"`
}

type statementsResponse struct {
	Success    bool                      `json:"success"`
	Error      string                    `json:"error"`
	Statements []models.StatementSummary `json:"statements"`
}

type statementDetailsResponse struct {
	Success   bool                    `json:"success"`
	Error     string                  `json:"error"`
	Statement models.StatementDetails `json:"statement"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Login exchanges credentials for a user record carrying the bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (models.UserRecord, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return models.UserRecord{}, err
	}
	var out loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", "", bytes.NewReader(body), "application/json", &out); err != nil {
		return models.UserRecord{}, errors.Wrap(err, "login")
	}
	if !out.Success {
		return models.UserRecord{}, errors.Errorf("login rejected: %s", out.Error)
	}
	return out.User, nil
}

func (c *Client) ListRooms(ctx context.Context, token string) ([]models.RoomSummary, error) {
	var out roomsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/mobile/chat/rooms", token, nil, "", &out); err != nil {
		return nil, errors.Wrap(err, "list rooms")
	}
	if !out.Success {
		return nil, errors.Errorf("list rooms rejected: %s", out.Error)
	}
	return out.Rooms, nil
}

func (c *Client) RoomMessages(ctx context.Context, token, roomID string) ([]models.Message, error) {
	path := "/api/mobile/chat/messages/" + url.PathEscape(roomID)
	var out messagesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, token, nil, "", &out); err != nil {
		return nil, errors.Wrapf(err, "room %s history", roomID)
	}
	if !out.Success {
		return nil, errors.Errorf("room %s history rejected: %s", roomID, out.Error)
	}
	return out.Messages, nil
}

// AttachmentUpload is one file going out with a multipart send.
type AttachmentUpload struct {
	Filename string
	Reader   io.Reader
}

// SendWithAttachments posts an attachment-bearing message over REST; plain
// text sends go over the socket instead.
func (c *Client) SendWithAttachments(ctx context.Context, token, roomID, content string, replyTo *models.ReplyRef, attachments []AttachmentUpload) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("content", content); err != nil {
		return err
	}
	if replyTo != nil {
		ref, err := json.Marshal(replyTo)
		if err != nil {
			return err
		}
		if err := form.WriteField("reply_to", string(ref)); err != nil {
			return err
		}
	}
	for _, att := range attachments {
		part, err := form.CreateFormFile("attachments", att.Filename)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, att.Reader); err != nil {
			return errors.Wrapf(err, "read attachment %s", att.Filename)
		}
	}
	if err := form.Close(); err != nil {
		return err
	}

	path := "/api/mobile/chat/send/" + url.PathEscape(roomID)
	var out ackResponse
	if err := c.doJSON(ctx, http.MethodPost, path, token, &buf, form.FormDataContentType(), &out); err != nil {
		return errors.Wrapf(err, "send to room %s", roomID)
	}
	if !out.Success {
		return errors.Errorf("send to room %s rejected: %s", roomID, out.Error)
	}
	return nil
}

func (c *Client) UpdatePushToken(ctx context.Context, token, driverID, pushToken string) error {
	body, err := json.Marshal(map[string]string{"expo_push_token": pushToken})
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/api/drivers/%s/update_push_token", url.PathEscape(driverID))
	var out ackResponse
	if err := c.doJSON(ctx, http.MethodPost, path, token, bytes.NewReader(body), "application/json", &out); err != nil {
		return errors.Wrap(err, "update push token")
	}
	if !out.Success {
		return errors.Errorf("update push token rejected: %s", out.Error)
	}
	return nil
}

func (c *Client) ClearPushToken(ctx context.Context, token, driverID string) error {
	path := fmt.Sprintf("/api/drivers/%s/clear_push_token", url.PathEscape(driverID))
	var out ackResponse
	if err := c.doJSON(ctx, http.MethodPost, path, token, nil, "", &out); err != nil {
		return errors.Wrap(err, "clear push token")
	}
	if !out.Success {
		return errors.Errorf("clear push token rejected: %s", out.Error)
	}
	return nil
}

func (c *Client) Statements(ctx context.Context, token, driverID string) ([]models.StatementSummary, error) {
	path := "/api/mobile/statements?driver_id=" + url.QueryEscape(driverID)
	var out statementsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, token, nil, "", &out); err != nil {
		return nil, errors.Wrap(err, "statements")
	}
	if !out.Success {
		return nil, errors.Errorf("statements rejected: %s", out.Error)
	}
	return out.Statements, nil
}

func (c *Client) StatementDetails(ctx context.Context, token, statementID string) (models.StatementDetails, error) {
	path := "/api/mobile/statements/details?statement_id=" + url.QueryEscape(statementID)
	var out statementDetailsResponse
	if err := c.doJSON(ctx, http.MethodGet, path, token, nil, "", &out); err != nil {
		return models.StatementDetails{}, errors.Wrap(err, "statement details")
	}
	if !out.Success {
		return models.StatementDetails{}, errors.Errorf("statement details rejected: %s", out.Error)
	}
	return out.Statement, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("backend returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
