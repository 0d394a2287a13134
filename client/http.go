package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/CUknot/locshare/identity"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/propagator"
)

const defaultTimeout = 15 * time.Second

// HTTPClient talks to the REST API and the /ws stream. It holds the session
// token obtained from Login or Register.
type HTTPClient struct {
	base   *url.URL
	http   *http.Client
	dialer *websocket.Dialer

	mu    sync.RWMutex
	token string
}

type Option func(*HTTPClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

func NewHTTPClient(baseURL string, opts ...Option) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", base.Scheme)
	}
	c := &HTTPClient{
		base:   base,
		http:   &http.Client{Timeout: defaultTimeout},
		dialer: &websocket.Dialer{HandshakeTimeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *HTTPClient) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type authResponse struct {
	User  identity.User `json:"user"`
	Token string        `json:"token"`
}

func (c *HTTPClient) Register(ctx context.Context, username, email, password string) (identity.User, error) {
	var out authResponse
	in := map[string]string{"username": username, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/register", in, &out); err != nil {
		return identity.User{}, err
	}
	c.setToken(out.Token)
	return out.User, nil
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (identity.User, error) {
	var out authResponse
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/login", in, &out); err != nil {
		return identity.User{}, err
	}
	c.setToken(out.Token)
	return out.User, nil
}

func (c *HTTPClient) CurrentUser(ctx context.Context) (identity.User, error) {
	if c.Token() == "" {
		return identity.User{}, identity.ErrUnauthenticated
	}
	var out struct {
		User identity.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return identity.User{}, err
	}
	return out.User, nil
}

// SignOut revokes the token server side and forgets it.
func (c *HTTPClient) SignOut(ctx context.Context) error {
	if c.Token() == "" {
		return identity.ErrUnauthenticated
	}
	if err := c.do(ctx, http.MethodPost, "/api/logout", nil, nil); err != nil {
		return err
	}
	c.setToken("")
	return nil
}

type roomResponse struct {
	Room *models.Room `json:"room"`
}

type roomsResponse struct {
	Rooms []models.Room `json:"rooms"`
}

type locationResponse struct {
	Location *models.Location `json:"location"`
}

func (c *HTTPClient) CreateRoom(ctx context.Context, name string) (*models.Room, error) {
	var out roomResponse
	if err := c.do(ctx, http.MethodPost, "/api/rooms", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return out.Room, nil
}

func (c *HTTPClient) JoinRoom(ctx context.Context, code string) (*models.Room, error) {
	var out roomResponse
	if err := c.do(ctx, http.MethodPost, "/api/rooms/join", map[string]string{"code": code}, &out); err != nil {
		return nil, err
	}
	return out.Room, nil
}

func (c *HTTPClient) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var out roomResponse
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), nil, &out); err != nil {
		return nil, err
	}
	return out.Room, nil
}

func (c *HTTPClient) OwnedRooms(ctx context.Context) ([]models.Room, error) {
	var out roomsResponse
	if err := c.do(ctx, http.MethodGet, "/api/rooms/owned", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (c *HTTPClient) JoinedRooms(ctx context.Context) ([]models.Room, error) {
	var out roomsResponse
	if err := c.do(ctx, http.MethodGet, "/api/rooms/joined", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (c *HTTPClient) DeleteRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(roomID), nil, nil)
}

// LeaveRoom removes the caller's locations from the room.
func (c *HTTPClient) LeaveRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/leave", nil, nil)
}

func (c *HTTPClient) ListLocations(ctx context.Context, roomID string) ([]models.Location, error) {
	var out struct {
		Locations []models.Location `json:"locations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID)+"/locations", nil, &out); err != nil {
		return nil, err
	}
	return out.Locations, nil
}

func (c *HTTPClient) UpsertLivePosition(ctx context.Context, roomID string, lat, lng float64) (*models.Location, error) {
	var out locationResponse
	in := map[string]float64{"latitude": lat, "longitude": lng}
	if err := c.do(ctx, http.MethodPut, "/api/rooms/"+url.PathEscape(roomID)+"/position", in, &out); err != nil {
		return nil, err
	}
	return out.Location, nil
}

func (c *HTTPClient) AddMarker(ctx context.Context, roomID string, lat, lng float64, name, description string) (*models.Location, error) {
	var out locationResponse
	in := map[string]any{"latitude": lat, "longitude": lng, "name": name, "description": description}
	if err := c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/markers", in, &out); err != nil {
		return nil, err
	}
	return out.Location, nil
}

func (c *HTTPClient) DeleteLocation(ctx context.Context, locationID string) error {
	return c.do(ctx, http.MethodDelete, "/api/locations/"+url.PathEscape(locationID), nil, nil)
}

// Subscribe opens the room stream over a websocket.
func (c *HTTPClient) Subscribe(ctx context.Context, roomID string, observer propagator.Observer) (Subscription, error) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	q := url.Values{}
	q.Set("room_id", roomID)
	q.Set("token", c.Token())
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("dial room stream: %w", err)
	}
	return startStream(conn, roomID, observer), nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: payload.Error}
}
