// Package statesync keeps local mirrors of fleet state in step with the
// server by polling full snapshots, without clobbering edits an operator is
// composing.
package statesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/outlet"
)

// Client makes typed calls against the fleet server.
type Client struct {
	base       string
	http       *http.Client
	adminToken string
}

// NewClient creates a client for the server at baseURL. A nil httpClient
// uses a client with a 10 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// SetAdminToken sets the token sent with admin power commands.
func (c *Client) SetAdminToken(token string) {
	c.adminToken = token
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.base
}

type envelope struct {
	Error   bool              `json:"error"`
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Field   string            `json:"field"`
	Fields  map[string]string `json:"fields"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, headers ...string) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("unexpected %s response: %w", resp.Status, err)}
	}
	if env.Error {
		return &APIError{
			Status:  resp.StatusCode,
			Code:    env.Code,
			Message: env.Message,
			Field:   env.Field,
			Fields:  env.Fields,
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}

func cabinetPath(ip string, rest ...string) string {
	return "/cabinets/" + url.PathEscape(ip) + strings.Join(rest, "")
}

// filePath escapes each segment of a catalog file for use after a prefix.
func filePath(prefix, file string) string {
	segments := strings.Split(strings.TrimPrefix(file, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return prefix + "/" + strings.Join(segments, "/")
}

// List fetches every cabinet.
func (c *Client) List(ctx context.Context) ([]netboot.Cabinet, error) {
	var out struct {
		Cabinets []netboot.Cabinet `json:"cabinets"`
	}
	if err := c.do(ctx, http.MethodGet, "/cabinets", nil, &out); err != nil {
		return nil, err
	}
	return out.Cabinets, nil
}

// Status fetches the live status of one cabinet.
func (c *Client) Status(ctx context.Context, ip string) (netboot.CabinetStatus, error) {
	var out netboot.CabinetStatus
	err := c.do(ctx, http.MethodGet, cabinetPath(ip), nil, &out)
	return out, err
}

// Create registers a cabinet. Invalid input is rejected without a request.
func (c *Client) Create(ctx context.Context, nc netboot.NewCabinet) (netboot.Cabinet, error) {
	if err := nc.Validate(); err != nil {
		return netboot.Cabinet{}, err
	}
	var out netboot.Cabinet
	err := c.do(ctx, http.MethodPut, cabinetPath(nc.IP), nc, &out)
	return out, err
}

// Update applies a partial update. Invalid input is rejected without a request.
func (c *Client) Update(ctx context.Context, ip string, u netboot.CabinetUpdate) (netboot.Cabinet, error) {
	if !netboot.ValidateIP(ip) {
		return netboot.Cabinet{}, netboot.ValidationErrors{"ip": "invalid IP address"}
	}
	if err := u.Validate(); err != nil {
		return netboot.Cabinet{}, err
	}
	var out netboot.Cabinet
	err := c.do(ctx, http.MethodPost, cabinetPath(ip), u, &out)
	return out, err
}

// Remove deletes a cabinet.
func (c *Client) Remove(ctx context.Context, ip string) error {
	return c.do(ctx, http.MethodDelete, cabinetPath(ip), nil, nil)
}

// SelectGame sets the game a cabinet boots; an empty filename clears it.
func (c *Client) SelectGame(ctx context.Context, ip, filename string) (netboot.Cabinet, error) {
	req := map[string]interface{}{"filename": nil}
	if filename != "" {
		req["filename"] = filename
	}
	var out netboot.Cabinet
	err := c.do(ctx, http.MethodPost, cabinetPath(ip, "/filename"), req, &out)
	return out, err
}

// ReportStatus records a boot subsystem status.
func (c *Client) ReportStatus(ctx context.Context, ip string, status netboot.Status, progress int) (netboot.CabinetStatus, error) {
	var out netboot.CabinetStatus
	err := c.do(ctx, http.MethodPost, cabinetPath(ip, "/status"),
		map[string]interface{}{"status": status, "progress": progress}, &out)
	return out, err
}

// Info fetches firmware metadata. An unavailable device yields Available false.
func (c *Client) Info(ctx context.Context, ip string) (netboot.Info, error) {
	var out netboot.Info
	err := c.do(ctx, http.MethodGet, cabinetPath(ip, "/info"), nil, &out)
	return out, err
}

// Games fetches the per-cabinet game availability.
func (c *Client) Games(ctx context.Context, ip string) ([]netboot.Game, error) {
	var out struct {
		Games []netboot.Game `json:"games"`
	}
	if err := c.do(ctx, http.MethodGet, cabinetPath(ip, "/games"), nil, &out); err != nil {
		return nil, err
	}
	return out.Games, nil
}

// UpdateGames saves per-cabinet game availability.
func (c *Client) UpdateGames(ctx context.Context, ip string, games []netboot.Game) ([]netboot.Game, error) {
	var out struct {
		Games []netboot.Game `json:"games"`
	}
	err := c.do(ctx, http.MethodPost, cabinetPath(ip, "/games"), map[string]interface{}{"games": games}, &out)
	if err != nil {
		return nil, err
	}
	return out.Games, nil
}

type powerBody struct {
	PowerState outlet.PowerState `json:"power_state"`
}

// Power queries the live power state.
func (c *Client) Power(ctx context.Context, ip string) (outlet.PowerState, error) {
	var out powerBody
	err := c.do(ctx, http.MethodGet, cabinetPath(ip, "/power"), nil, &out)
	return out.PowerState, err
}

// SetPower turns a cabinet on or off.
func (c *Client) SetPower(ctx context.Context, ip string, on, admin bool) (outlet.PowerState, error) {
	state := "off"
	if on {
		state = "on"
	}
	var headers []string
	if admin && c.adminToken != "" {
		headers = []string{netboot.AdminTokenHeader, c.adminToken}
	}
	var out powerBody
	err := c.do(ctx, http.MethodPost, cabinetPath(ip, "/power/", state),
		map[string]bool{"admin": admin}, &out, headers...)
	return out.PowerState, err
}

// SetOutlet saves an outlet and its flags. Invalid fields are rejected
// without a request.
func (c *Client) SetOutlet(ctx context.Context, ip string, u netboot.OutletUpdate) (netboot.OutletState, error) {
	if errs := outlet.Validate(u.Outlet); errs != nil {
		return netboot.OutletState{}, errs
	}
	var out netboot.OutletState
	err := c.do(ctx, http.MethodPost, cabinetPath(ip, "/outlet"), u, &out)
	return out, err
}

// Roms lists the game catalog by directory.
func (c *Client) Roms(ctx context.Context) ([]netboot.DirEntry, error) {
	return c.listing(ctx, "/roms", "roms")
}

// Patches lists every patch by directory.
func (c *Client) Patches(ctx context.Context) ([]netboot.DirEntry, error) {
	return c.listing(ctx, "/patches", "patches")
}

// SRAMs lists every SRAM file by directory.
func (c *Client) SRAMs(ctx context.Context) ([]netboot.DirEntry, error) {
	return c.listing(ctx, "/srams", "srams")
}

// Settings lists every settings definition by directory.
func (c *Client) Settings(ctx context.Context) ([]netboot.DirEntry, error) {
	return c.listing(ctx, "/settings", "settings")
}

// PatchesFor lists the patches applicable to a game.
func (c *Client) PatchesFor(ctx context.Context, file string) ([]netboot.DirEntry, error) {
	return c.listing(ctx, filePath("/patches", file), "patches")
}

// SRAMsFor lists the SRAM files applicable to a game.
func (c *Client) SRAMsFor(ctx context.Context, file string) ([]netboot.DirEntry, error) {
	return c.listing(ctx, filePath("/srams", file), "srams")
}

// SettingsFor lists the settings definitions applicable to a game.
func (c *Client) SettingsFor(ctx context.Context, file string) ([]netboot.DirEntry, error) {
	return c.listing(ctx, filePath("/settings", file), "settings")
}

// RecalculatePatches forces the server to rescan patches. With a file it
// answers the refreshed patches applicable to that game.
func (c *Client) RecalculatePatches(ctx context.Context, file string) ([]netboot.DirEntry, error) {
	if file == "" {
		return nil, c.do(ctx, http.MethodDelete, "/patches", nil, nil)
	}
	return c.deleteListing(ctx, filePath("/patches", file), "patches")
}

// RecalculateSRAMs forces the server to rescan SRAM files.
func (c *Client) RecalculateSRAMs(ctx context.Context, file string) ([]netboot.DirEntry, error) {
	if file == "" {
		return nil, c.do(ctx, http.MethodDelete, "/srams", nil, nil)
	}
	return c.deleteListing(ctx, filePath("/srams", file), "srams")
}

// RenameRom sets display names for a game and returns the names in every region.
func (c *Client) RenameRom(ctx context.Context, file string, names map[netboot.Region]string) (map[netboot.Region]string, error) {
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodPost, filePath("/roms", file), names, &out); err != nil {
		return nil, err
	}
	result := make(map[netboot.Region]string, len(netboot.Regions))
	for _, r := range netboot.Regions {
		var name string
		if raw, ok := out[string(r)]; ok && json.Unmarshal(raw, &name) == nil {
			result[r] = name
		}
	}
	return result, nil
}

func (c *Client) listing(ctx context.Context, path, key string) ([]netboot.DirEntry, error) {
	return c.decodeListing(ctx, http.MethodGet, path, key)
}

func (c *Client) deleteListing(ctx context.Context, path, key string) ([]netboot.DirEntry, error) {
	return c.decodeListing(ctx, http.MethodDelete, path, key)
}

func (c *Client) decodeListing(ctx context.Context, method, path, key string) ([]netboot.DirEntry, error) {
	var out map[string]json.RawMessage
	if err := c.do(ctx, method, path, nil, &out); err != nil {
		return nil, err
	}
	var entries []netboot.DirEntry
	if raw, ok := out[key]; ok {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, &TransportError{Op: method + " " + path, Err: err}
		}
	}
	return entries, nil
}
