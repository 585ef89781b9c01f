package outlet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// np02bDriver talks to the switch's cmd.cgi endpoint.
type np02bDriver struct {
	cfg     NP02B
	client  *http.Client
	baseURL string
}

func newNP02BDriver(cfg NP02B, client *http.Client) *np02bDriver {
	if client == nil {
		client = http.DefaultClient
	}
	return &np02bDriver{cfg: cfg, client: client, baseURL: "http://" + cfg.Host}
}

func (d *np02bDriver) command(ctx context.Context, cmd string) (string, error) {
	// The device expects the literal "$" and percent-encoded spaces.
	url := d.baseURL + "/cmd.cgi?" + strings.ReplaceAll(cmd, " ", "%20")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(d.cfg.Username, d.cfg.Password)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("np-02b %s: %w", d.cfg.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("np-02b %s: HTTP %d", d.cfg.Host, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("np-02b %s: %w", d.cfg.Host, err)
	}
	return strings.TrimSpace(string(body)), nil
}

func (d *np02bDriver) State(ctx context.Context) (bool, error) {
	resp, err := d.command(ctx, "$A5")
	if err != nil {
		return false, err
	}
	// Errors come back as "$Ax"; a status reply is one digit per outlet,
	// highest outlet first.
	if strings.Contains(resp, "$") || len(resp) < 2 {
		return false, fmt.Errorf("np-02b %s: unexpected status %q", d.cfg.Host, resp)
	}
	switch d.cfg.Outlet {
	case 1:
		return resp[1] != '0', nil
	case 2:
		return resp[0] != '0', nil
	}
	return false, fmt.Errorf("np-02b %s: no outlet %d", d.cfg.Host, d.cfg.Outlet)
}

func (d *np02bDriver) SetState(ctx context.Context, on bool) error {
	state := "0"
	if on {
		state = "1"
	}
	resp, err := d.command(ctx, fmt.Sprintf("$A3 %d %s", d.cfg.Outlet, state))
	if err != nil {
		return err
	}
	if strings.HasPrefix(resp, "$AF") {
		return fmt.Errorf("np-02b %s: command rejected", d.cfg.Host)
	}
	return nil
}
