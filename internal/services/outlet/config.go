// Package outlet drives network-controlled power outlets that gate cabinet
// power. Three incompatible hardware protocols sit behind one Driver
// interface, plus a "none" variant for cabinets without an outlet.
package outlet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bbernstein/netboot-go/internal/validate"
)

// Type identifies an outlet protocol.
type Type string

const (
	TypeNone   Type = "none"
	TypeAP7900 Type = "ap7900"
	TypeSNMP   Type = "snmp"
	TypeNP02B  Type = "np-02b"
)

const (
	defaultReadCommunity  = "public"
	defaultWriteCommunity = "private"
	defaultNP02BUsername  = "admin"
	defaultNP02BPassword  = "admin"
)

// Config is a validated outlet configuration. The concrete types are None,
// AP7900, SNMP and NP02B; values of those types are only produced by the
// constructors or Parse, so a Config in hand is always valid.
type Config interface {
	Type() Type
	raw() Raw
}

// None is an unconfigured outlet.
type None struct{}

// AP7900 is an APC switched rack PDU outlet controlled over SNMP.
type AP7900 struct {
	Host           string
	Outlet         int
	ReadCommunity  string
	WriteCommunity string
}

// SNMP is a generic SNMP-controlled outlet.
type SNMP struct {
	Host           string
	QueryOID       string
	UpdateOID      string
	QueryOnValue   int
	QueryOffValue  int
	UpdateOnValue  int
	UpdateOffValue int
	ReadCommunity  string
	WriteCommunity string
}

// NP02B is a two-outlet HTTP-controlled power switch.
type NP02B struct {
	Host     string
	Outlet   int
	Username string
	Password string
}

func (None) Type() Type   { return TypeNone }
func (AP7900) Type() Type { return TypeAP7900 }
func (SNMP) Type() Type   { return TypeSNMP }
func (NP02B) Type() Type  { return TypeNP02B }

// FieldErrors maps a form field to its validation message.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for field := range fe {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+fe[field])
	}
	return "invalid outlet: " + strings.Join(parts, ", ")
}

// Text is a form value that may arrive as a JSON string or number.
type Text string

// UnmarshalJSON accepts strings, numbers and null.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*t = Text(n.String())
	return nil
}

// MarshalJSON emits digit-only values as numbers.
func (t Text) MarshalJSON() ([]byte, error) {
	if validate.Digits(string(t)) {
		if n, err := strconv.Atoi(string(t)); err == nil {
			return []byte(strconv.Itoa(n)), nil
		}
	}
	return json.Marshal(string(t))
}

// Raw is the loosely typed form of an outlet configuration as submitted by
// an operator or stored on disk.
type Raw struct {
	Type           Type   `json:"type" yaml:"type"`
	Host           string `json:"host,omitempty" yaml:"host,omitempty"`
	Outlet         Text   `json:"outlet,omitempty" yaml:"outlet,omitempty"`
	QueryOID       string `json:"query_oid,omitempty" yaml:"query_oid,omitempty"`
	UpdateOID      string `json:"update_oid,omitempty" yaml:"update_oid,omitempty"`
	QueryOnValue   Text   `json:"query_on_value,omitempty" yaml:"query_on_value,omitempty"`
	QueryOffValue  Text   `json:"query_off_value,omitempty" yaml:"query_off_value,omitempty"`
	UpdateOnValue  Text   `json:"update_on_value,omitempty" yaml:"update_on_value,omitempty"`
	UpdateOffValue Text   `json:"update_off_value,omitempty" yaml:"update_off_value,omitempty"`
	ReadCommunity  string `json:"read_community,omitempty" yaml:"read_community,omitempty"`
	WriteCommunity string `json:"write_community,omitempty" yaml:"write_community,omitempty"`
	Username       string `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Validate checks a raw configuration without building it.
func Validate(r Raw) FieldErrors {
	_, errs := Parse(r)
	return errs
}

// Parse validates a raw configuration and builds the matching Config.
// An empty type is treated as none. The returned FieldErrors is nil on success.
func Parse(r Raw) (Config, FieldErrors) {
	errs := FieldErrors{}

	switch r.Type {
	case TypeNone, "":
		return None{}, nil

	case TypeAP7900:
		checkHost(errs, r.Host)
		outlet := checkOutlet(errs, r.Outlet, 1, 8)
		if len(errs) > 0 {
			return nil, errs
		}
		return AP7900{
			Host:           r.Host,
			Outlet:         outlet,
			ReadCommunity:  orDefault(r.ReadCommunity, defaultReadCommunity),
			WriteCommunity: orDefault(r.WriteCommunity, defaultWriteCommunity),
		}, nil

	case TypeSNMP:
		checkHost(errs, r.Host)
		if strings.TrimSpace(r.QueryOID) == "" {
			errs["query_oid"] = "query OID is required"
		}
		if strings.TrimSpace(r.UpdateOID) == "" {
			errs["update_oid"] = "update OID is required"
		}
		qOn := checkValue(errs, "query_on_value", r.QueryOnValue)
		qOff := checkValue(errs, "query_off_value", r.QueryOffValue)
		uOn := checkValue(errs, "update_on_value", r.UpdateOnValue)
		uOff := checkValue(errs, "update_off_value", r.UpdateOffValue)
		if len(errs) == 0 && qOn == qOff {
			errs["query_off_value"] = "query on and off values must differ"
		}
		if len(errs) == 0 && uOn == uOff {
			errs["update_off_value"] = "update on and off values must differ"
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return SNMP{
			Host:           r.Host,
			QueryOID:       strings.TrimSpace(r.QueryOID),
			UpdateOID:      strings.TrimSpace(r.UpdateOID),
			QueryOnValue:   qOn,
			QueryOffValue:  qOff,
			UpdateOnValue:  uOn,
			UpdateOffValue: uOff,
			ReadCommunity:  orDefault(r.ReadCommunity, defaultReadCommunity),
			WriteCommunity: orDefault(r.WriteCommunity, defaultWriteCommunity),
		}, nil

	case TypeNP02B:
		checkHost(errs, r.Host)
		outlet := checkOutlet(errs, r.Outlet, 1, 2)
		if len(errs) > 0 {
			return nil, errs
		}
		return NP02B{
			Host:     r.Host,
			Outlet:   outlet,
			Username: orDefault(r.Username, defaultNP02BUsername),
			Password: orDefault(r.Password, defaultNP02BPassword),
		}, nil
	}

	errs["type"] = fmt.Sprintf("unknown outlet type %q", r.Type)
	return nil, errs
}

// NewAP7900 builds an AP7900 config with default communities.
func NewAP7900(host string, outlet int) (AP7900, error) {
	c, errs := Parse(Raw{Type: TypeAP7900, Host: host, Outlet: Text(strconv.Itoa(outlet))})
	if errs != nil {
		return AP7900{}, errs
	}
	return c.(AP7900), nil
}

// NewNP02B builds an NP-02B config. Empty credentials fall back to admin/admin.
func NewNP02B(host string, outlet int, username, password string) (NP02B, error) {
	c, errs := Parse(Raw{Type: TypeNP02B, Host: host, Outlet: Text(strconv.Itoa(outlet)), Username: username, Password: password})
	if errs != nil {
		return NP02B{}, errs
	}
	return c.(NP02B), nil
}

// NewSNMP builds a generic SNMP config from a raw form with type forced to snmp.
func NewSNMP(r Raw) (SNMP, error) {
	r.Type = TypeSNMP
	c, errs := Parse(r)
	if errs != nil {
		return SNMP{}, errs
	}
	return c.(SNMP), nil
}

func checkHost(errs FieldErrors, host string) {
	if !validate.IPv4(host) {
		errs["host"] = "host must be an IPv4 address"
	}
}

func checkOutlet(errs FieldErrors, v Text, lo, hi int) int {
	n, ok := validate.IntInRange(strings.TrimSpace(string(v)), lo, hi)
	if !ok {
		errs["outlet"] = fmt.Sprintf("outlet must be a number from %d to %d", lo, hi)
	}
	return n
}

func checkValue(errs FieldErrors, field string, v Text) int {
	s := strings.TrimSpace(string(v))
	if !validate.Digits(s) {
		errs[field] = "value must be a non-negative integer"
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		errs[field] = "value is out of range"
	}
	return n
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (None) raw() Raw { return Raw{Type: TypeNone} }

func (c AP7900) raw() Raw {
	return Raw{
		Type:           TypeAP7900,
		Host:           c.Host,
		Outlet:         Text(strconv.Itoa(c.Outlet)),
		ReadCommunity:  c.ReadCommunity,
		WriteCommunity: c.WriteCommunity,
	}
}

func (c SNMP) raw() Raw {
	return Raw{
		Type:           TypeSNMP,
		Host:           c.Host,
		QueryOID:       c.QueryOID,
		UpdateOID:      c.UpdateOID,
		QueryOnValue:   Text(strconv.Itoa(c.QueryOnValue)),
		QueryOffValue:  Text(strconv.Itoa(c.QueryOffValue)),
		UpdateOnValue:  Text(strconv.Itoa(c.UpdateOnValue)),
		UpdateOffValue: Text(strconv.Itoa(c.UpdateOffValue)),
		ReadCommunity:  c.ReadCommunity,
		WriteCommunity: c.WriteCommunity,
	}
}

func (c NP02B) raw() Raw {
	return Raw{
		Type:     TypeNP02B,
		Host:     c.Host,
		Outlet:   Text(strconv.Itoa(c.Outlet)),
		Username: c.Username,
		Password: c.Password,
	}
}

// ToRaw returns the loosely typed form of a config.
func ToRaw(c Config) Raw {
	if c == nil {
		return None{}.raw()
	}
	return c.raw()
}

// Spec wraps a Config so it can be embedded in JSON documents.
type Spec struct {
	Config
}

// Type returns the outlet type, none for an empty spec.
func (s Spec) Type() Type {
	if s.Config == nil {
		return TypeNone
	}
	return s.Config.Type()
}

// Configured reports whether the spec names a real outlet.
func (s Spec) Configured() bool {
	return s.Config != nil && s.Config.Type() != TypeNone
}

// MarshalJSON encodes the config in its raw form.
func (s Spec) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToRaw(s.Config))
}

// UnmarshalJSON decodes and validates a config.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var r Raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	c, errs := Parse(r)
	if errs != nil {
		return errs
	}
	s.Config = c
	return nil
}
