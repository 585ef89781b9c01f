package outlet

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snmpRaw() Raw {
	return Raw{
		Type:           TypeSNMP,
		Host:           "192.168.1.50",
		QueryOID:       "1.3.6.1.4.1.1.2",
		UpdateOID:      "1.3.6.1.4.1.1.3",
		QueryOnValue:   "1",
		QueryOffValue:  "0",
		UpdateOnValue:  "1",
		UpdateOffValue: "0",
	}
}

func TestValidate_AP7900OutletRange(t *testing.T) {
	errs := Validate(Raw{Type: TypeAP7900, Host: "10.0.0.2", Outlet: "9"})
	require.NotNil(t, errs)
	assert.Contains(t, errs, "outlet")

	assert.Nil(t, Validate(Raw{Type: TypeAP7900, Host: "10.0.0.2", Outlet: "8"}))
	assert.Nil(t, Validate(Raw{Type: TypeAP7900, Host: "10.0.0.2", Outlet: "1"}))
	assert.Contains(t, Validate(Raw{Type: TypeAP7900, Host: "10.0.0.2", Outlet: "0"}), "outlet")
	assert.Contains(t, Validate(Raw{Type: TypeAP7900, Host: "10.0.0.2", Outlet: "x"}), "outlet")
}

func TestValidate_HostMustBeIPv4(t *testing.T) {
	errs := Validate(Raw{Type: TypeAP7900, Host: "pdu.local", Outlet: "1"})
	assert.Contains(t, errs, "host")

	errs = Validate(Raw{Type: TypeNP02B, Host: "10.0.0.256", Outlet: "1"})
	assert.Contains(t, errs, "host")
}

func TestValidate_SNMPValues(t *testing.T) {
	assert.Nil(t, Validate(snmpRaw()))

	r := snmpRaw()
	r.QueryOnValue = "12a"
	assert.Contains(t, Validate(r), "query_on_value")

	r = snmpRaw()
	r.QueryOnValue = "12"
	assert.Nil(t, Validate(r))

	r = snmpRaw()
	r.QueryOID = ""
	r.UpdateOID = "   "
	errs := Validate(r)
	assert.Contains(t, errs, "query_oid")
	assert.Contains(t, errs, "update_oid")

	r = snmpRaw()
	r.UpdateOffValue = "-1"
	assert.Contains(t, Validate(r), "update_off_value")
}

func TestValidate_SNMPDuplicateValues(t *testing.T) {
	r := snmpRaw()
	r.QueryOffValue = r.QueryOnValue
	assert.Contains(t, Validate(r), "query_off_value")
}

func TestValidate_NP02BOutletRange(t *testing.T) {
	assert.Nil(t, Validate(Raw{Type: TypeNP02B, Host: "10.0.0.3", Outlet: "2"}))
	assert.Contains(t, Validate(Raw{Type: TypeNP02B, Host: "10.0.0.3", Outlet: "3"}), "outlet")
}

func TestValidate_NoneIgnoresFields(t *testing.T) {
	assert.Nil(t, Validate(Raw{Type: TypeNone, Host: "garbage", Outlet: "99", QueryOnValue: "abc"}))
}

func TestValidate_UnknownType(t *testing.T) {
	assert.Contains(t, Validate(Raw{Type: "x10"}), "type")
}

func TestParse_AppliesDefaults(t *testing.T) {
	c, errs := Parse(Raw{Type: TypeAP7900, Host: "10.0.0.2", Outlet: "4"})
	require.Nil(t, errs)
	ap, ok := c.(AP7900)
	require.True(t, ok)
	assert.Equal(t, 4, ap.Outlet)
	assert.Equal(t, "public", ap.ReadCommunity)
	assert.Equal(t, "private", ap.WriteCommunity)

	np, err := NewNP02B("10.0.0.3", 2, "", "")
	require.NoError(t, err)
	assert.Equal(t, "admin", np.Username)
	assert.Equal(t, "admin", np.Password)
}

func TestConstructors_RejectInvalid(t *testing.T) {
	_, err := NewAP7900("10.0.0.2", 9)
	assert.Error(t, err)

	_, err = NewNP02B("10.0.0.2", 0, "", "")
	assert.Error(t, err)

	bad := snmpRaw()
	bad.Host = ""
	_, err = NewSNMP(bad)
	var fe FieldErrors
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe, "host")
}

func TestSpecJSON(t *testing.T) {
	var spec Spec
	require.NoError(t, json.Unmarshal([]byte(`{"type":"ap7900","host":"10.0.0.2","outlet":3}`), &spec))
	assert.True(t, spec.Configured())
	assert.Equal(t, TypeAP7900, spec.Type())

	out, err := json.Marshal(spec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ap7900","host":"10.0.0.2","outlet":3,"read_community":"public","write_community":"private"}`, string(out))

	require.NoError(t, json.Unmarshal([]byte(`{"type":"snmp","host":"10.0.0.9","query_oid":"1.2","update_oid":"1.3","query_on_value":"1","query_off_value":"2","update_on_value":1,"update_off_value":2}`), &spec))
	s, ok := spec.Config.(SNMP)
	require.True(t, ok)
	assert.Equal(t, 2, s.UpdateOffValue)

	assert.Error(t, json.Unmarshal([]byte(`{"type":"np-02b","host":"10.0.0.2","outlet":5}`), &spec))

	var none Spec
	require.NoError(t, json.Unmarshal([]byte(`{"type":"none"}`), &none))
	assert.False(t, none.Configured())
}
