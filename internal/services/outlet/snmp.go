package outlet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

// apcOutletOID is the sPDUOutletCtl column of the APC PowerNet MIB.
const apcOutletOID = "1.3.6.1.4.1.318.1.1.12.3.3.1.1.4"

const (
	apcOn  = 1
	apcOff = 2
)

// snmpSession is the subset of gosnmp used by the driver.
type snmpSession interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error)
	Close() error
}

// SNMPDialer opens an SNMP session to a host with the given community.
type SNMPDialer func(ctx context.Context, host, community string, timeout time.Duration) (snmpSession, error)

// gosnmpSession adapts *gosnmp.GoSNMP to snmpSession.
type gosnmpSession struct {
	*gosnmp.GoSNMP
}

func (s gosnmpSession) Close() error {
	if s.Conn == nil {
		return nil
	}
	return s.Conn.Close()
}

func dialSNMP(ctx context.Context, host, community string, timeout time.Duration) (snmpSession, error) {
	g := &gosnmp.GoSNMP{
		Target:    host,
		Port:      161,
		Transport: "udp",
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   1,
		MaxOids:   gosnmp.MaxOids,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", host, err)
	}
	return gosnmpSession{g}, nil
}

// snmpDriver talks to an outlet whose state lives at one OID.
type snmpDriver struct {
	cfg     SNMP
	dial    SNMPDialer
	timeout time.Duration
}

func newSNMPDriver(cfg SNMP, dial SNMPDialer, timeout time.Duration) *snmpDriver {
	if dial == nil {
		dial = dialSNMP
	}
	return &snmpDriver{cfg: cfg, dial: dial, timeout: timeout}
}

// apcConfig expresses an AP7900 outlet as a generic SNMP outlet.
func apcConfig(c AP7900) SNMP {
	oid := apcOutletOID + "." + strconv.Itoa(c.Outlet)
	return SNMP{
		Host:           c.Host,
		QueryOID:       oid,
		UpdateOID:      oid,
		QueryOnValue:   apcOn,
		QueryOffValue:  apcOff,
		UpdateOnValue:  apcOn,
		UpdateOffValue: apcOff,
		ReadCommunity:  c.ReadCommunity,
		WriteCommunity: c.WriteCommunity,
	}
}

func (d *snmpDriver) State(ctx context.Context) (bool, error) {
	session, err := d.dial(ctx, d.cfg.Host, d.cfg.ReadCommunity, d.timeout)
	if err != nil {
		return false, err
	}
	defer func() { _ = session.Close() }()

	packet, err := session.Get([]string{d.cfg.QueryOID})
	if err != nil {
		return false, fmt.Errorf("snmp get %s: %w", d.cfg.QueryOID, err)
	}
	if packet.Error != gosnmp.NoError {
		return false, fmt.Errorf("snmp get %s: %s", d.cfg.QueryOID, packet.Error)
	}
	if len(packet.Variables) == 0 {
		return false, fmt.Errorf("snmp get %s: empty response", d.cfg.QueryOID)
	}

	value, err := pduInt(packet.Variables[0])
	if err != nil {
		return false, err
	}
	switch value {
	case d.cfg.QueryOnValue:
		return true, nil
	case d.cfg.QueryOffValue:
		return false, nil
	}
	return false, fmt.Errorf("snmp get %s: unexpected value %d", d.cfg.QueryOID, value)
}

func (d *snmpDriver) SetState(ctx context.Context, on bool) error {
	session, err := d.dial(ctx, d.cfg.Host, d.cfg.WriteCommunity, d.timeout)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	value := d.cfg.UpdateOffValue
	if on {
		value = d.cfg.UpdateOnValue
	}
	packet, err := session.Set([]gosnmp.SnmpPDU{{
		Name:  d.cfg.UpdateOID,
		Type:  gosnmp.Integer,
		Value: value,
	}})
	if err != nil {
		return fmt.Errorf("snmp set %s: %w", d.cfg.UpdateOID, err)
	}
	if packet.Error != gosnmp.NoError {
		return fmt.Errorf("snmp set %s: %s", d.cfg.UpdateOID, packet.Error)
	}
	return nil
}

// pduInt reads an integer-ish varbind. Some agents answer with a numeric string.
func pduInt(pdu gosnmp.SnmpPDU) (int, error) {
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return 0, fmt.Errorf("snmp get %s: %s", pdu.Name, pdu.Type)
	case gosnmp.OctetString:
		raw, _ := pdu.Value.([]byte)
		n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err != nil {
			return 0, fmt.Errorf("snmp get %s: non-numeric value %q", pdu.Name, raw)
		}
		return n, nil
	}
	return int(gosnmp.ToBigInt(pdu.Value).Int64()), nil
}
