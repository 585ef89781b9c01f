// Package network enumerates the IPv4 subnets the server is attached to.
// Cabinets are booted over a directly attached network, so a cabinet address
// outside every local subnet is worth a warning.
package network

import (
	"fmt"
	"net"
	"strings"
)

// Subnet is one IPv4 address of a local interface.
type Subnet struct {
	Interface     string `json:"interface"`
	Address       string `json:"address"`
	CIDR          string `json:"cidr"`
	Broadcast     string `json:"broadcast"`
	InterfaceType string `json:"type"` // "ethernet", "wifi" or "other"

	network *net.IPNet
}

// Contains reports whether ip is inside the subnet.
func (s Subnet) Contains(ip string) bool {
	parsed := net.ParseIP(ip)
	return s.network != nil && parsed != nil && s.network.Contains(parsed)
}

// InterfaceType guesses the type of an interface from its name.
func InterfaceType(ifaceName string) string {
	name := strings.ToLower(ifaceName)

	// Common ethernet naming patterns
	if strings.HasPrefix(name, "eth") ||
		strings.HasPrefix(name, "en") {
		return "ethernet"
	}

	// Common WiFi naming patterns
	if strings.HasPrefix(name, "wlan") ||
		strings.HasPrefix(name, "wl") ||
		strings.Contains(name, "wifi") ||
		strings.Contains(name, "wireless") {
		return "wifi"
	}

	return "other"
}

// calculateBroadcast computes the broadcast address from IP and netmask
func calculateBroadcast(ip net.IP, mask net.IPMask) net.IP {
	if ip == nil || mask == nil {
		return nil
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}
	if len(mask) == 16 {
		mask = mask[12:16]
	}
	if len(mask) != 4 {
		return nil
	}

	broadcast := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		broadcast[i] = ip4[i] | ^mask[i]
	}
	return broadcast
}

// newSubnet builds a Subnet from an interface address. Point-to-point and
// non-IPv4 addresses are skipped.
func newSubnet(iface string, ipNet *net.IPNet) (Subnet, bool) {
	ip4 := ipNet.IP.To4()
	if ip4 == nil {
		return Subnet{}, false
	}
	broadcast := calculateBroadcast(ip4, ipNet.Mask)
	if broadcast == nil || broadcast.Equal(ip4) {
		return Subnet{}, false
	}
	ones, _ := ipNet.Mask.Size()
	network := &net.IPNet{IP: ip4.Mask(ipNet.Mask), Mask: ipNet.Mask}
	return Subnet{
		Interface:     iface,
		Address:       ip4.String(),
		CIDR:          fmt.Sprintf("%s/%d", network.IP, ones),
		Broadcast:     broadcast.String(),
		InterfaceType: InterfaceType(iface),
		network:       network,
	}, true
}

// LocalSubnets returns the IPv4 subnets of every interface that is up,
// excluding loopback.
func LocalSubnets() ([]Subnet, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	var subnets []Subnet
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if s, ok := newSubnet(iface.Name, ipNet); ok {
				subnets = append(subnets, s)
			}
		}
	}
	return subnets, nil
}

// Covering returns the first subnet containing ip.
func Covering(subnets []Subnet, ip string) (Subnet, bool) {
	for _, s := range subnets {
		if s.Contains(ip) {
			return s, true
		}
	}
	return Subnet{}, false
}
